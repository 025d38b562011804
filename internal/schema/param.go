package schema

import (
	"encoding/json"
	"errors"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"golang.org/x/net/html"
)

var (
	notAlphanum    = regexp.MustCompile(`[^A-Za-z0-9]`)
	notAlphanumExt = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	pluginName     = regexp.MustCompile(`^[a-z](?:[a-z0-9_]*[a-z0-9])?$`)
)

var (
	errScalar  = errors.New("scalar value expected")
	errInt     = errors.New("integer expected")
	errFloat   = errors.New("number expected")
	errBool    = errors.New("boolean expected")
	errMarkup  = errors.New("markup is not allowed")
	errChars   = errors.New("contains characters that are not allowed")
	errURL     = errors.New("absolute http, https or ftp URL expected")
	errPlugin  = errors.New("plugin name expected")
	errUnknown = errors.New("unknown parameter type")
)

// cleanScalar converts v according to t. In strict mode a value that
// cleaning would alter is rejected instead of converted.
func cleanScalar(t ParamType, v any, strict bool) (any, error) {
	switch v.(type) {
	case map[string]any, []any:
		return nil, errScalar
	}
	switch t {
	case Int:
		return cleanInt(v, strict)
	case Float:
		return cleanFloat(v, strict)
	case Bool:
		return cleanBool(v, strict)
	}

	s, err := scalarString(v)
	if err != nil {
		return nil, err
	}
	var cleaned string
	var reason error
	switch t {
	case Raw:
		return s, nil
	case Text:
		cleaned, reason = StripTags(s), errMarkup
	case Alphanum:
		cleaned, reason = notAlphanum.ReplaceAllString(s, ""), errChars
	case AlphanumExt, SafeDir:
		cleaned, reason = notAlphanumExt.ReplaceAllString(s, ""), errChars
	case URL:
		cleaned, reason = cleanURL(s), errURL
	case Plugin:
		cleaned, reason = cleanPlugin(s), errPlugin
	default:
		return nil, errUnknown
	}
	if strict && cleaned != s {
		return nil, reason
	}
	return cleaned, nil
}

func scalarString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		if x {
			return "1", nil
		}
		return "", nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", errScalar
	}
	return s, nil
}

func cleanInt(v any, strict bool) (int64, error) {
	switch x := v.(type) {
	case string, json.Number:
		s, _ := scalarString(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
			return n, nil
		}
		if strict {
			return 0, errInt
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return int64(f), nil
		}
		return 0, nil
	case float64:
		if strict && x != math.Trunc(x) {
			return 0, errInt
		}
		return int64(x), nil
	case bool:
		if strict {
			return 0, errInt
		}
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, errInt
	}
	return n, nil
}

func cleanFloat(v any, strict bool) (float64, error) {
	switch x := v.(type) {
	case string, json.Number:
		s, _ := scalarString(x)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			if strict {
				return 0, errFloat
			}
			return 0, nil
		}
		return f, nil
	case bool:
		if strict {
			return 0, errFloat
		}
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, errFloat
	}
	return f, nil
}

func cleanBool(v any, strict bool) (bool, error) {
	if s, ok := v.(json.Number); ok {
		v = s.String()
	}
	if strict {
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			switch strings.ToLower(x) {
			case "1", "true":
				return true, nil
			case "0", "false", "":
				return false, nil
			}
			return false, errBool
		case float64:
			if x == 0 || x == 1 {
				return x == 1, nil
			}
			return false, errBool
		}
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		if strict {
			return false, errBool
		}
		return false, nil
	}
	return b, nil
}

// StripTags removes markup from s, keeping text content as written.
func StripTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Raw())
		}
	}
}

func cleanURL(s string) string {
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "http", "https", "ftp":
		return s
	}
	return ""
}

func cleanPlugin(s string) string {
	if s == "" || strings.Contains(s, "__") || !pluginName.MatchString(s) {
		return ""
	}
	return s
}
