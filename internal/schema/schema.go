// Package schema describes web service parameters and return values
// declaratively and validates payloads against those descriptions.
//
// A description is a tree of Value, Single and Multiple nodes. The same tree
// validates inbound parameters strictly (Validate) and shapes outbound return
// values (Clean).
package schema

import "fmt"

// ParamType is the cleaning rule applied to a scalar value.
type ParamType int

const (
	// Int is a decimal integer.
	Int ParamType = iota
	// Float is a decimal number.
	Float
	// Bool is a boolean, also accepted as 0/1 or "true"/"false".
	Bool
	// Text is plain text without markup.
	Text
	// Raw is any text, unchanged.
	Raw
	// Alphanum is ASCII letters and digits only.
	Alphanum
	// AlphanumExt is ASCII letters, digits, underscore and hyphen.
	AlphanumExt
	// URL is an absolute http, https or ftp URL, or empty.
	URL
	// Plugin is a frankenstyle plugin name such as "topics" or "boost".
	Plugin
	// SafeDir is a name safe to use as a directory: letters, digits, underscore, hyphen.
	SafeDir
)

func (t ParamType) String() string {
	switch t {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Text:
		return "text"
	case Raw:
		return "raw"
	case Alphanum:
		return "alphanum"
	case AlphanumExt:
		return "alphanumext"
	case URL:
		return "url"
	case Plugin:
		return "plugin"
	case SafeDir:
		return "safedir"
	}
	return fmt.Sprintf("ParamType(%d)", int(t))
}

// Presence says what happens when a field is absent.
type Presence int

const (
	// Required fields must be present.
	Required Presence = iota
	// Optional fields are left out of the result when absent.
	Optional
	// Default fields are filled with the declared default when absent.
	Default
)

// Node is one element of a description tree.
type Node interface {
	presence() Presence
	defaultValue() any
}

// Value describes a scalar.
type Value struct {
	Type     ParamType
	Desc     string
	Presence Presence
	Default  any
}

func (v Value) presence() Presence { return v.Presence }
func (v Value) defaultValue() any  { return v.Default }

// Field is a named member of a Single.
type Field struct {
	Name string
	Node Node
}

// Single describes an object with a fixed, ordered set of fields.
type Single struct {
	Desc     string
	Fields   []Field
	Presence Presence
}

func (s Single) presence() Presence { return s.Presence }
func (s Single) defaultValue() any  { return map[string]any{} }

// Multiple describes a list whose items all match Item.
type Multiple struct {
	Desc     string
	Item     Node
	Presence Presence
}

func (m Multiple) presence() Presence { return m.Presence }
func (m Multiple) defaultValue() any  { return []any{} }

// Req declares a required scalar.
func Req(t ParamType, desc string) Value {
	return Value{Type: t, Desc: desc, Presence: Required}
}

// Opt declares an optional scalar.
func Opt(t ParamType, desc string) Value {
	return Value{Type: t, Desc: desc, Presence: Optional}
}

// Def declares a scalar that falls back to def when absent.
func Def(t ParamType, desc string, def any) Value {
	return Value{Type: t, Desc: desc, Presence: Default, Default: def}
}

// F pairs a field name with its description.
func F(name string, n Node) Field {
	return Field{Name: name, Node: n}
}

// Struct declares a required object.
func Struct(desc string, fields ...Field) Single {
	return Single{Desc: desc, Fields: fields}
}

// List declares a required list.
func List(desc string, item Node) Multiple {
	return Multiple{Desc: desc, Item: item}
}

// OptList declares an optional list.
func OptList(desc string, item Node) Multiple {
	return Multiple{Desc: desc, Item: item, Presence: Optional}
}

// Error is a validation failure at a field path such as "course.customfields[0].value".
type Error struct {
	Path   string
	Reason string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return "invalid parameter value detected: " + e.Reason
	}
	return fmt.Sprintf("invalid parameter value detected (%s: %s)", e.Path, e.Reason)
}

func fieldPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func indexPath(parent string, i int) string {
	return fmt.Sprintf("%s[%d]", parent, i)
}
