package store

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"
)

// Site level setting names.
const (
	ConfigEnableWebServices     = "enablewebservices"
	ConfigWebServiceProtocols   = "webserviceprotocols"
	ConfigDefaultQuestionPrefix = "defaultquestioncategoryprefix"
)

// SetConfig upserts a site setting.
func (s *Store) SetConfig(ctx context.Context, name, value string) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO config (name, value) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`,
		name, value,
	)
	return err
}

// GetConfig returns a site setting.
// Returns empty string and nil error if the setting is missing.
func (s *Store) GetConfig(ctx context.Context, name string) (string, error) {
	var value string
	err := s.q(ctx).QueryRowContext(ctx, `SELECT value FROM config WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// ConfigFlag reports whether a boolean site setting is on.
func (s *Store) ConfigFlag(ctx context.Context, name string) (bool, error) {
	v, err := s.GetConfig(ctx, name)
	if err != nil {
		return false, err
	}
	return v != "" && v != "0", nil
}

// EnableProtocol adds a web service protocol to the enabled list.
func (s *Store) EnableProtocol(ctx context.Context, protocol string) error {
	protocols, err := s.Protocols(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(protocols, protocol) {
		return nil
	}
	protocols = append(protocols, protocol)
	return s.SetConfig(ctx, ConfigWebServiceProtocols, strings.Join(protocols, ","))
}

// Protocols returns the enabled web service protocols.
func (s *Store) Protocols(ctx context.Context) ([]string, error) {
	v, err := s.GetConfig(ctx, ConfigWebServiceProtocols)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
