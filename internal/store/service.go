package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/pavelanni/suppcompanion/internal/model"
)

const serviceColumns = `id, name, shortname, component, enabled, restrictedusers`

func (s *Store) getService(ctx context.Context, where string, arg any) (*model.ExternalService, error) {
	var svc model.ExternalService
	var enabled, restricted int
	err := s.q(ctx).QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM external_services WHERE `+where, arg).Scan(
		&svc.ID, &svc.Name, &svc.ShortName, &svc.Component, &enabled, &restricted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	svc.Enabled, svc.RestrictedUsers = enabled != 0, restricted != 0
	return &svc, nil
}

// GetService returns an external service by id, or nil.
func (s *Store) GetService(ctx context.Context, id int64) (*model.ExternalService, error) {
	return s.getService(ctx, `id = $1`, id)
}

// GetServiceByName returns an external service by display name, or nil.
func (s *Store) GetServiceByName(ctx context.Context, name string) (*model.ExternalService, error) {
	return s.getService(ctx, `name = $1`, name)
}

// GetServiceByShortName returns an external service by short name, or nil.
func (s *Store) GetServiceByShortName(ctx context.Context, shortname string) (*model.ExternalService, error) {
	return s.getService(ctx, `shortname = $1`, shortname)
}

// CreateService inserts an external service.
func (s *Store) CreateService(ctx context.Context, svc model.ExternalService) (int64, error) {
	id, err := s.insert(ctx,
		`INSERT INTO external_services (name, shortname, component, enabled, restrictedusers, timecreated)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		svc.Name, svc.ShortName, svc.Component, boolInt(svc.Enabled), boolInt(svc.RestrictedUsers), s.unixNow())
	if err != nil {
		return 0, err
	}
	slog.Info("created external service", "id", id, "name", svc.Name)
	return id, nil
}

// UpdateService saves the flags and names of an external service.
func (s *Store) UpdateService(ctx context.Context, svc model.ExternalService) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`UPDATE external_services SET name = $1, shortname = $2, component = $3, enabled = $4, restrictedusers = $5
		 WHERE id = $6`,
		svc.Name, svc.ShortName, svc.Component, boolInt(svc.Enabled), boolInt(svc.RestrictedUsers), svc.ID)
	return err
}

// AddServiceFunction registers a function with a service. Adding twice is a no-op.
func (s *Store) AddServiceFunction(ctx context.Context, serviceID int64, function string) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO external_services_functions (externalserviceid, functionname) VALUES ($1, $2)
		 ON CONFLICT (externalserviceid, functionname) DO NOTHING`, serviceID, function)
	return err
}

// ServiceHasFunction reports whether a service exposes function.
func (s *Store) ServiceHasFunction(ctx context.Context, serviceID int64, function string) (bool, error) {
	return s.exists(ctx,
		`SELECT 1 FROM external_services_functions WHERE externalserviceid = $1 AND functionname = $2`,
		serviceID, function)
}

// ServiceFunctions returns the function names registered with a service.
func (s *Store) ServiceFunctions(ctx context.Context, serviceID int64) ([]string, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT functionname FROM external_services_functions WHERE externalserviceid = $1 ORDER BY functionname`,
		serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// AuthoriseServiceUser allows a user to call a restricted service.
func (s *Store) AuthoriseServiceUser(ctx context.Context, serviceID, userID int64) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO external_services_users (externalserviceid, userid, timecreated) VALUES ($1, $2, $3)
		 ON CONFLICT (externalserviceid, userid) DO NOTHING`, serviceID, userID, s.unixNow())
	return err
}

// IsServiceUser reports whether a user is authorised for a service.
func (s *Store) IsServiceUser(ctx context.Context, serviceID, userID int64) (bool, error) {
	return s.exists(ctx,
		`SELECT 1 FROM external_services_users WHERE externalserviceid = $1 AND userid = $2`, serviceID, userID)
}
