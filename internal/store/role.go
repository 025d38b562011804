package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/pavelanni/suppcompanion/internal/model"
)

var standardRoles = []model.Role{
	{ShortName: "manager", Name: "Manager", Archetype: "manager"},
	{ShortName: "coursecreator", Name: "Course creator", Archetype: "coursecreator"},
	{ShortName: "editingteacher", Name: "Teacher", Archetype: "editingteacher"},
	{ShortName: "teacher", Name: "Non-editing teacher", Archetype: "teacher"},
	{ShortName: "student", Name: "Student", Archetype: "student"},
}

var archetypeCapabilities = map[string][]string{
	"manager": {
		"moodle/course:*",
		"moodle/question:*",
		"moodle/user:viewdetails",
		"mod/*",
	},
	"coursecreator": {
		model.CapCourseCreate,
		"moodle/course:view",
	},
	"editingteacher": {
		model.CapCourseManageActivities,
		"moodle/course:update",
		"moodle/course:view",
		"moodle/question:add",
		"mod/book:addinstance",
		"mod/label:addinstance",
		"mod/quiz:addinstance",
		"mod/quiz:manage",
		"mod/resource:addinstance",
	},
	"teacher": {
		"moodle/course:view",
		"mod/quiz:grade",
	},
	"student": {
		"mod/quiz:attempt",
	},
}

// ArchetypeCapabilities returns the capabilities granted to roles of an archetype.
func ArchetypeCapabilities(archetype string) []string {
	return slices.Clone(archetypeCapabilities[archetype])
}

// CreateRole inserts a role.
func (s *Store) CreateRole(ctx context.Context, r model.Role) (int64, error) {
	return s.insert(ctx,
		`INSERT INTO roles (shortname, name, description, archetype) VALUES ($1, $2, $3, $4)`,
		r.ShortName, r.Name, r.Description, r.Archetype)
}

// GetRoleByShortName returns a role, or nil if it does not exist.
func (s *Store) GetRoleByShortName(ctx context.Context, shortname string) (*model.Role, error) {
	var r model.Role
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT id, shortname, name, description, archetype FROM roles WHERE shortname = $1`, shortname,
	).Scan(&r.ID, &r.ShortName, &r.Name, &r.Description, &r.Archetype)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SetRoleContextLevels restricts where a role may be assigned.
func (s *Store) SetRoleContextLevels(ctx context.Context, roleID int64, levels ...model.ContextLevel) error {
	if _, err := s.q(ctx).ExecContext(ctx, `DELETE FROM role_context_levels WHERE roleid = $1`, roleID); err != nil {
		return err
	}
	for _, l := range levels {
		if _, err := s.q(ctx).ExecContext(ctx,
			`INSERT INTO role_context_levels (roleid, contextlevel) VALUES ($1, $2)`, roleID, int(l)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) roleContextLevels(ctx context.Context, roleID int64) ([]model.ContextLevel, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT contextlevel FROM role_context_levels WHERE roleid = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var levels []model.ContextLevel
	for rows.Next() {
		var l int
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		levels = append(levels, model.ContextLevel(l))
	}
	return levels, rows.Err()
}

// AllowCapability grants a capability to a role. A trailing "*" grants
// every capability with that prefix.
func (s *Store) AllowCapability(ctx context.Context, roleID int64, capability string) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO role_capabilities (roleid, capability) VALUES ($1, $2)
		 ON CONFLICT (roleid, capability) DO NOTHING`, roleID, capability)
	return err
}

// AssignRole gives a user a role in a context. Assigning twice is a no-op.
func (s *Store) AssignRole(ctx context.Context, roleID, userID int64, ref model.ContextRef) error {
	levels, err := s.roleContextLevels(ctx, roleID)
	if err != nil {
		return err
	}
	if len(levels) > 0 && !slices.Contains(levels, ref.Level) {
		return fmt.Errorf("role %d cannot be assigned in %s context", roleID, ref.Level)
	}
	_, err = s.q(ctx).ExecContext(ctx,
		`INSERT INTO role_assignments (roleid, userid, contextlevel, instanceid, timemodified)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (roleid, userid, contextlevel, instanceid) DO NOTHING`,
		roleID, userID, int(ref.Level), ref.InstanceID, s.unixNow())
	return err
}

// Enrol enrols a user in a course through the manual plugin and assigns
// the named role in the course context. Existing enrolments are kept.
func (s *Store) Enrol(ctx context.Context, courseID, userID int64, roleShortName string) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		role, err := s.GetRoleByShortName(ctx, roleShortName)
		if err != nil {
			return err
		}
		if role == nil {
			return fmt.Errorf("role %q does not exist", roleShortName)
		}
		if _, err := s.q(ctx).ExecContext(ctx,
			`INSERT INTO user_enrolments (courseid, userid, enrol, timecreated) VALUES ($1, $2, 'manual', $3)
			 ON CONFLICT (courseid, userid) DO NOTHING`,
			courseID, userID, s.unixNow()); err != nil {
			return err
		}
		return s.AssignRole(ctx, role.ID, userID, model.CourseContext(courseID))
	})
}

// IsEnrolled reports whether a user is enrolled in a course.
func (s *Store) IsEnrolled(ctx context.Context, courseID, userID int64) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM user_enrolments WHERE courseid = $1 AND userid = $2`, courseID, userID)
}

// UserRoles returns the short names of the roles a user holds exactly in ref.
func (s *Store) UserRoles(ctx context.Context, userID int64, ref model.ContextRef) ([]string, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT r.shortname FROM role_assignments ra JOIN roles r ON r.id = ra.roleid
		 WHERE ra.userid = $1 AND ra.contextlevel = $2 AND ra.instanceid = $3 ORDER BY r.id`,
		userID, int(ref.Level), ref.InstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// ContextExists reports whether the instance behind a context exists.
func (s *Store) ContextExists(ctx context.Context, ref model.ContextRef) (bool, error) {
	switch ref.Level {
	case model.ContextSystem:
		return ref.InstanceID == 0, nil
	case model.ContextUser:
		return s.exists(ctx, `SELECT 1 FROM users WHERE id = $1`, ref.InstanceID)
	case model.ContextCategory:
		return s.exists(ctx, `SELECT 1 FROM course_categories WHERE id = $1`, ref.InstanceID)
	case model.ContextCourse:
		return s.exists(ctx, `SELECT 1 FROM courses WHERE id = $1`, ref.InstanceID)
	case model.ContextModule:
		return s.exists(ctx, `SELECT 1 FROM course_modules WHERE id = $1`, ref.InstanceID)
	}
	return false, nil
}

// contextPath returns ref followed by its ancestors up to the system context.
func (s *Store) contextPath(ctx context.Context, ref model.ContextRef) ([]model.ContextRef, error) {
	path := []model.ContextRef{ref}
	var categoryID int64
	switch ref.Level {
	case model.ContextModule:
		var courseID int64
		err := s.q(ctx).QueryRowContext(ctx, `SELECT course FROM course_modules WHERE id = $1`, ref.InstanceID).Scan(&courseID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if courseID != 0 {
			path = append(path, model.CourseContext(courseID))
			if err := s.q(ctx).QueryRowContext(ctx, `SELECT category FROM courses WHERE id = $1`, courseID).Scan(&categoryID); err != nil && !errors.Is(err, sql.ErrNoRows) {
				return nil, err
			}
		}
	case model.ContextCourse:
		err := s.q(ctx).QueryRowContext(ctx, `SELECT category FROM courses WHERE id = $1`, ref.InstanceID).Scan(&categoryID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	case model.ContextCategory:
		cat, err := s.GetCategory(ctx, ref.InstanceID)
		if err != nil {
			return nil, err
		}
		if cat != nil {
			categoryID = cat.ParentID
		}
	}
	for seen := map[int64]bool{}; categoryID != 0 && !seen[categoryID]; {
		seen[categoryID] = true
		cat, err := s.GetCategory(ctx, categoryID)
		if err != nil {
			return nil, err
		}
		if cat == nil {
			break
		}
		path = append(path, model.CategoryContext(cat.ID))
		categoryID = cat.ParentID
	}
	if ref.Level != model.ContextSystem {
		path = append(path, model.SystemContext())
	}
	return path, nil
}

// HasCapability reports whether a user holds capability in ref, through a
// role assigned in ref or in any of its parent contexts. Suspended and
// unknown users hold nothing.
func (s *Store) HasCapability(ctx context.Context, userID int64, capability string, ref model.ContextRef) (bool, error) {
	u, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if u == nil || u.Suspended {
		return false, nil
	}
	path, err := s.contextPath(ctx, ref)
	if err != nil {
		return false, err
	}

	var conds []string
	args := []any{userID}
	for _, c := range path {
		conds = append(conds, fmt.Sprintf("(ra.contextlevel = $%d AND ra.instanceid = $%d)", len(args)+1, len(args)+2))
		args = append(args, int(c.Level), c.InstanceID)
	}
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT DISTINCT rc.capability FROM role_assignments ra
		 JOIN role_capabilities rc ON rc.roleid = ra.roleid
		 WHERE ra.userid = $1 AND (`+strings.Join(conds, " OR ")+`)`, args...)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var pattern string
		if err := rows.Scan(&pattern); err != nil {
			return false, err
		}
		if matchCapability(pattern, capability) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func matchCapability(pattern, capability string) bool {
	if pattern == "*" || pattern == capability {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(capability, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
