package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/pavelanni/suppcompanion/internal/model"
)

// CreateCategory inserts a course category.
func (s *Store) CreateCategory(ctx context.Context, name string, parent int64) (int64, error) {
	return s.insert(ctx, `INSERT INTO course_categories (name, parent) VALUES ($1, $2)`, name, parent)
}

// GetCategory returns a category by id, or nil if it does not exist.
func (s *Store) GetCategory(ctx context.Context, id int64) (*model.Category, error) {
	var c model.Category
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT id, name, parent FROM course_categories WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.ParentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ShortNameExists reports whether a course already uses shortname.
func (s *Store) ShortNameExists(ctx context.Context, shortname string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM courses WHERE shortname = $1`, shortname)
}

// IDNumberExists reports whether a course already uses idnumber.
func (s *Store) IDNumberExists(ctx context.Context, idnumber string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM courses WHERE idnumber = $1`, idnumber)
}

// CreateCourse inserts a course with its format options and custom field
// values, and creates sections 0 to numsections. The numsections format
// option controls how many sections are created.
func (s *Store) CreateCourse(ctx context.Context, c *model.Course) (int64, error) {
	var id int64
	err := s.InTx(ctx, func(ctx context.Context) error {
		now := s.unixNow()
		var err error
		id, err = s.insert(ctx,
			`INSERT INTO courses (category, fullname, shortname, idnumber, summary, summaryformat, format,
				showgrades, newsitems, startdate, enddate, maxbytes, showreports, visible, groupmode,
				groupmodeforce, defaultgroupingid, enablecompletion, completionnotify, lang, theme,
				timecreated, timemodified)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
			c.CategoryID, c.FullName, c.ShortName, c.IDNumber, c.Summary, c.SummaryFormat, c.Format,
			c.ShowGrades, c.NewsItems, c.StartDate, c.EndDate, c.MaxBytes, c.ShowReports, c.Visible, c.GroupMode,
			c.GroupModeForce, c.DefaultGroupingID, c.EnableCompletion, c.CompletionNotify, c.Lang, c.Theme,
			now, now,
		)
		if err != nil {
			return fmt.Errorf("insert course: %w", err)
		}

		for name, value := range c.FormatOptions {
			if _, err := s.q(ctx).ExecContext(ctx,
				`INSERT INTO course_format_options (courseid, format, name, value) VALUES ($1, $2, $3, $4)`,
				id, c.Format, name, value); err != nil {
				return fmt.Errorf("insert format option %s: %w", name, err)
			}
		}
		for fieldID, value := range c.CustomFields {
			if _, err := s.q(ctx).ExecContext(ctx,
				`INSERT INTO customfield_data (fieldid, instanceid, value) VALUES ($1, $2, $3)`,
				fieldID, id, value); err != nil {
				return fmt.Errorf("insert custom field %d: %w", fieldID, err)
			}
		}

		numSections := 0
		if v, ok := c.FormatOptions["numsections"]; ok {
			numSections, _ = strconv.Atoi(v)
		}
		numSections = max(numSections, 0)
		nums := make([]int, 0, numSections+1)
		for i := 0; i <= numSections; i++ {
			nums = append(nums, i)
		}
		return s.CreateSectionsIfMissing(ctx, id, nums...)
	})
	if err != nil {
		return 0, err
	}
	slog.Info("created course", "id", id, "shortname", c.ShortName, "category", c.CategoryID)
	return id, nil
}

const courseColumns = `id, category, fullname, shortname, idnumber, summary, summaryformat, format,
	showgrades, newsitems, startdate, enddate, maxbytes, showreports, visible, groupmode,
	groupmodeforce, defaultgroupingid, enablecompletion, completionnotify, lang, theme,
	timecreated, timemodified`

func (s *Store) scanCourse(ctx context.Context, where string, arg any) (*model.Course, error) {
	var c model.Course
	var created, modified int64
	err := s.q(ctx).QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE `+where, arg).Scan(
		&c.ID, &c.CategoryID, &c.FullName, &c.ShortName, &c.IDNumber, &c.Summary, &c.SummaryFormat, &c.Format,
		&c.ShowGrades, &c.NewsItems, &c.StartDate, &c.EndDate, &c.MaxBytes, &c.ShowReports, &c.Visible, &c.GroupMode,
		&c.GroupModeForce, &c.DefaultGroupingID, &c.EnableCompletion, &c.CompletionNotify, &c.Lang, &c.Theme,
		&created, &modified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.TimeCreated = fromUnix(created)
	c.TimeModified = fromUnix(modified)

	if c.FormatOptions, err = s.formatOptions(ctx, c.ID, c.Format); err != nil {
		return nil, err
	}
	if c.CustomFields, err = s.customFieldData(ctx, c.ID); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCourse returns a course by id, or nil if it does not exist.
func (s *Store) GetCourse(ctx context.Context, id int64) (*model.Course, error) {
	return s.scanCourse(ctx, `id = $1`, id)
}

// GetCourseByShortName returns a course by short name, or nil if it does not exist.
func (s *Store) GetCourseByShortName(ctx context.Context, shortname string) (*model.Course, error) {
	return s.scanCourse(ctx, `shortname = $1`, shortname)
}

func (s *Store) formatOptions(ctx context.Context, courseID int64, format string) (map[string]string, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT name, value FROM course_format_options WHERE courseid = $1 AND format = $2`, courseID, format)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	opts := map[string]string{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		opts[name] = value
	}
	return opts, rows.Err()
}

func (s *Store) customFieldData(ctx context.Context, courseID int64) (map[int64]string, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT fieldid, value FROM customfield_data WHERE instanceid = $1`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	data := map[int64]string{}
	for rows.Next() {
		var id int64
		var value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, err
		}
		data[id] = value
	}
	return data, rows.Err()
}

// CreateCustomField defines a course custom field.
func (s *Store) CreateCustomField(ctx context.Context, f model.CustomField) (int64, error) {
	return s.insert(ctx,
		`INSERT INTO customfield_fields (shortname, name, locked) VALUES ($1, $2, $3)`,
		f.ShortName, f.Name, boolInt(f.Locked))
}

// CustomFields returns every course custom field definition in id order.
func (s *Store) CustomFields(ctx context.Context) ([]model.CustomField, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT id, shortname, name, locked FROM customfield_fields ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var fields []model.CustomField
	for rows.Next() {
		var f model.CustomField
		var locked int
		if err := rows.Scan(&f.ID, &f.ShortName, &f.Name, &locked); err != nil {
			return nil, err
		}
		f.Locked = locked != 0
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// EditableCustomFields returns the custom fields that can be set on a new
// course, keyed by short name. Locked fields are left out.
func (s *Store) EditableCustomFields(ctx context.Context) (map[string]model.CustomField, error) {
	all, err := s.CustomFields(ctx)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]model.CustomField, len(all))
	for _, f := range all {
		if !f.Locked {
			fields[f.ShortName] = f
		}
	}
	return fields, nil
}

// CourseInfo returns a course with its sections and their modules in order,
// or nil if the course does not exist.
func (s *Store) CourseInfo(ctx context.Context, courseID int64) (*model.CourseInfo, error) {
	c, err := s.GetCourse(ctx, courseID)
	if err != nil || c == nil {
		return nil, err
	}
	sections, err := s.ListSections(ctx, courseID)
	if err != nil {
		return nil, err
	}
	modules, err := s.ListModules(ctx, courseID)
	if err != nil {
		return nil, err
	}
	info := &model.CourseInfo{Course: *c}
	bySection := make(map[int64]int, len(sections))
	for i, sec := range sections {
		bySection[sec.ID] = i
		info.Sections = append(info.Sections, model.SectionInfo{Section: sec})
	}
	for _, m := range modules {
		if i, ok := bySection[m.SectionID]; ok {
			info.Sections[i].Modules = append(info.Sections[i].Modules, m)
		}
	}
	return info, nil
}
