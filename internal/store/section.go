package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pavelanni/suppcompanion/internal/model"
)

// CreateSectionsIfMissing creates the numbered sections of a course that do
// not exist yet. Existing sections are left untouched.
func (s *Store) CreateSectionsIfMissing(ctx context.Context, courseID int64, nums ...int) error {
	for _, n := range nums {
		if _, err := s.q(ctx).ExecContext(ctx,
			`INSERT INTO course_sections (course, section) VALUES ($1, $2)
			 ON CONFLICT (course, section) DO NOTHING`,
			courseID, n); err != nil {
			return err
		}
	}
	return nil
}

// GetSection returns a course section by number, or nil if it does not exist.
func (s *Store) GetSection(ctx context.Context, courseID int64, num int) (*model.Section, error) {
	var sec model.Section
	var visible int
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT id, course, section, name, summary, summaryformat, visible
		 FROM course_sections WHERE course = $1 AND section = $2`, courseID, num,
	).Scan(&sec.ID, &sec.CourseID, &sec.Number, &sec.Name, &sec.Summary, &sec.SummaryFormat, &visible)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sec.Visible = visible != 0
	return &sec, nil
}

// UpdateSection saves the display fields of a section.
func (s *Store) UpdateSection(ctx context.Context, sec model.Section) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`UPDATE course_sections SET name = $1, summary = $2, summaryformat = $3, visible = $4 WHERE id = $5`,
		sec.Name, sec.Summary, sec.SummaryFormat, boolInt(sec.Visible), sec.ID)
	return err
}

// ListSections returns the sections of a course ordered by number.
func (s *Store) ListSections(ctx context.Context, courseID int64) ([]model.Section, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT id, course, section, name, summary, summaryformat, visible
		 FROM course_sections WHERE course = $1 ORDER BY section`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sections []model.Section
	for rows.Next() {
		var sec model.Section
		var visible int
		if err := rows.Scan(&sec.ID, &sec.CourseID, &sec.Number, &sec.Name, &sec.Summary, &sec.SummaryFormat, &visible); err != nil {
			return nil, err
		}
		sec.Visible = visible != 0
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

// SectionCount returns how many sections a course has.
func (s *Store) SectionCount(ctx context.Context, courseID int64) (int, error) {
	var count int
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM course_sections WHERE course = $1`, courseID).Scan(&count)
	return count, err
}
