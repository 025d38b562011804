package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/suppcompanion/internal/model"
)

// CreateModule adds a module to the section numbered m.SectionNum. The
// section must exist. A module without a name is named after its type and
// position, e.g. the second quiz of a course is "quiz2".
func (s *Store) CreateModule(ctx context.Context, m *model.Module) (int64, error) {
	sec, err := s.GetSection(ctx, m.CourseID, m.SectionNum)
	if err != nil {
		return 0, err
	}
	if sec == nil {
		return 0, fmt.Errorf("section %d of course %d does not exist", m.SectionNum, m.CourseID)
	}
	m.SectionID = sec.ID

	if m.Name == "" {
		var count int
		if err := s.q(ctx).QueryRowContext(ctx,
			`SELECT COUNT(*) FROM course_modules WHERE course = $1 AND modname = $2`,
			m.CourseID, m.ModName).Scan(&count); err != nil {
			return 0, err
		}
		m.Name = fmt.Sprintf("%s%d", m.ModName, count+1)
	}

	now := s.now()
	id, err := s.insert(ctx,
		`INSERT INTO course_modules (course, section, modname, name, intro, introformat, visible, password, timecreated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.CourseID, m.SectionID, m.ModName, m.Name, m.Intro, m.IntroFormat, boolInt(m.Visible), m.Password, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("insert module: %w", err)
	}
	m.ID = id
	m.TimeCreated = now
	slog.Debug("created module", "id", id, "course", m.CourseID, "modname", m.ModName, "name", m.Name)
	return id, nil
}

const moduleColumns = `m.id, m.course, m.section, s.section, m.modname, m.name, m.intro, m.introformat,
	m.visible, m.password, m.timecreated`

func scanModule(sc interface{ Scan(...any) error }) (model.Module, error) {
	var m model.Module
	var visible int
	var created int64
	err := sc.Scan(&m.ID, &m.CourseID, &m.SectionID, &m.SectionNum, &m.ModName, &m.Name, &m.Intro,
		&m.IntroFormat, &visible, &m.Password, &created)
	m.Visible = visible != 0
	m.TimeCreated = fromUnix(created)
	return m, err
}

// GetModule returns a module by id, or nil if it does not exist.
func (s *Store) GetModule(ctx context.Context, id int64) (*model.Module, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+moduleColumns+` FROM course_modules m JOIN course_sections s ON s.id = m.section
		 WHERE m.id = $1`, id)
	m, err := scanModule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListModules returns the modules of a course ordered by section and creation.
func (s *Store) ListModules(ctx context.Context, courseID int64) ([]model.Module, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT `+moduleColumns+` FROM course_modules m JOIN course_sections s ON s.id = m.section
		 WHERE m.course = $1 ORDER BY s.section, m.id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var modules []model.Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// RenameModule changes a module's display name.
func (s *Store) RenameModule(ctx context.Context, id int64, name string) error {
	_, err := s.q(ctx).ExecContext(ctx, `UPDATE course_modules SET name = $1 WHERE id = $2`, name, id)
	return err
}

// AddQuizSlot appends a question to a quiz and returns the slot number.
func (s *Store) AddQuizSlot(ctx context.Context, quizID, questionID int64, maxMark float64) (int, error) {
	var slot int
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT COALESCE(MAX(slot), 0) + 1 FROM quiz_slots WHERE quizid = $1`, quizID).Scan(&slot)
	if err != nil {
		return 0, err
	}
	if _, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO quiz_slots (quizid, slot, questionid, maxmark) VALUES ($1, $2, $3, $4)`,
		quizID, slot, questionID, maxMark); err != nil {
		return 0, err
	}
	return slot, nil
}

// QuizQuestions returns the question ids of a quiz in slot order.
func (s *Store) QuizQuestions(ctx context.Context, quizID int64) ([]int64, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT questionid FROM quiz_slots WHERE quizid = $1 ORDER BY slot`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
