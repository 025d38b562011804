package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pavelanni/suppcompanion/internal/model"
)

// DefaultQuestionCategory returns the default question category of a context,
// or nil if the context has none yet.
func (s *Store) DefaultQuestionCategory(ctx context.Context, ref model.ContextRef) (*model.QuestionCategory, error) {
	var qc model.QuestionCategory
	var level int
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT id, name, contextlevel, instanceid FROM question_categories
		 WHERE contextlevel = $1 AND instanceid = $2 AND isdefault = 1
		 ORDER BY id LIMIT 1`, int(ref.Level), ref.InstanceID,
	).Scan(&qc.ID, &qc.Name, &level, &qc.Context.InstanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	qc.Context.Level = model.ContextLevel(level)
	qc.IsDefault = true
	return &qc, nil
}

// QuestionCategoryByName returns the named question category of a context, or nil.
func (s *Store) QuestionCategoryByName(ctx context.Context, ref model.ContextRef, name string) (*model.QuestionCategory, error) {
	var qc model.QuestionCategory
	var isDefault int
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT id, name, isdefault FROM question_categories
		 WHERE contextlevel = $1 AND instanceid = $2 AND name = $3
		 ORDER BY id LIMIT 1`, int(ref.Level), ref.InstanceID, name,
	).Scan(&qc.ID, &qc.Name, &isDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	qc.Context = ref
	qc.IsDefault = isDefault != 0
	return &qc, nil
}

// CreateQuestionCategory adds a question category to a context.
func (s *Store) CreateQuestionCategory(ctx context.Context, qc model.QuestionCategory) (int64, error) {
	return s.insert(ctx,
		`INSERT INTO question_categories (name, contextlevel, instanceid, isdefault) VALUES ($1, $2, $3, $4)`,
		qc.Name, int(qc.Context.Level), qc.Context.InstanceID, boolInt(qc.IsDefault))
}

// CreateQuestion saves a question and its answers.
func (s *Store) CreateQuestion(ctx context.Context, q *model.Question) (int64, error) {
	err := s.InTx(ctx, func(ctx context.Context) error {
		now := s.now()
		id, err := s.insert(ctx,
			`INSERT INTO questions (category, qtype, name, questiontext, questiontextformat, generalfeedback,
				defaultmark, penalty, single, shuffleanswers, answernumbering, correctfeedback,
				partiallycorrectfeedback, incorrectfeedback, shownumcorrect, createdby, timecreated)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			q.CategoryID, q.QType, q.Name, q.QuestionText, q.QuestionTextFormat, q.GeneralFeedback,
			q.DefaultMark, q.Penalty, boolInt(q.Single), boolInt(q.ShuffleAnswers), q.AnswerNumbering,
			q.CorrectFeedback, q.PartiallyCorrectFeedback, q.IncorrectFeedback, boolInt(q.ShowNumCorrect),
			q.CreatedBy, now.Unix())
		if err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
		for i := range q.Answers {
			a := &q.Answers[i]
			a.ID, err = s.insert(ctx,
				`INSERT INTO question_answers (question, answer, fraction, feedback, sortorder) VALUES ($1, $2, $3, $4, $5)`,
				id, a.Text, a.Fraction, a.Feedback, i)
			if err != nil {
				return fmt.Errorf("insert answer %d: %w", i, err)
			}
		}
		q.ID = id
		q.TimeCreated = now
		return nil
	})
	if err != nil {
		return 0, err
	}
	return q.ID, nil
}

// GetQuestion returns a question with its answers, or nil if it does not exist.
func (s *Store) GetQuestion(ctx context.Context, id int64) (*model.Question, error) {
	var q model.Question
	var single, shuffle, shownum int
	var created int64
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT id, category, qtype, name, questiontext, questiontextformat, generalfeedback, defaultmark,
			penalty, single, shuffleanswers, answernumbering, correctfeedback, partiallycorrectfeedback,
			incorrectfeedback, shownumcorrect, createdby, timecreated
		 FROM questions WHERE id = $1`, id,
	).Scan(&q.ID, &q.CategoryID, &q.QType, &q.Name, &q.QuestionText, &q.QuestionTextFormat, &q.GeneralFeedback,
		&q.DefaultMark, &q.Penalty, &single, &shuffle, &q.AnswerNumbering, &q.CorrectFeedback,
		&q.PartiallyCorrectFeedback, &q.IncorrectFeedback, &shownum, &q.CreatedBy, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	q.Single, q.ShuffleAnswers, q.ShowNumCorrect = single != 0, shuffle != 0, shownum != 0
	q.TimeCreated = fromUnix(created)

	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT id, answer, fraction, feedback FROM question_answers WHERE question = $1 ORDER BY sortorder`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.ID, &a.Text, &a.Fraction, &a.Feedback); err != nil {
			return nil, err
		}
		q.Answers = append(q.Answers, a)
	}
	return &q, rows.Err()
}

// QuestionCount returns the number of stored questions.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}
