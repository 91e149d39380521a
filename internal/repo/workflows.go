package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"flowgen/internal/domain"
)

const workflowColumns = `id,status,user_requirement,context,analyzed_requirement,questions_asked,user_answers,
development_spec,generated_json,test_results,final_json,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (domain.WorkflowRequest, error) {
	var (
		w                                  domain.WorkflowRequest
		extra, analyzed, questions, answers sql.NullString
		spec, generated, results, final    sql.NullString
	)
	err := row.Scan(&w.ID, &w.Status, &w.UserRequirement, &extra, &analyzed, &questions, &answers,
		&spec, &generated, &results, &final, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.Context = extra.String
	w.DevelopmentSpec = spec.String
	w.GeneratedJSON = generated.String
	w.FinalJSON = final.String
	if err := decodeColumn(analyzed, &w.AnalyzedRequirement); err != nil {
		return w, err
	}
	if err := decodeColumn(questions, &w.QuestionsAsked); err != nil {
		return w, err
	}
	if err := decodeColumn(answers, &w.UserAnswers); err != nil {
		return w, err
	}
	if err := decodeColumn(results, &w.TestResults); err != nil {
		return w, err
	}
	return w, nil
}

// InsertWorkflow stores a new request and returns its id.
func (r Repo) InsertWorkflow(ctx context.Context, w domain.WorkflowRequest) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO workflow_requests(status,user_requirement,context,created_at,updated_at) VALUES (?,?,?,?,?)`,
		w.Status, w.UserRequirement, nullable(w.Context), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetWorkflow(ctx context.Context, id int64) (domain.WorkflowRequest, error) {
	return scanWorkflow(r.DB.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflow_requests WHERE id=?`, id))
}

// ListWorkflows returns a page of requests, newest first, and the total count.
func (r Repo) ListWorkflows(ctx context.Context, skip, limit int) ([]domain.WorkflowRequest, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_requests`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflow_requests ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		pageLimit(limit), max(skip, 0))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	res := []domain.WorkflowRequest{}
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, w)
	}
	return res, total, rows.Err()
}

// WorkflowUpdate lists the columns to change. Nil fields are left untouched.
type WorkflowUpdate struct {
	Status              *string
	AnalyzedRequirement map[string]any
	QuestionsAsked      []domain.Question
	UserAnswers         []domain.Answer
	DevelopmentSpec     *string
	GeneratedJSON       *string
	TestResults         map[string]any
	FinalJSON           *string
	UpdatedAt           string
}

func (r Repo) UpdateWorkflow(ctx context.Context, id int64, u WorkflowUpdate) error {
	var (
		fields []string
		args   []any
	)
	set := func(col string, v any) {
		fields = append(fields, col+"=?")
		args = append(args, v)
	}
	if u.Status != nil {
		set("status", *u.Status)
	}
	for col, v := range map[string]any{
		"analyzed_requirement": u.AnalyzedRequirement,
		"questions_asked":      u.QuestionsAsked,
		"user_answers":         u.UserAnswers,
		"test_results":         u.TestResults,
	} {
		if isNilValue(v) {
			continue
		}
		enc, err := jsonColumn(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", col, err)
		}
		set(col, enc)
	}
	if u.DevelopmentSpec != nil {
		set("development_spec", *u.DevelopmentSpec)
	}
	if u.GeneratedJSON != nil {
		set("generated_json", *u.GeneratedJSON)
	}
	if u.FinalJSON != nil {
		set("final_json", *u.FinalJSON)
	}
	if u.UpdatedAt != "" {
		set("updated_at", u.UpdatedAt)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE workflow_requests SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func isNilValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return t == nil
	case []domain.Question:
		return t == nil
	case []domain.Answer:
		return t == nil
	}
	return false
}

func pageLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
