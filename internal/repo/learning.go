package repo

import (
	"context"
	"database/sql"
	"strings"

	"flowgen/internal/domain"
)

const exampleColumns = `id,title,COALESCE(description,''),source,COALESCE(source_url,''),workflow_json,tags,nodes_used,COALESCE(complexity_level,''),stars,learned_at`

func scanExample(row rowScanner) (domain.LearnedExample, error) {
	var (
		e          domain.LearnedExample
		tags, used sql.NullString
	)
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Source, &e.SourceURL, &e.WorkflowJSON, &tags, &used,
		&e.ComplexityLevel, &e.Stars, &e.LearnedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if err := decodeColumn(tags, &e.Tags); err != nil {
		return e, err
	}
	if err := decodeColumn(used, &e.NodesUsed); err != nil {
		return e, err
	}
	return e, nil
}

// InsertExampleTx stores a learned example.
func (r Repo) InsertExampleTx(ctx context.Context, tx *sql.Tx, e domain.LearnedExample) (int64, error) {
	tags, err := jsonColumn(e.Tags)
	if err != nil {
		return 0, err
	}
	used, err := jsonColumn(e.NodesUsed)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO learned_examples(title,description,source,source_url,workflow_json,tags,nodes_used,complexity_level,stars,learned_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.Title, nullable(e.Description), e.Source, nullable(e.SourceURL), e.WorkflowJSON, tags, used,
		nullable(e.ComplexityLevel), e.Stars, e.LearnedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ExampleExistsTx reports whether source already holds an example with the same title or document.
func (r Repo) ExampleExistsTx(ctx context.Context, tx *sql.Tx, source, title, workflowJSON string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM learned_examples WHERE source=? AND (title=? OR workflow_json=?)`,
		source, title, workflowJSON).Scan(&n)
	return n > 0, err
}

func (r Repo) GetExample(ctx context.Context, id int64) (domain.LearnedExample, error) {
	return scanExample(r.DB.QueryRowContext(ctx, `SELECT `+exampleColumns+` FROM learned_examples WHERE id=?`, id))
}

// ListExamples returns examples ranked by stars then recency. An empty source lists all.
func (r Repo) ListExamples(ctx context.Context, skip, limit int, source string) ([]domain.LearnedExample, error) {
	var (
		clauses []string
		args    []any
	)
	if source != "" {
		clauses = append(clauses, "source=?")
		args = append(args, source)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, pageLimit(limit), max(skip, 0))
	rows, err := r.DB.QueryContext(ctx, `SELECT `+exampleColumns+` FROM learned_examples `+where+
		` ORDER BY stars DESC, learned_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.LearnedExample{}
	for rows.Next() {
		e, err := scanExample(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ExampleFacets returns source, complexity and nodes of every example, for statistics.
func (r Repo) ExampleFacets(ctx context.Context) ([]domain.LearnedExample, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT source,COALESCE(complexity_level,''),nodes_used FROM learned_examples`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LearnedExample
	for rows.Next() {
		var (
			e    domain.LearnedExample
			used sql.NullString
		)
		if err := rows.Scan(&e.Source, &e.ComplexityLevel, &used); err != nil {
			return nil, err
		}
		if err := decodeColumn(used, &e.NodesUsed); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// InsertLearningLog opens a run log and returns its id.
func (r Repo) InsertLearningLog(ctx context.Context, l domain.LearningLog) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO learning_logs(learning_type,examples_found,examples_added,status,error_message,started_at,completed_at)
VALUES (?,?,?,?,?,?,?)`,
		l.LearningType, l.ExamplesFound, l.ExamplesAdded, l.Status, nullable(l.ErrorMessage), l.StartedAt, nullable(l.CompletedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FinishLearningLog records the outcome of a run.
func (r Repo) FinishLearningLog(ctx context.Context, l domain.LearningLog) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE learning_logs SET examples_found=?, examples_added=?, status=?, error_message=?, completed_at=? WHERE id=?`,
		l.ExamplesFound, l.ExamplesAdded, l.Status, nullable(l.ErrorMessage), nullable(l.CompletedAt), l.ID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// ListLearningLogs returns run logs, newest first.
func (r Repo) ListLearningLogs(ctx context.Context, skip, limit int) ([]domain.LearningLog, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,learning_type,examples_found,examples_added,status,COALESCE(error_message,''),started_at,COALESCE(completed_at,'')
FROM learning_logs ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`, pageLimit(limit), max(skip, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.LearningLog{}
	for rows.Next() {
		var l domain.LearningLog
		if err := rows.Scan(&l.ID, &l.LearningType, &l.ExamplesFound, &l.ExamplesAdded, &l.Status, &l.ErrorMessage,
			&l.StartedAt, &l.CompletedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
