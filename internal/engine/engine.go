package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"flowgen/internal/domain"
	"flowgen/internal/generator"
	"flowgen/internal/learning"
	"flowgen/internal/logging"
	"flowgen/internal/repo"
)

// Number of learned examples consulted when writing specs and documents.
const (
	specExamples     = 10
	workflowExamples = 5
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Learning *learning.Service
	Now      func() time.Time
	Logger   *slog.Logger
}

func New(db *sql.DB) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Learning: learning.New(r),
		Now:      time.Now,
		Logger:   logging.WithModule("engine"),
	}
}

func (e Engine) now() string {
	if e.Now != nil {
		return e.Now().UTC().Format(domain.TimeLayout)
	}
	return time.Now().UTC().Format(domain.TimeLayout)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// --- workflow requests ---

// CreateWorkflow records a new request in pending state.
func (e Engine) CreateWorkflow(ctx context.Context, requirement, extra string) (domain.WorkflowRequest, error) {
	now := e.now()
	w := domain.WorkflowRequest{
		Status:          domain.StatusPending,
		UserRequirement: requirement,
		Context:         extra,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	id, err := e.Repo.InsertWorkflow(ctx, w)
	if err != nil {
		return domain.WorkflowRequest{}, fmt.Errorf("insert workflow request: %w", err)
	}
	w.ID = id
	e.logger().Info("workflow request created", "id", id)
	return w, nil
}

func (e Engine) GetWorkflow(ctx context.Context, id int64) (domain.WorkflowRequest, error) {
	return e.Repo.GetWorkflow(ctx, id)
}

// ListWorkflows returns a page of requests, newest first, with the total count.
func (e Engine) ListWorkflows(ctx context.Context, skip, limit int) ([]domain.WorkflowRequest, int, error) {
	return e.Repo.ListWorkflows(ctx, skip, limit)
}

// Analyze runs the analysis and moves the request to awaiting_answers.
func (e Engine) Analyze(ctx context.Context, id int64) (domain.Analysis, error) {
	w, err := e.Repo.GetWorkflow(ctx, id)
	if err != nil {
		return domain.Analysis{}, err
	}
	if err := e.setStatus(ctx, id, domain.StatusAnalyzing); err != nil {
		return domain.Analysis{}, err
	}
	e.logActiveConfig(ctx, "analyze", id)
	analysis := generator.Analyze(w.UserRequirement, w.Context)
	analyzed, err := toMap(analysis)
	if err != nil {
		return domain.Analysis{}, err
	}
	status := domain.StatusAwaitingAnswers
	if err := e.Repo.UpdateWorkflow(ctx, id, repo.WorkflowUpdate{
		Status:              &status,
		AnalyzedRequirement: analyzed,
		QuestionsAsked:      analysis.Questions,
		UpdatedAt:           e.now(),
	}); err != nil {
		return domain.Analysis{}, err
	}
	return analysis, nil
}

// SubmitAnswers stores answers with the text of the question they answer.
func (e Engine) SubmitAnswers(ctx context.Context, id int64, answers []domain.Answer) error {
	w, err := e.Repo.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	questions := make(map[string]string, len(w.QuestionsAsked))
	for _, q := range w.QuestionsAsked {
		questions[q.ID] = q.Question
	}
	stored := make([]domain.Answer, 0, len(answers))
	for _, a := range answers {
		stored = append(stored, domain.Answer{QuestionID: a.QuestionID, Answer: a.Answer, Question: questions[a.QuestionID]})
	}
	status := domain.StatusGeneratingSpec
	return e.Repo.UpdateWorkflow(ctx, id, repo.WorkflowUpdate{
		Status:      &status,
		UserAnswers: stored,
		UpdatedAt:   e.now(),
	})
}

// GenerateSpec writes the development specification and moves the request to spec_review.
func (e Engine) GenerateSpec(ctx context.Context, id int64) (string, error) {
	w, err := e.Repo.GetWorkflow(ctx, id)
	if err != nil {
		return "", err
	}
	examples, err := e.Repo.ListExamples(ctx, 0, specExamples, "")
	if err != nil {
		return "", fmt.Errorf("load examples: %w", err)
	}
	e.logActiveConfig(ctx, "generate-spec", id)
	spec := generator.Spec(w.UserRequirement, w.UserAnswers, examples)
	status := domain.StatusSpecReview
	if err := e.Repo.UpdateWorkflow(ctx, id, repo.WorkflowUpdate{
		Status:          &status,
		DevelopmentSpec: &spec,
		UpdatedAt:       e.now(),
	}); err != nil {
		return "", err
	}
	return spec, nil
}

// UpdateSpec replaces the specification with the reviewed text and approves it.
func (e Engine) UpdateSpec(ctx context.Context, id int64, spec string) error {
	if _, err := e.Repo.GetWorkflow(ctx, id); err != nil {
		return err
	}
	status := domain.StatusSpecApproved
	return e.Repo.UpdateWorkflow(ctx, id, repo.WorkflowUpdate{
		Status:          &status,
		DevelopmentSpec: &spec,
		UpdatedAt:       e.now(),
	})
}

// GenerateJSON builds the workflow document and moves the request to testing.
// A generation failure marks the request failed.
func (e Engine) GenerateJSON(ctx context.Context, id int64) (string, error) {
	w, err := e.Repo.GetWorkflow(ctx, id)
	if err != nil {
		return "", err
	}
	if err := e.setStatus(ctx, id, domain.StatusGeneratingJSON); err != nil {
		return "", err
	}
	examples, err := e.Repo.ListExamples(ctx, 0, workflowExamples, "")
	if err != nil {
		return "", fmt.Errorf("load examples: %w", err)
	}
	e.logger().Debug("reference examples loaded", "id", id, "count", len(examples))
	e.logActiveConfig(ctx, "generate-json", id)
	source := w.DevelopmentSpec
	if strings.TrimSpace(source) == "" {
		source = w.UserRequirement
	}
	doc, err := generator.Workflow(source)
	if err != nil {
		if serr := e.setStatus(ctx, id, domain.StatusFailed); serr != nil {
			e.logger().Error("mark request failed", "id", id, "error", serr)
		}
		return "", err
	}
	status := domain.StatusTesting
	if err := e.Repo.UpdateWorkflow(ctx, id, repo.WorkflowUpdate{
		Status:        &status,
		GeneratedJSON: &doc,
		UpdatedAt:     e.now(),
	}); err != nil {
		return "", err
	}
	return doc, nil
}

// TestAndOptimize reviews the generated document and completes the request. The final document
// is the optimized one when the review produced it, otherwise the generated one.
func (e Engine) TestAndOptimize(ctx context.Context, id int64) (domain.TestResult, error) {
	w, err := e.Repo.GetWorkflow(ctx, id)
	if err != nil {
		return domain.TestResult{}, err
	}
	e.logActiveConfig(ctx, "test-optimize", id)
	result, err := generator.Review(w.GeneratedJSON, w.DevelopmentSpec)
	if err != nil {
		return domain.TestResult{}, err
	}
	results, err := toMap(result)
	if err != nil {
		return domain.TestResult{}, err
	}
	final := w.GeneratedJSON
	if result.OptimizedJSON != "" {
		final = result.OptimizedJSON
	}
	status := domain.StatusCompleted
	if err := e.Repo.UpdateWorkflow(ctx, id, repo.WorkflowUpdate{
		Status:      &status,
		TestResults: results,
		FinalJSON:   &final,
		UpdatedAt:   e.now(),
	}); err != nil {
		return domain.TestResult{}, err
	}
	e.logger().Info("workflow request completed", "id", id, "passed", result.Passed, "issues", len(result.Issues))
	return result, nil
}

func (e Engine) setStatus(ctx context.Context, id int64, status string) error {
	return e.Repo.UpdateWorkflow(ctx, id, repo.WorkflowUpdate{Status: &status, UpdatedAt: e.now()})
}

func (e Engine) logActiveConfig(ctx context.Context, op string, id int64) {
	cfg, err := e.Repo.ActiveLLMConfig(ctx)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		e.logger().Debug("no active llm configuration", "op", op, "id", id)
	case err != nil:
		e.logger().Warn("load active llm configuration", "op", op, "id", id, "error", err)
	default:
		e.logger().Debug("using llm configuration", "op", op, "id", id, "config", cfg.Name, "provider", cfg.Provider, "model", cfg.ModelName)
	}
}

// --- llm configurations ---

// CreateLLMConfig stores a configuration. A default configuration becomes the only default and
// is activated on creation.
func (e Engine) CreateLLMConfig(ctx context.Context, c domain.LLMConfig) (domain.LLMConfig, error) {
	c.CreatedAt = e.now()
	c.IsActive = c.IsDefault
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		id, err := e.Repo.InsertLLMConfigTx(ctx, tx, c)
		if err != nil {
			return err
		}
		c, err = e.Repo.GetLLMConfigTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.LLMConfig{}, fmt.Errorf("create llm configuration: %w", err)
	}
	e.logger().Info("llm configuration created", "id", c.ID, "provider", c.Provider, "default", c.IsDefault)
	return c, nil
}

func (e Engine) ListLLMConfigs(ctx context.Context) ([]domain.LLMConfig, error) {
	return e.Repo.ListLLMConfigs(ctx)
}

func (e Engine) GetLLMConfig(ctx context.Context, id int64) (domain.LLMConfig, error) {
	return e.Repo.GetLLMConfig(ctx, id)
}

// ActivateLLMConfig makes id the single active configuration. Nothing changes when id is unknown.
func (e Engine) ActivateLLMConfig(ctx context.Context, id int64) (domain.LLMConfig, error) {
	var c domain.LLMConfig
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.ActivateLLMConfigTx(ctx, tx, id, e.now()); err != nil {
			return err
		}
		var err error
		c, err = e.Repo.GetLLMConfigTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.LLMConfig{}, err
	}
	e.logger().Info("llm configuration activated", "id", id, "name", c.Name)
	return c, nil
}

func (e Engine) DeleteLLMConfig(ctx context.Context, id int64) error {
	if err := e.Repo.DeleteLLMConfig(ctx, id); err != nil {
		return err
	}
	e.logger().Info("llm configuration deleted", "id", id)
	return nil
}

// --- learning ---

// StartLearning starts a learning cycle in the background. It reports false when one is running.
func (e Engine) StartLearning() bool {
	return e.Learning.Start()
}

// ListExamples returns examples without their workflow documents.
func (e Engine) ListExamples(ctx context.Context, skip, limit int, source string) ([]domain.LearnedExample, error) {
	examples, err := e.Repo.ListExamples(ctx, skip, limit, source)
	if err != nil {
		return nil, err
	}
	for i := range examples {
		examples[i].WorkflowJSON = ""
	}
	return examples, nil
}

func (e Engine) GetExample(ctx context.Context, id int64) (domain.LearnedExample, error) {
	return e.Repo.GetExample(ctx, id)
}

func (e Engine) ListLearningLogs(ctx context.Context, skip, limit int) ([]domain.LearningLog, error) {
	return e.Repo.ListLearningLogs(ctx, skip, limit)
}

func (e Engine) LearningStats(ctx context.Context) (domain.LearningStats, error) {
	return e.Learning.Stats(ctx)
}

// toMap converts a result struct into the generic object stored in JSON columns.
func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
