package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowgen/internal/db"
	"flowgen/internal/engine"
	"flowgen/internal/migrate"
	"flowgen/internal/server"
	"flowgen/internal/session"
	"flowgen/internal/ui"
	"flowgen/internal/views"
	"flowgen/internal/wizard"
	sdk "flowgen/sdk/go"
)

func newBackend(t *testing.T) *sdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	e := engine.New(conn)
	handler, err := server.New(server.Config{Engine: e})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(func() {
		ts.Close()
		e.Learning.Wait()
		conn.Close()
	})
	return sdk.New(ts.URL)
}

func TestParseAnswers(t *testing.T) {
	got, err := parseAnswers([]string{"trigger = schedule", "channel=#ops=alerts"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"trigger": "schedule", "channel": "#ops=alerts"}, got)

	_, err = parseAnswers([]string{"no-separator"})
	require.Error(t, err)
	_, err = parseAnswers([]string{"=value"})
	require.Error(t, err)
}

func TestParseID(t *testing.T) {
	id, err := parseID("12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
	for _, bad := range []string{"", "0", "-3", "abc"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestRunWizardUnattended(t *testing.T) {
	client := newBackend(t)
	m := wizard.New(client, session.New())
	defer m.Close()
	var progress bytes.Buffer
	m.OnChange(progressPrinter(&progress))

	require.NoError(t, m.SetRequirement("Every morning fetch new GitHub issues and post a summary to Slack"))
	var out bytes.Buffer
	p := ui.NewPrompter(strings.NewReader(""), &out)
	opts := newOptions{yes: true, outDir: t.TempDir()}

	done, err := runWizard(context.Background(), m, p, &out, opts)
	require.NoError(t, err)
	require.NotEmpty(t, done.Document)
	assert.Contains(t, progress.String(), stepLabels[wizard.StepAnalyzing])
	assert.Contains(t, progress.String(), stepLabels[wizard.StepTesting])

	id := m.State().WorkflowID
	require.NoError(t, finishWorkflow(&out, p, id, done, opts, ""))
	data, err := os.ReadFile(filepath.Join(opts.outDir, views.ExportFileName(id)))
	require.NoError(t, err)
	assert.Equal(t, done.Document, string(data))

	wf, err := client.GetWorkflow(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, sdk.StatusCompleted, wf.Status)
}

func TestFinishWorkflowSkipsExportWhenUnattended(t *testing.T) {
	var out bytes.Buffer
	p := ui.NewPrompter(strings.NewReader(""), &out)
	dir := t.TempDir()
	done := wizard.Completed{Document: `{"nodes":[]}`}
	require.NoError(t, finishWorkflow(&out, p, 7, done, newOptions{yes: true}, dir))
	_, err := os.Stat(filepath.Join(dir, views.ExportFileName(7)))
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, out.String(), "Workflow 7 is ready")
}

func TestFinishWorkflowExportsAfterConfirm(t *testing.T) {
	var out bytes.Buffer
	p := ui.NewPrompter(strings.NewReader("y\n"), &out)
	dir := t.TempDir()
	done := wizard.Completed{Document: `{"nodes":[]}`}
	require.NoError(t, finishWorkflow(&out, p, 9, done, newOptions{}, dir))
	data, err := os.ReadFile(filepath.Join(dir, views.ExportFileName(9)))
	require.NoError(t, err)
	assert.Equal(t, done.Document, string(data))
}

func TestEditDocumentDeclined(t *testing.T) {
	m := wizard.New(newBackend(t), session.New())
	defer m.Close()
	p := ui.NewPrompter(strings.NewReader("n\n"), &bytes.Buffer{})
	done := wizard.Completed{Document: `{"nodes":[]}`}
	got, err := editDocument(m, p, done)
	require.NoError(t, err)
	assert.Equal(t, done, got)
}

// questionBackend stops every run at the questions step.
type questionBackend struct {
	questions []sdk.Question
}

func (b questionBackend) CreateWorkflow(ctx context.Context, req sdk.UserRequirement) (sdk.WorkflowRequest, error) {
	return sdk.WorkflowRequest{ID: 3, Status: sdk.StatusPending, UserRequirement: req.Requirement}, nil
}

func (b questionBackend) Analyze(ctx context.Context, id int64) (sdk.Analysis, error) {
	return sdk.Analysis{Summary: "sheet sync", Questions: b.questions}, nil
}

func (b questionBackend) SubmitAnswers(ctx context.Context, id int64, answers []sdk.Answer) (sdk.Message, error) {
	return sdk.Message{Message: "ok"}, nil
}

func (b questionBackend) GenerateSpec(ctx context.Context, id int64) (sdk.SpecResult, error) {
	return sdk.SpecResult{DevelopmentSpec: "# spec"}, nil
}

func (b questionBackend) UpdateSpec(ctx context.Context, id int64, spec string) (sdk.Message, error) {
	return sdk.Message{Message: "ok"}, nil
}

func (b questionBackend) GenerateJSON(ctx context.Context, id int64) (sdk.JSONResult, error) {
	return sdk.JSONResult{}, nil
}

func (b questionBackend) TestAndOptimize(ctx context.Context, id int64) (sdk.TestResult, error) {
	return sdk.TestResult{}, nil
}

func TestAnswerQuestionsPromptsEachQuestion(t *testing.T) {
	qs := []sdk.Question{
		{ID: "freq", Question: "How often?", Type: sdk.QuestionChoice, Options: []string{"hourly", "daily"}, Required: true},
		{ID: "sheet", Question: "Which sheet?", Type: sdk.QuestionText},
		{ID: "notify", Question: "Who to notify?", Type: sdk.QuestionText, Required: true},
	}
	m := wizard.New(questionBackend{questions: qs}, session.New())
	defer m.Close()
	require.NoError(t, m.SetRequirement("sync sheets to notion"))
	require.NoError(t, m.Submit(context.Background()))
	q, ok := m.State().Step.(wizard.Questions)
	require.True(t, ok, "expected questions step, got %T", m.State().Step)

	var out bytes.Buffer
	p := ui.NewPrompter(strings.NewReader("2\nSheet1\n\n"), &out)
	require.NoError(t, answerQuestions(m, p, q, newOptions{}))

	text := out.String()
	assert.Equal(t, 1, strings.Count(text, "Your answer: "), text)
	assert.Contains(t, text, "   1. hourly\n")
	assert.Contains(t, text, "   2. daily\n")
	assert.Equal(t, 1, strings.Count(text, "Which sheet?: "), text)
	assert.Regexp(t, regexp.MustCompile(`How often\? .*\*`), text)
	assert.Regexp(t, regexp.MustCompile(`Who to notify\? .*\*.*: `), text)
	assert.NotContains(t, text, "Which sheet? ")

	got, ok := m.State().Step.(wizard.Questions)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"freq": "daily", "sheet": "Sheet1", "notify": ""}, got.Answers)
	require.NoError(t, m.SubmitAnswers(context.Background()))
	assert.Equal(t, wizard.StepSpecReview, m.State().Step.Name())
}

func TestQuestionLabelMarksRequired(t *testing.T) {
	required := questionLabel(sdk.Question{Question: "Which channel?", Required: true})
	optional := questionLabel(sdk.Question{Question: "Which channel?"})
	assert.Equal(t, "Which channel?", optional)
	assert.NotEqual(t, optional, required)
	assert.Contains(t, required, requiredMark)
}
