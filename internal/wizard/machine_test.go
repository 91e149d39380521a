package wizard

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowgen/internal/session"
	sdk "flowgen/sdk/go"
)

type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	questions []sdk.Question
	answers   []sdk.Answer
	spec      string
	pushed    []string
	generated string
	optimized string

	fail map[string]error
	// gate, when set for an op, blocks that op until closed or ctx is done.
	gate map[string]chan struct{}
}

func newFake() *fakeBackend {
	return &fakeBackend{
		spec:      "# spec",
		generated: `{"nodes":[]}`,
		fail:      map[string]error{},
		gate:      map[string]chan struct{}{},
	}
}

func (f *fakeBackend) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	err := f.fail[op]
	gate := f.gate[op]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) setFail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

func (f *fakeBackend) CreateWorkflow(ctx context.Context, req sdk.UserRequirement) (sdk.WorkflowRequest, error) {
	if err := f.enter(ctx, "create"); err != nil {
		return sdk.WorkflowRequest{}, err
	}
	return sdk.WorkflowRequest{ID: 42, Status: sdk.StatusPending, UserRequirement: req.Requirement}, nil
}

func (f *fakeBackend) Analyze(ctx context.Context, id int64) (sdk.Analysis, error) {
	if err := f.enter(ctx, "analyze"); err != nil {
		return sdk.Analysis{}, err
	}
	return sdk.Analysis{Summary: "s", Questions: f.questions}, nil
}

func (f *fakeBackend) SubmitAnswers(ctx context.Context, id int64, answers []sdk.Answer) (sdk.Message, error) {
	if err := f.enter(ctx, "answers"); err != nil {
		return sdk.Message{}, err
	}
	f.mu.Lock()
	f.answers = answers
	f.mu.Unlock()
	return sdk.Message{Message: "ok"}, nil
}

func (f *fakeBackend) GenerateSpec(ctx context.Context, id int64) (sdk.SpecResult, error) {
	if err := f.enter(ctx, "spec"); err != nil {
		return sdk.SpecResult{}, err
	}
	return sdk.SpecResult{DevelopmentSpec: f.spec}, nil
}

func (f *fakeBackend) UpdateSpec(ctx context.Context, id int64, spec string) (sdk.Message, error) {
	if err := f.enter(ctx, "update"); err != nil {
		return sdk.Message{}, err
	}
	f.mu.Lock()
	f.pushed = append(f.pushed, spec)
	f.mu.Unlock()
	return sdk.Message{Message: "ok"}, nil
}

func (f *fakeBackend) GenerateJSON(ctx context.Context, id int64) (sdk.JSONResult, error) {
	if err := f.enter(ctx, "json"); err != nil {
		return sdk.JSONResult{}, err
	}
	return sdk.JSONResult{WorkflowJSON: f.generated}, nil
}

func (f *fakeBackend) TestAndOptimize(ctx context.Context, id int64) (sdk.TestResult, error) {
	if err := f.enter(ctx, "test"); err != nil {
		return sdk.TestResult{}, err
	}
	return sdk.TestResult{Passed: true, OptimizedJSON: f.optimized}, nil
}

func apiErr(detail string) error {
	return &sdk.APIError{StatusCode: http.StatusInternalServerError, Detail: detail}
}

func questions() []sdk.Question {
	return []sdk.Question{
		{ID: "q1", Question: "How often?", Type: sdk.QuestionChoice, Options: []string{"hourly", "daily"}, Required: true},
		{ID: "q2", Question: "Which sheet?", Type: sdk.QuestionText},
		{ID: "q3", Question: "Notify?", Type: sdk.QuestionText},
	}
}

func TestHappyPathWithQuestions(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.questions = questions()
	store := session.New()
	m := New(f, store)

	require.NoError(t, m.SetRequirement("sync sheets to notion"))
	require.NoError(t, m.Submit(ctx))

	q, ok := m.State().Step.(Questions)
	require.True(t, ok, "expected questions step, got %T", m.State().Step)
	assert.Len(t, q.Questions, 3)

	require.NoError(t, m.SetAnswer("q2", "Sales"))
	require.NoError(t, m.SetAnswer("q1", "daily"))
	require.NoError(t, m.SubmitAnswers(ctx))

	sr, ok := m.State().Step.(SpecReview)
	require.True(t, ok)
	assert.Equal(t, "# spec", sr.Spec)
	assert.Equal(t, []sdk.Answer{{QuestionID: "q1", Answer: "daily"}, {QuestionID: "q2", Answer: "Sales"}}, f.answers)

	require.NoError(t, m.EditSpec("# edited"))
	require.NoError(t, m.ApproveSpec(ctx))

	c, ok := m.State().Step.(Completed)
	require.True(t, ok)
	assert.Equal(t, `{"nodes":[]}`, c.Document)
	assert.Equal(t, []string{"# edited"}, f.pushed)
	assert.Equal(t, []string{"create", "analyze", "answers", "spec", "update", "json", "test"}, f.Calls())

	cur, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, int64(42), cur.ID)
	assert.Equal(t, sdk.StatusCompleted, cur.Status)
	assert.Equal(t, "# edited", cur.DevelopmentSpec)
	assert.Equal(t, `{"nodes":[]}`, cur.FinalJSON)
}

func TestNoQuestionsSkipsToSpec(t *testing.T) {
	f := newFake()
	m := New(f, nil)
	var seen []StepName
	m.OnChange(func(s Snapshot) { seen = append(seen, s.Step.Name()) })

	require.NoError(t, m.SetRequirement("daily report"))
	require.NoError(t, m.Submit(context.Background()))

	_, ok := m.State().Step.(SpecReview)
	require.True(t, ok)
	assert.Equal(t, []string{"create", "analyze", "spec"}, f.Calls())
	assert.NotContains(t, seen, StepQuestions)
	assert.Contains(t, seen, StepGeneratingSpec)
}

func TestNoQuestionsCachesBackendStatus(t *testing.T) {
	f := newFake()
	f.setFail("spec", apiErr("spec failed"))
	store := session.New()
	m := New(f, store)

	require.NoError(t, m.SetRequirement("daily report"))
	require.Error(t, m.Submit(context.Background()))
	assert.Equal(t, StepGeneratingSpec, m.State().Step.Name())

	cur, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, sdk.StatusAwaitingAnswers, cur.Status)
}

func TestSubmitEmptyRequirement(t *testing.T) {
	f := newFake()
	m := New(f, nil)
	require.NoError(t, m.SetRequirement("   \n\t"))
	err := m.Submit(context.Background())
	assert.ErrorIs(t, err, ErrEmptyRequirement)
	assert.Equal(t, StepInput, m.State().Step.Name())
	assert.Empty(t, f.Calls())
}

func TestAnalyzeFailureReturnsToInput(t *testing.T) {
	f := newFake()
	f.setFail("analyze", apiErr("LLM not configured"))
	m := New(f, nil)
	require.NoError(t, m.SetRequirement("email digest"))

	err := m.Submit(context.Background())
	require.Error(t, err)

	st := m.State()
	in, ok := st.Step.(Input)
	require.True(t, ok)
	assert.Equal(t, "email digest", in.Requirement)
	assert.Equal(t, "LLM not configured", st.Error)
	assert.False(t, st.Busy)
}

func TestCreateFailureUsesFallback(t *testing.T) {
	f := newFake()
	f.setFail("create", errors.New("dial tcp: connection refused"))
	m := New(f, nil)
	require.NoError(t, m.SetRequirement("x"))
	require.Error(t, m.Submit(context.Background()))
	assert.Equal(t, MsgGeneric, m.State().Error)
	assert.Equal(t, StepInput, m.State().Step.Name())
}

func TestSpecFailureParksAndRetries(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.setFail("spec", apiErr("quota exceeded"))
	m := New(f, nil)
	require.NoError(t, m.SetRequirement("x"))

	require.Error(t, m.Submit(ctx))
	st := m.State()
	assert.Equal(t, StepGeneratingSpec, st.Step.Name())
	assert.Equal(t, "quota exceeded", st.Error)
	assert.False(t, st.Busy)

	f.setFail("spec", nil)
	require.NoError(t, m.Retry(ctx))
	assert.Equal(t, StepSpecReview, m.State().Step.Name())
	assert.Empty(t, m.State().Error)
}

func TestRetryRepostsUnsentAnswers(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.questions = questions()
	m := New(f, nil)
	require.NoError(t, m.SetRequirement("x"))
	require.NoError(t, m.Submit(ctx))
	require.NoError(t, m.SetAnswer("q3", "yes"))

	f.setFail("answers", apiErr("boom"))
	require.Error(t, m.SubmitAnswers(ctx))
	assert.Equal(t, StepGeneratingSpec, m.State().Step.Name())

	f.setFail("answers", nil)
	require.NoError(t, m.Retry(ctx))
	assert.Equal(t, []sdk.Answer{{QuestionID: "q3", Answer: "yes"}}, f.answers)
	assert.Equal(t, []string{"create", "analyze", "answers", "answers", "spec"}, f.Calls())
}

func TestJSONFailureDoesNotRepushSpec(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	m := New(f, nil)
	require.NoError(t, m.SetRequirement("x"))
	require.NoError(t, m.Submit(ctx))

	f.setFail("json", errors.New("timeout"))
	require.Error(t, m.ApproveSpec(ctx))
	st := m.State()
	assert.Equal(t, StepGeneratingJSON, st.Step.Name())
	assert.Equal(t, MsgJSON, st.Error)

	f.setFail("json", nil)
	require.NoError(t, m.Retry(ctx))
	assert.Equal(t, StepCompleted, m.State().Step.Name())
	assert.Len(t, f.pushed, 1)
}

func TestTestFailureParks(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.setFail("test", apiErr("validator crashed"))
	m := New(f, nil)
	require.NoError(t, m.SetRequirement("x"))
	require.NoError(t, m.Submit(ctx))
	require.Error(t, m.ApproveSpec(ctx))

	st := m.State()
	tst, ok := st.Step.(Testing)
	require.True(t, ok)
	assert.Equal(t, `{"nodes":[]}`, tst.Generated)
	assert.Equal(t, "validator crashed", st.Error)
}

func TestOptimizedDocumentWins(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.optimized = `{"nodes":[{"name":"Start"}]}`
	m := New(f, nil)
	require.NoError(t, m.SetRequirement("x"))
	require.NoError(t, m.Submit(ctx))
	require.NoError(t, m.ApproveSpec(ctx))

	c := m.State().Step.(Completed)
	assert.Equal(t, f.optimized, c.Document)
	assert.Equal(t, `{"nodes":[]}`, c.Generated)

	require.NoError(t, m.EditDocument(`{}`))
	assert.Equal(t, `{}`, m.State().Step.(Completed).Document)
}

func TestFinalDocument(t *testing.T) {
	assert.Equal(t, "gen", FinalDocument(sdk.TestResult{}, "gen"))
	assert.Equal(t, "opt", FinalDocument(sdk.TestResult{OptimizedJSON: "opt"}, "gen"))
}

func TestWrongStepLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	m := New(f, nil)
	require.NoError(t, m.SetRequirement("keep me"))

	for name, op := range map[string]func() error{
		"answers":  func() error { return m.SubmitAnswers(ctx) },
		"approve":  func() error { return m.ApproveSpec(ctx) },
		"edit":     func() error { return m.EditSpec("x") },
		"document": func() error { return m.EditDocument("x") },
		"answer":   func() error { return m.SetAnswer("q1", "x") },
		"retry":    func() error { return m.Retry(ctx) },
	} {
		err := op()
		assert.ErrorIs(t, err, ErrWrongStep, name)
		var se *StepError
		assert.ErrorAs(t, err, &se, name)
	}
	in := m.State().Step.(Input)
	assert.Equal(t, "keep me", in.Requirement)
	assert.Empty(t, f.Calls())

	require.NoError(t, m.Submit(ctx))
	assert.ErrorIs(t, m.SetRequirement("late"), ErrWrongStep)
}

func TestSetAnswerValidation(t *testing.T) {
	f := newFake()
	f.questions = questions()
	m := New(f, nil)
	require.NoError(t, m.SetRequirement("x"))
	require.NoError(t, m.Submit(context.Background()))

	assert.Error(t, m.SetAnswer("nope", "v"))
	assert.Error(t, m.SetAnswer("q1", "weekly"))
	assert.NoError(t, m.SetAnswer("q1", ""))
	assert.NoError(t, m.SetAnswer("q2", "anything goes"))
}

func TestRequiredNotEnforced(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.questions = questions()
	m := New(f, nil)
	require.NoError(t, m.SetRequirement("x"))
	require.NoError(t, m.Submit(ctx))
	require.NoError(t, m.SubmitAnswers(ctx))
	assert.Empty(t, f.answers)
	assert.Equal(t, StepSpecReview, m.State().Step.Name())
}

func TestResetClearsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	store := session.New()
	m := New(f, store)
	require.NoError(t, m.SetRequirement("x"))
	require.NoError(t, m.Submit(ctx))
	require.NoError(t, m.ApproveSpec(ctx))

	m.Reset()
	st := m.State()
	assert.Equal(t, Input{}, st.Step)
	assert.Empty(t, st.Error)
	assert.Zero(t, st.WorkflowID)
	_, ok := store.Current()
	assert.False(t, ok)
}

func TestBusyRejectsSecondSubmit(t *testing.T) {
	f := newFake()
	gate := make(chan struct{})
	f.gate["create"] = gate
	m := New(f, nil)
	require.NoError(t, m.SetRequirement("x"))

	done := make(chan error, 1)
	go func() { done <- m.Submit(context.Background()) }()
	require.Eventually(t, func() bool { return m.State().Busy }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, m.Retry(context.Background()), ErrBusy)
	assert.ErrorIs(t, m.Submit(context.Background()), ErrWrongStep)
	assert.Equal(t, StepAnalyzing, m.State().Step.Name())

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, countOf(f.Calls(), "create"))
}

func TestResetDiscardsLateResult(t *testing.T) {
	f := newFake()
	gate := make(chan struct{})
	f.gate["spec"] = gate
	store := session.New()
	m := New(f, store)
	require.NoError(t, m.SetRequirement("x"))

	done := make(chan error, 1)
	go func() { done <- m.Submit(context.Background()) }()
	require.Eventually(t, func() bool {
		return m.State().Step.Name() == StepGeneratingSpec
	}, time.Second, 5*time.Millisecond)

	m.Reset()
	err := <-done
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, Input{}, m.State().Step)
	_, ok := store.Current()
	assert.False(t, ok)
	close(gate)
}

func TestCloseDuringAnalysisReturnsToInput(t *testing.T) {
	f := newFake()
	f.gate["analyze"] = make(chan struct{})
	m := New(f, nil)
	require.NoError(t, m.SetRequirement("keep"))

	done := make(chan error, 1)
	go func() { done <- m.Submit(context.Background()) }()
	require.Eventually(t, func() bool { return countOf(f.Calls(), "analyze") == 1 }, time.Second, 5*time.Millisecond)

	m.Close()
	assert.ErrorIs(t, <-done, ErrSuperseded)
	in, ok := m.State().Step.(Input)
	require.True(t, ok)
	assert.Equal(t, "keep", in.Requirement)
	assert.False(t, m.State().Busy)
}

func TestSnapshotIsACopy(t *testing.T) {
	f := newFake()
	f.questions = questions()
	m := New(f, nil)
	require.NoError(t, m.SetRequirement("x"))
	require.NoError(t, m.Submit(context.Background()))

	q := m.State().Step.(Questions)
	q.Answers["q1"] = "hourly"
	q.Questions[0].Options[0] = "mutated"
	again := m.State().Step.(Questions)
	assert.Empty(t, again.Answers)
	assert.Equal(t, "hourly", again.Questions[0].Options[0])
}

func TestTransitionAllowList(t *testing.T) {
	assert.NoError(t, Transition(StepInput, StepAnalyzing))
	assert.NoError(t, Transition(StepAnalyzing, StepQuestions))
	assert.NoError(t, Transition(StepAnalyzing, StepGeneratingSpec))
	assert.NoError(t, Transition(StepCompleted, StepInput))
	assert.Error(t, Transition(StepInput, StepCompleted))
	assert.Error(t, Transition(StepQuestions, StepSpecReview))
	assert.Error(t, Transition(StepCompleted, StepTesting))
}

func countOf(items []string, v string) int {
	n := 0
	for _, it := range items {
		if it == v {
			n++
		}
	}
	return n
}
