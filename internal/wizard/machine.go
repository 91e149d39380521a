// Package wizard drives one workflow through analysis, clarifying questions,
// spec review, JSON generation and testing.
//
// The Machine owns the current step and calls the backend. At most one call is
// in flight at a time; Reset and Close cancel it and any late result is dropped.
package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"flowgen/internal/logging"
	"flowgen/internal/session"
	sdk "flowgen/sdk/go"
)

var (
	// ErrWrongStep is matched by every *StepError.
	ErrWrongStep = errors.New("operation not allowed in current step")
	// ErrEmptyRequirement is returned by Submit when the requirement is blank.
	ErrEmptyRequirement = errors.New("requirement is empty")
	// ErrBusy is returned when a backend call is already in flight.
	ErrBusy = errors.New("a request is already in progress")
	// ErrNothingToRetry is returned by Retry when the current step has no failed call.
	ErrNothingToRetry = errors.New("nothing to retry")
	// ErrSuperseded is returned when a call finished after Reset or Close.
	ErrSuperseded = errors.New("request superseded by reset")
)

// Fallback messages used when the backend gives no detail.
const (
	MsgGeneric = "An error occurred"
	MsgSpec    = "Error while generating the development spec"
	MsgJSON    = "Error while generating the workflow JSON"
	MsgTest    = "Error while testing the workflow"

	MsgCanceled = "Request canceled"
)

// StepError reports an operation invoked in a step that does not accept it.
type StepError struct {
	Op   string
	Step StepName
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: not allowed in step %s", e.Op, e.Step)
}

func (e *StepError) Is(target error) bool {
	return target == ErrWrongStep
}

// Backend is the subset of the API client the wizard needs.
type Backend interface {
	CreateWorkflow(ctx context.Context, req sdk.UserRequirement) (sdk.WorkflowRequest, error)
	Analyze(ctx context.Context, id int64) (sdk.Analysis, error)
	SubmitAnswers(ctx context.Context, id int64, answers []sdk.Answer) (sdk.Message, error)
	GenerateSpec(ctx context.Context, id int64) (sdk.SpecResult, error)
	UpdateSpec(ctx context.Context, id int64, spec string) (sdk.Message, error)
	GenerateJSON(ctx context.Context, id int64) (sdk.JSONResult, error)
	TestAndOptimize(ctx context.Context, id int64) (sdk.TestResult, error)
}

// Snapshot is a copy of the machine state.
type Snapshot struct {
	Step       Step
	Error      string
	Busy       bool
	WorkflowID int64
}

// Machine is the wizard state machine.
type Machine struct {
	backend Backend
	store   *session.Store
	log     *slog.Logger

	mu         sync.Mutex
	step       Step
	err        string
	busy       bool
	epoch      uint64
	cancel     context.CancelFunc
	workflowID int64
	listeners  []func(Snapshot)

	// storeMu orders session writes against Reset.
	storeMu sync.Mutex
}

// New returns a machine in the input step.
func New(backend Backend, store *session.Store) *Machine {
	if store == nil {
		store = session.New()
	}
	return &Machine{
		backend: backend,
		store:   store,
		log:     logging.WithModule("wizard"),
		step:    Input{},
	}
}

// OnChange registers fn to run after every state change.
func (m *Machine) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// State returns a copy of the current state.
func (m *Machine) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// SetRequirement replaces the requirement text.
func (m *Machine) SetRequirement(text string) error {
	return m.editInput("set requirement", func(in *Input) { in.Requirement = text })
}

// SetContext replaces the optional context sent with the requirement.
func (m *Machine) SetContext(text string) error {
	return m.editInput("set context", func(in *Input) { in.Context = text })
}

func (m *Machine) editInput(op string, fn func(*Input)) error {
	m.mu.Lock()
	in, ok := m.step.(Input)
	if !ok {
		defer m.mu.Unlock()
		return &StepError{Op: op, Step: m.step.Name()}
	}
	fn(&in)
	m.step = in
	m.mu.Unlock()
	m.notify()
	return nil
}

// Submit creates the workflow request and analyzes it. With clarifying questions the machine
// stops in the questions step; without, it generates the spec right away.
func (m *Machine) Submit(ctx context.Context) error {
	m.mu.Lock()
	in, ok := m.step.(Input)
	if !ok {
		defer m.mu.Unlock()
		return &StepError{Op: "submit", Step: m.step.Name()}
	}
	if m.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	if strings.TrimSpace(in.Requirement) == "" {
		m.mu.Unlock()
		return ErrEmptyRequirement
	}
	callCtx, epoch := m.beginLocked(ctx)
	if err := m.moveLocked(Analyzing(in)); err != nil {
		m.endLocked()
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()
	m.notify()

	back := in
	wf, err := m.backend.CreateWorkflow(callCtx, sdk.UserRequirement{Requirement: in.Requirement, Context: in.Context})
	if err != nil {
		return m.fail(epoch, "create workflow", err, MsgGeneric, back)
	}
	if !m.commit(epoch, func() {
		m.mu.Lock()
		m.workflowID = wf.ID
		m.mu.Unlock()
		m.store.SetCurrent(&wf)
	}) {
		return ErrSuperseded
	}
	m.log.Debug("workflow created", "id", wf.ID)

	analysis, err := m.backend.Analyze(callCtx, wf.ID)
	if err != nil {
		return m.fail(epoch, "analyze", err, MsgGeneric, back)
	}
	if !m.commit(epoch, func() {
		m.store.Update(session.WorkflowPatch{
			Status:              session.Ptr(sdk.StatusAwaitingAnswers),
			AnalyzedRequirement: toMap(analysis),
			QuestionsAsked:      analysis.Questions,
		})
	}) {
		return ErrSuperseded
	}

	if len(analysis.Questions) > 0 {
		return m.finish(epoch, Questions{Questions: analysis.Questions, Answers: map[string]string{}})
	}
	gs := GeneratingSpec{AnswersPosted: true}
	if err := m.advance(epoch, gs); err != nil {
		return err
	}
	return m.runSpec(callCtx, epoch, wf.ID, gs)
}

// SetAnswer records the answer to one question. Choice answers must be one of the options.
func (m *Machine) SetAnswer(questionID, value string) error {
	m.mu.Lock()
	q, ok := m.step.(Questions)
	if !ok {
		defer m.mu.Unlock()
		return &StepError{Op: "set answer", Step: m.step.Name()}
	}
	var question *sdk.Question
	for i := range q.Questions {
		if q.Questions[i].ID == questionID {
			question = &q.Questions[i]
			break
		}
	}
	if question == nil {
		m.mu.Unlock()
		return fmt.Errorf("unknown question %q", questionID)
	}
	if question.Type == sdk.QuestionChoice && value != "" && !contains(question.Options, value) {
		m.mu.Unlock()
		return fmt.Errorf("answer %q is not an option of question %q", value, questionID)
	}
	if q.Answers == nil {
		q.Answers = map[string]string{}
	}
	q.Answers[questionID] = value
	m.step = q
	m.mu.Unlock()
	m.notify()
	return nil
}

// SubmitAnswers posts the answered questions and generates the spec.
func (m *Machine) SubmitAnswers(ctx context.Context) error {
	m.mu.Lock()
	q, ok := m.step.(Questions)
	if !ok {
		defer m.mu.Unlock()
		return &StepError{Op: "submit answers", Step: m.step.Name()}
	}
	if m.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	answers := make([]sdk.Answer, 0, len(q.Answers))
	for _, question := range q.Questions {
		if v, ok := q.Answers[question.ID]; ok {
			answers = append(answers, sdk.Answer{QuestionID: question.ID, Answer: v})
		}
	}
	gs := GeneratingSpec{Answers: answers}
	callCtx, epoch := m.beginLocked(ctx)
	if err := m.moveLocked(gs); err != nil {
		m.endLocked()
		m.mu.Unlock()
		return err
	}
	id := m.workflowID
	m.mu.Unlock()
	m.notify()
	return m.runSpec(callCtx, epoch, id, gs)
}

func (m *Machine) runSpec(ctx context.Context, epoch uint64, id int64, gs GeneratingSpec) error {
	if !gs.AnswersPosted {
		if _, err := m.backend.SubmitAnswers(ctx, id, gs.Answers); err != nil {
			return m.fail(epoch, "submit answers", err, MsgGeneric, nil)
		}
		gs.AnswersPosted = true
		if !m.replace(epoch, gs) {
			return ErrSuperseded
		}
	}
	res, err := m.backend.GenerateSpec(ctx, id)
	if err != nil {
		return m.fail(epoch, "generate spec", err, MsgSpec, nil)
	}
	if !m.commit(epoch, func() {
		m.store.Update(session.WorkflowPatch{
			Status:          session.Ptr(sdk.StatusSpecReview),
			DevelopmentSpec: session.Ptr(res.DevelopmentSpec),
		})
	}) {
		return ErrSuperseded
	}
	return m.finish(epoch, SpecReview{Spec: res.DevelopmentSpec})
}

// EditSpec replaces the development spec under review.
func (m *Machine) EditSpec(text string) error {
	m.mu.Lock()
	sr, ok := m.step.(SpecReview)
	if !ok {
		defer m.mu.Unlock()
		return &StepError{Op: "edit spec", Step: m.step.Name()}
	}
	sr.Spec = text
	m.step = sr
	m.mu.Unlock()
	m.notify()
	return nil
}

// ApproveSpec pushes the reviewed spec, generates the workflow document and tests it.
func (m *Machine) ApproveSpec(ctx context.Context) error {
	m.mu.Lock()
	sr, ok := m.step.(SpecReview)
	if !ok {
		defer m.mu.Unlock()
		return &StepError{Op: "approve spec", Step: m.step.Name()}
	}
	if m.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	gj := GeneratingJSON{Spec: sr.Spec}
	callCtx, epoch := m.beginLocked(ctx)
	if err := m.moveLocked(gj); err != nil {
		m.endLocked()
		m.mu.Unlock()
		return err
	}
	id := m.workflowID
	m.mu.Unlock()
	m.notify()
	return m.runJSON(callCtx, epoch, id, gj)
}

func (m *Machine) runJSON(ctx context.Context, epoch uint64, id int64, gj GeneratingJSON) error {
	if !gj.SpecPushed {
		if _, err := m.backend.UpdateSpec(ctx, id, gj.Spec); err != nil {
			return m.fail(epoch, "update spec", err, MsgJSON, nil)
		}
		gj.SpecPushed = true
		if !m.replace(epoch, gj) {
			return ErrSuperseded
		}
		if !m.commit(epoch, func() {
			m.store.Update(session.WorkflowPatch{
				Status:          session.Ptr(sdk.StatusSpecApproved),
				DevelopmentSpec: session.Ptr(gj.Spec),
			})
		}) {
			return ErrSuperseded
		}
	}
	res, err := m.backend.GenerateJSON(ctx, id)
	if err != nil {
		return m.fail(epoch, "generate json", err, MsgJSON, nil)
	}
	if !m.commit(epoch, func() {
		m.store.Update(session.WorkflowPatch{
			Status:        session.Ptr(sdk.StatusTesting),
			GeneratedJSON: session.Ptr(res.WorkflowJSON),
		})
	}) {
		return ErrSuperseded
	}
	t := Testing{Generated: res.WorkflowJSON}
	if err := m.advance(epoch, t); err != nil {
		return err
	}
	return m.runTest(ctx, epoch, id, t)
}

func (m *Machine) runTest(ctx context.Context, epoch uint64, id int64, t Testing) error {
	res, err := m.backend.TestAndOptimize(ctx, id)
	if err != nil {
		return m.fail(epoch, "test and optimize", err, MsgTest, nil)
	}
	doc := FinalDocument(res, t.Generated)
	if !m.commit(epoch, func() {
		m.store.Update(session.WorkflowPatch{
			Status:      session.Ptr(sdk.StatusCompleted),
			TestResults: toMap(res),
			FinalJSON:   session.Ptr(doc),
		})
	}) {
		return ErrSuperseded
	}
	return m.finish(epoch, Completed{Result: res, Generated: t.Generated, Document: doc})
}

// EditDocument replaces the final document shown in the completed step.
func (m *Machine) EditDocument(text string) error {
	m.mu.Lock()
	c, ok := m.step.(Completed)
	if !ok {
		defer m.mu.Unlock()
		return &StepError{Op: "edit document", Step: m.step.Name()}
	}
	c.Document = text
	m.step = c
	m.mu.Unlock()
	m.notify()
	return nil
}

// Retry re-issues the calls of a waiting step that failed.
func (m *Machine) Retry(ctx context.Context) error {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	step := m.step.clone()
	switch step.(type) {
	case GeneratingSpec, GeneratingJSON, Testing:
	default:
		defer m.mu.Unlock()
		return &StepError{Op: "retry", Step: step.Name()}
	}
	if m.err == "" {
		m.mu.Unlock()
		return ErrNothingToRetry
	}
	callCtx, epoch := m.beginLocked(ctx)
	id := m.workflowID
	m.mu.Unlock()
	m.notify()

	switch s := step.(type) {
	case GeneratingSpec:
		return m.runSpec(callCtx, epoch, id, s)
	case GeneratingJSON:
		return m.runJSON(callCtx, epoch, id, s)
	default:
		return m.runTest(callCtx, epoch, id, s.(Testing))
	}
}

// Reset cancels any call in flight and returns to an empty input step. The session's
// current workflow is cleared; the backend record is left alone.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.epoch++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.busy = false
	m.err = ""
	m.workflowID = 0
	m.step = Input{}
	m.mu.Unlock()

	m.storeMu.Lock()
	m.store.SetCurrent(nil)
	m.storeMu.Unlock()
	m.notify()
}

// Close cancels any call in flight. An interrupted analysis returns to input; other
// waiting steps stay parked and can be retried.
func (m *Machine) Close() {
	m.mu.Lock()
	if !m.busy {
		m.mu.Unlock()
		return
	}
	m.epoch++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.busy = false
	if a, ok := m.step.(Analyzing); ok {
		m.step = Input(a)
	} else {
		m.err = MsgCanceled
	}
	m.mu.Unlock()
	m.notify()
}

// beginLocked marks the machine busy and derives the call context.
func (m *Machine) beginLocked(ctx context.Context) (context.Context, uint64) {
	callCtx, cancel := context.WithCancel(ctx)
	m.busy = true
	m.err = ""
	m.cancel = cancel
	return callCtx, m.epoch
}

func (m *Machine) endLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.busy = false
}

func (m *Machine) moveLocked(next Step) error {
	if err := Transition(m.step.Name(), next.Name()); err != nil {
		return err
	}
	m.step = next
	return nil
}

// advance moves to next while staying busy.
func (m *Machine) advance(epoch uint64, next Step) error {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return ErrSuperseded
	}
	if err := m.moveLocked(next); err != nil {
		m.endLocked()
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()
	m.notify()
	return nil
}

// finish moves to next and ends the call.
func (m *Machine) finish(epoch uint64, next Step) error {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return ErrSuperseded
	}
	err := m.moveLocked(next)
	m.endLocked()
	m.mu.Unlock()
	m.notify()
	return err
}

// replace swaps the data of the current step without a transition.
func (m *Machine) replace(epoch uint64, s Step) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch || m.step.Name() != s.Name() {
		return false
	}
	m.step = s
	return true
}

// fail records the error and ends the call. A non-nil back step is entered; otherwise
// the machine stays parked in the current step.
func (m *Machine) fail(epoch uint64, op string, err error, fallback string, back Step) error {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return ErrSuperseded
	}
	m.err = sdk.ErrorMessage(err, fallback)
	if back != nil {
		if terr := m.moveLocked(back); terr != nil {
			m.log.Error("fallback transition rejected", "error", terr)
		}
	}
	step := m.step.Name()
	m.endLocked()
	m.mu.Unlock()
	m.log.Warn("wizard call failed", "op", op, "step", step, "error", err)
	m.notify()
	return fmt.Errorf("%s: %w", op, err)
}

// commit runs fn unless the call was superseded. Reset takes storeMu too, so a stale
// result never lands in the session after it was cleared.
func (m *Machine) commit(epoch uint64, fn func()) bool {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	m.mu.Lock()
	current := m.epoch == epoch
	m.mu.Unlock()
	if current {
		fn()
	}
	return current
}

func (m *Machine) notify() {
	m.mu.Lock()
	snap := m.snapshotLocked()
	listeners := append([]func(Snapshot){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		Step:       m.step.clone(),
		Error:      m.err,
		Busy:       m.busy,
		WorkflowID: m.workflowID,
	}
}

func toMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
