// Package session holds the view state shared by the wizard and the list views
// for the lifetime of one flowgen process.
package session

import (
	"sync"

	sdk "flowgen/sdk/go"
)

// Snapshot is a copy of the store contents.
type Snapshot struct {
	Current   *sdk.WorkflowRequest
	Workflows []sdk.WorkflowRequest
	Loading   bool
	Error     string
}

// WorkflowPatch is a partial update of the current workflow. Nil fields are left untouched.
type WorkflowPatch struct {
	Status              *string
	AnalyzedRequirement map[string]any
	QuestionsAsked      []sdk.Question
	DevelopmentSpec     *string
	GeneratedJSON       *string
	TestResults         map[string]any
	FinalJSON           *string
	UpdatedAt           *string
}

// Store is the single owner of the current workflow.
type Store struct {
	mu        sync.Mutex
	current   *sdk.WorkflowRequest
	workflows []sdk.WorkflowRequest
	loading   bool
	err       string

	nextSub int
	subs    map[int]func(Snapshot)
}

// New returns an empty store.
func New() *Store {
	return &Store{subs: map[int]func(Snapshot){}}
}

// SetCurrent replaces the current workflow. Nil clears it.
func (s *Store) SetCurrent(wf *sdk.WorkflowRequest) {
	s.mutate(func() {
		if wf == nil {
			s.current = nil
			return
		}
		cp := *wf
		s.current = &cp
	})
}

// Current returns a copy of the current workflow.
func (s *Store) Current() (sdk.WorkflowRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return sdk.WorkflowRequest{}, false
	}
	return *s.current, true
}

// SetWorkflows replaces the workflow list.
func (s *Store) SetWorkflows(items []sdk.WorkflowRequest) {
	s.mutate(func() {
		s.workflows = append([]sdk.WorkflowRequest(nil), items...)
	})
}

// Workflows returns a copy of the workflow list.
func (s *Store) Workflows() []sdk.WorkflowRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sdk.WorkflowRequest(nil), s.workflows...)
}

// SetLoading sets the loading flag.
func (s *Store) SetLoading(loading bool) {
	s.mutate(func() { s.loading = loading })
}

// SetError sets the error text. Empty clears it.
func (s *Store) SetError(msg string) {
	s.mutate(func() { s.err = msg })
}

// Update merges patch into the current workflow. It does nothing when there is none.
func (s *Store) Update(patch WorkflowPatch) {
	s.mutate(func() {
		if s.current == nil {
			return
		}
		wf := s.current
		if patch.Status != nil {
			wf.Status = *patch.Status
		}
		if patch.AnalyzedRequirement != nil {
			wf.AnalyzedRequirement = patch.AnalyzedRequirement
		}
		if patch.QuestionsAsked != nil {
			wf.QuestionsAsked = append([]sdk.Question(nil), patch.QuestionsAsked...)
		}
		if patch.DevelopmentSpec != nil {
			wf.DevelopmentSpec = *patch.DevelopmentSpec
		}
		if patch.GeneratedJSON != nil {
			wf.GeneratedJSON = *patch.GeneratedJSON
		}
		if patch.TestResults != nil {
			wf.TestResults = patch.TestResults
		}
		if patch.FinalJSON != nil {
			wf.FinalJSON = *patch.FinalJSON
		}
		if patch.UpdatedAt != nil {
			wf.UpdatedAt = *patch.UpdatedAt
		}
	})
}

// Snapshot returns a copy of everything in the store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to run after every mutation. The returned func unregisters it.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) mutate(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub(snap)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Workflows: append([]sdk.WorkflowRequest(nil), s.workflows...),
		Loading:   s.loading,
		Error:     s.err,
	}
	if s.current != nil {
		cp := *s.current
		snap.Current = &cp
	}
	return snap
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}
