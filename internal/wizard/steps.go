package wizard

import (
	"fmt"

	sdk "flowgen/sdk/go"
)

// StepName identifies a wizard step.
type StepName string

const (
	StepInput          StepName = "input"
	StepAnalyzing      StepName = "analyzing"
	StepQuestions      StepName = "questions"
	StepGeneratingSpec StepName = "generating_spec"
	StepSpecReview     StepName = "spec_review"
	StepGeneratingJSON StepName = "generating_json"
	StepTesting        StepName = "testing"
	StepCompleted      StepName = "completed"
)

// Step is one variant of the wizard state. Each variant carries only the data of its step.
type Step interface {
	Name() StepName
	clone() Step
}

// Input collects the requirement text.
type Input struct {
	Requirement string
	Context     string
}

// Analyzing waits on create + analyze.
type Analyzing struct {
	Requirement string
	Context     string
}

// Questions renders one control per clarifying question.
type Questions struct {
	Questions []sdk.Question
	// Answers holds the values set so far, keyed by question id.
	Answers map[string]string
}

// GeneratingSpec waits on answer submission and spec generation.
type GeneratingSpec struct {
	Answers       []sdk.Answer
	AnswersPosted bool
}

// SpecReview shows the editable development spec.
type SpecReview struct {
	Spec string
}

// GeneratingJSON waits on update-spec and generate-json.
type GeneratingJSON struct {
	Spec       string
	SpecPushed bool
}

// Testing waits on test-and-optimize.
type Testing struct {
	Generated string
}

// Completed is terminal: test outcome plus the editable final document.
type Completed struct {
	Result    sdk.TestResult
	Generated string
	Document  string
}

func (Input) Name() StepName          { return StepInput }
func (Analyzing) Name() StepName      { return StepAnalyzing }
func (Questions) Name() StepName      { return StepQuestions }
func (GeneratingSpec) Name() StepName { return StepGeneratingSpec }
func (SpecReview) Name() StepName     { return StepSpecReview }
func (GeneratingJSON) Name() StepName { return StepGeneratingJSON }
func (Testing) Name() StepName        { return StepTesting }
func (Completed) Name() StepName      { return StepCompleted }

func (s Input) clone() Step     { return s }
func (s Analyzing) clone() Step { return s }
func (s Questions) clone() Step {
	out := Questions{Questions: make([]sdk.Question, len(s.Questions)), Answers: make(map[string]string, len(s.Answers))}
	for i, q := range s.Questions {
		q.Options = append([]string(nil), q.Options...)
		out.Questions[i] = q
	}
	for k, v := range s.Answers {
		out.Answers[k] = v
	}
	return out
}
func (s GeneratingSpec) clone() Step {
	s.Answers = append([]sdk.Answer(nil), s.Answers...)
	return s
}
func (s SpecReview) clone() Step     { return s }
func (s GeneratingJSON) clone() Step { return s }
func (s Testing) clone() Step        { return s }
func (s Completed) clone() Step {
	s.Result.Issues = append([]string(nil), s.Result.Issues...)
	s.Result.Suggestions = append([]string(nil), s.Result.Suggestions...)
	s.Result.OptimizationOpportunities = append([]string(nil), s.Result.OptimizationOpportunities...)
	return s
}

// Waiting reports whether a step has no user interaction of its own.
func Waiting(name StepName) bool {
	switch name {
	case StepAnalyzing, StepGeneratingSpec, StepGeneratingJSON, StepTesting:
		return true
	}
	return false
}

// validTransitions is the allow-list of step changes. Every step may go back to input.
var validTransitions = map[StepName]map[StepName]bool{
	StepInput: {
		StepAnalyzing: true,
		StepInput:     true,
	},
	StepAnalyzing: {
		StepQuestions:      true,
		StepGeneratingSpec: true,
		StepInput:          true,
	},
	StepQuestions: {
		StepGeneratingSpec: true,
		StepInput:          true,
	},
	StepGeneratingSpec: {
		StepSpecReview: true,
		StepInput:      true,
	},
	StepSpecReview: {
		StepGeneratingJSON: true,
		StepInput:          true,
	},
	StepGeneratingJSON: {
		StepTesting: true,
		StepInput:   true,
	},
	StepTesting: {
		StepCompleted: true,
		StepInput:     true,
	},
	StepCompleted: {
		StepInput: true,
	},
}

// Transition validates a step change.
func Transition(from, to StepName) error {
	if targets, ok := validTransitions[from]; ok && targets[to] {
		return nil
	}
	return fmt.Errorf("invalid wizard transition: %s → %s", from, to)
}

// FinalDocument picks the optimized document when the backend returned one, else the generated one.
func FinalDocument(result sdk.TestResult, generated string) string {
	if result.OptimizedJSON != "" {
		return result.OptimizedJSON
	}
	return generated
}
