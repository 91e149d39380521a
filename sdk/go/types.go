package flowgensdk

import "sort"

// Workflow request statuses reported by the backend.
const (
	StatusPending         = "pending"
	StatusAnalyzing       = "analyzing"
	StatusAwaitingAnswers = "awaiting_answers"
	StatusGeneratingSpec  = "generating_spec"
	StatusSpecReview      = "spec_review"
	StatusSpecApproved    = "spec_approved"
	StatusGeneratingJSON  = "generating_json"
	StatusTesting         = "testing"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
)

var statusLabels = map[string]string{
	StatusCompleted:       "completed",
	StatusFailed:          "failed",
	StatusPending:         "pending",
	StatusAnalyzing:       "analyzing",
	StatusAwaitingAnswers: "awaiting answers",
	StatusGeneratingSpec:  "generating spec",
	StatusSpecReview:      "spec review",
	StatusSpecApproved:    "spec approved",
	StatusGeneratingJSON:  "generating JSON",
	StatusTesting:         "testing",
}

// StatusLabel returns display text for a workflow status. Unknown statuses are returned as is.
func StatusLabel(status string) string {
	if l, ok := statusLabels[status]; ok {
		return l
	}
	return status
}

// Question types.
const (
	QuestionText           = "text"
	QuestionChoice         = "choice"
	QuestionMultipleChoice = "multiple_choice"
)

// UserRequirement is the body of a create call.
type UserRequirement struct {
	Requirement string `json:"requirement"`
	Context     string `json:"context,omitempty"`
}

// Question is a clarifying question produced by analysis.
type Question struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Type     string   `json:"question_type"`
	Options  []string `json:"options,omitempty"`
	Required bool     `json:"required"`
}

// Answer pairs a question id with the user's response.
type Answer struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// WorkflowRequest is the backend's workflow generation record.
type WorkflowRequest struct {
	ID                  int64          `json:"id"`
	Status              string         `json:"status"`
	UserRequirement     string         `json:"user_requirement"`
	AnalyzedRequirement map[string]any `json:"analyzed_requirement,omitempty"`
	QuestionsAsked      []Question     `json:"questions_asked,omitempty"`
	DevelopmentSpec     string         `json:"development_spec,omitempty"`
	GeneratedJSON       string         `json:"generated_json,omitempty"`
	TestResults         map[string]any `json:"test_results,omitempty"`
	FinalJSON           string         `json:"final_json,omitempty"`
	CreatedAt           string         `json:"created_at"`
	UpdatedAt           string         `json:"updated_at"`
}

// Document returns the final document when present, otherwise the generated one.
func (w WorkflowRequest) Document() string {
	if w.FinalJSON != "" {
		return w.FinalJSON
	}
	return w.GeneratedJSON
}

// WorkflowList is a page of workflow requests.
type WorkflowList struct {
	Total int               `json:"total"`
	Items []WorkflowRequest `json:"items"`
}

// Analysis is the analyze response.
type Analysis struct {
	Summary              string     `json:"summary"`
	IdentifiedComponents []string   `json:"identified_components"`
	MissingInformation   []string   `json:"missing_information"`
	Questions            []Question `json:"questions"`
	EstimatedComplexity  string     `json:"estimated_complexity"`
}

// SpecResult is the generate-spec response.
type SpecResult struct {
	DevelopmentSpec string `json:"development_spec"`
}

// JSONResult is the generate-json response.
type JSONResult struct {
	WorkflowJSON string `json:"workflow_json"`
}

// TestResult is the test-optimize response.
type TestResult struct {
	Passed                    bool     `json:"passed"`
	Issues                    []string `json:"issues"`
	Suggestions               []string `json:"suggestions"`
	OptimizationOpportunities []string `json:"optimization_opportunities"`
	OptimizedJSON             string   `json:"optimized_json,omitempty"`
}

// Message is the generic acknowledgement body.
type Message struct {
	Message string `json:"message"`
}

// LLM providers known to the settings form.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderCustom    = "custom"
)

// LLMConfig is a language-model provider configuration.
type LLMConfig struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	APIKey      string `json:"api_key,omitempty"`
	APIURL      string `json:"api_url,omitempty"`
	ModelName   string `json:"model_name"`
	Temperature int    `json:"temperature"`
	MaxTokens   int    `json:"max_tokens"`
	IsActive    bool   `json:"is_active"`
	IsDefault   bool   `json:"is_default"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// LearnedExample is an ingested reference workflow.
type LearnedExample struct {
	ID              int64    `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Source          string   `json:"source"`
	SourceURL       string   `json:"source_url,omitempty"`
	WorkflowJSON    string   `json:"workflow_json,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	NodesUsed       []string `json:"nodes_used,omitempty"`
	ComplexityLevel string   `json:"complexity_level,omitempty"`
	Stars           int      `json:"stars"`
	LearnedAt       string   `json:"learned_at"`
}

// LearningLog records one ingestion run for a source type.
type LearningLog struct {
	ID            int64  `json:"id"`
	LearningType  string `json:"learning_type"`
	ExamplesFound int    `json:"examples_found"`
	ExamplesAdded int    `json:"examples_added"`
	Status        string `json:"status"`
	ErrorMessage  string `json:"error_message,omitempty"`
	StartedAt     string `json:"started_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

// LearningStats aggregates learned examples.
type LearningStats struct {
	TotalExamples int            `json:"total_examples"`
	BySource      map[string]int `json:"by_source"`
	ByComplexity  map[string]int `json:"by_complexity"`
	TopNodes      map[string]int `json:"top_nodes"`
}

// NodeCount is a node type with its usage count.
type NodeCount struct {
	Node  string
	Count int
}

// RankedNodes returns TopNodes ordered by count desc, then name.
func (s LearningStats) RankedNodes() []NodeCount {
	out := make([]NodeCount, 0, len(s.TopNodes))
	for n, c := range s.TopNodes {
		out = append(out, NodeCount{Node: n, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Node < out[j].Node
	})
	return out
}
