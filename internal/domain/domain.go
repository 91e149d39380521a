package domain

// TimeLayout formats stored timestamps. The fixed width keeps them sortable as text.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Workflow request statuses.
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

// Learning sources and run statuses.
const (
	SourceDocs      = "official_docs"
	SourceTemplates = "templates"
	SourceGitHub    = "github"

	LearningDocs      = "docs"
	LearningTemplates = "templates"
	LearningGitHub    = "github"

	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

type Question struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	QuestionType string   `json:"question_type" enum:"text,choice,multiple_choice"`
	Options      []string `json:"options,omitempty"`
	Required     bool     `json:"required"`
}

type Answer struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
	Question   string `json:"question,omitempty"`
}

type WorkflowRequest struct {
	ID                  int64          `json:"id"`
	Status              string         `json:"status" enum:"pending,analyzing,awaiting_answers,generating_spec,spec_review,spec_approved,generating_json,testing,completed,failed"`
	UserRequirement     string         `json:"user_requirement"`
	Context             string         `json:"-"`
	AnalyzedRequirement map[string]any `json:"analyzed_requirement,omitempty"`
	QuestionsAsked      []Question     `json:"questions_asked,omitempty"`
	UserAnswers         []Answer       `json:"-"`
	DevelopmentSpec     string         `json:"development_spec,omitempty"`
	GeneratedJSON       string         `json:"generated_json,omitempty"`
	TestResults         map[string]any `json:"test_results,omitempty"`
	FinalJSON           string         `json:"final_json,omitempty"`
	CreatedAt           string         `json:"created_at" format:"date-time"`
	UpdatedAt           string         `json:"updated_at" format:"date-time"`
}

type Analysis struct {
	Summary              string     `json:"summary"`
	IdentifiedComponents []string   `json:"identified_components"`
	MissingInformation   []string   `json:"missing_information"`
	Questions            []Question `json:"questions"`
	EstimatedComplexity  string     `json:"estimated_complexity" enum:"simple,medium,complex"`
}

type TestResult struct {
	Passed                    bool     `json:"passed"`
	Issues                    []string `json:"issues"`
	Suggestions               []string `json:"suggestions"`
	OptimizationOpportunities []string `json:"optimization_opportunities"`
	OptimizedJSON             string   `json:"optimized_json,omitempty"`
}

type LLMConfig struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Provider    string `json:"provider" enum:"openai,anthropic,ollama,custom"`
	APIKey      string `json:"-"`
	APIURL      string `json:"api_url,omitempty"`
	ModelName   string `json:"model_name"`
	Temperature int    `json:"temperature"`
	MaxTokens   int    `json:"max_tokens"`
	IsActive    bool   `json:"is_active"`
	IsDefault   bool   `json:"is_default"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

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
	LearnedAt       string   `json:"learned_at" format:"date-time"`
}

type LearningLog struct {
	ID            int64  `json:"id"`
	LearningType  string `json:"learning_type"`
	ExamplesFound int    `json:"examples_found"`
	ExamplesAdded int    `json:"examples_added"`
	Status        string `json:"status" enum:"running,completed,failed"`
	ErrorMessage  string `json:"error_message,omitempty"`
	StartedAt     string `json:"started_at" format:"date-time"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

type LearningStats struct {
	TotalExamples int            `json:"total_examples"`
	BySource      map[string]int `json:"by_source"`
	ByComplexity  map[string]int `json:"by_complexity"`
	TopNodes      map[string]int `json:"top_nodes"`
}
