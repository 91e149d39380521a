package server

import (
	"strings"

	"flowgen/internal/domain"
)

// Request payloads

type CreateWorkflowRequest struct {
	_           struct{} `json:"-" additionalProperties:"true"`
	Requirement string   `json:"requirement" minLength:"1"`
	Context     string   `json:"context,omitempty"`
}

type AnswerRequest struct {
	_          struct{} `json:"-" additionalProperties:"true"`
	QuestionID string   `json:"question_id"`
	Answer     string   `json:"answer"`
}

type UpdateSpecRequest struct {
	_               struct{} `json:"-" additionalProperties:"true"`
	DevelopmentSpec string   `json:"development_spec"`
}

// CreateLLMConfigRequest mirrors the settings form. Ranges are checked with validator tags after
// defaults are applied.
type CreateLLMConfigRequest struct {
	_           struct{} `json:"-" additionalProperties:"true"`
	Name        string   `json:"name" validate:"required"`
	Provider    string   `json:"provider" validate:"required,oneof=openai anthropic ollama custom"`
	APIKey      string   `json:"api_key,omitempty"`
	APIURL      string   `json:"api_url,omitempty" validate:"omitempty,url"`
	ModelName   string   `json:"model_name" validate:"required"`
	Temperature *int     `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=100"`
	MaxTokens   *int     `json:"max_tokens,omitempty" validate:"omitempty,gte=100,lte=32000"`
	IsDefault   bool     `json:"is_default,omitempty"`
}

// Default form values applied when a field is omitted.
const (
	defaultTemperature = 70
	defaultMaxTokens   = 4000
)

func (r CreateLLMConfigRequest) toDomain() domain.LLMConfig {
	c := domain.LLMConfig{
		Name:        strings.TrimSpace(r.Name),
		Provider:    r.Provider,
		APIKey:      r.APIKey,
		APIURL:      r.APIURL,
		ModelName:   strings.TrimSpace(r.ModelName),
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
		IsDefault:   r.IsDefault,
	}
	if r.Temperature != nil {
		c.Temperature = *r.Temperature
	}
	if r.MaxTokens != nil {
		c.MaxTokens = *r.MaxTokens
	}
	return c
}

// Response payloads

type MessageResponse struct {
	Message string `json:"message"`
}

type WorkflowListResponse struct {
	Total int                      `json:"total"`
	Items []domain.WorkflowRequest `json:"items"`
}

type SpecResponse struct {
	DevelopmentSpec string `json:"development_spec"`
}

type WorkflowJSONResponse struct {
	WorkflowJSON string `json:"workflow_json"`
}

type errorItem struct {
	Loc  string `json:"loc,omitempty"`
	Msg  string `json:"msg"`
	Type string `json:"type,omitempty"`
}

func answersToDomain(in []AnswerRequest) []domain.Answer {
	out := make([]domain.Answer, 0, len(in))
	for _, a := range in {
		out = append(out, domain.Answer{QuestionID: a.QuestionID, Answer: a.Answer})
	}
	return out
}

func nonNilWorkflows(items []domain.WorkflowRequest) []domain.WorkflowRequest {
	if items == nil {
		return []domain.WorkflowRequest{}
	}
	return items
}
