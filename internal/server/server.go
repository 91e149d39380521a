package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"flowgen/internal/domain"
	"flowgen/internal/engine"
	"flowgen/internal/logging"
	"flowgen/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine engine.Engine
	Auth   AuthConfig
	Logger *slog.Logger
}

// Paths served without authentication.
const (
	healthPath  = "/health"
	openAPIPath = "/openapi.json"
	docsPath    = "/docs"
)

// Default page sizes of the list endpoints.
const (
	defaultWorkflowLimit = 20
	defaultExampleLimit  = 50
	defaultLogLimit      = 20
)

// apiError is the {"detail": ...} envelope. Detail is a string, or a list of items for
// validation failures.
type apiError struct {
	status int
	Detail any `json:"detail"`
}

func (e *apiError) GetStatus() int { return e.status }

func (e *apiError) Error() string {
	if s, ok := e.Detail.(string); ok {
		return s
	}
	return http.StatusText(e.status)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// New returns an HTTP handler exposing the workflow generation API.
func New(cfg Config) (http.Handler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.WithModule("server")
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newErrorFromDetails(status, msg, errs)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return newErrorFromDetails(status, msg, errs)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(cfg.Auth, logger, healthPath, openAPIPath, docsPath))
	hcfg := huma.DefaultConfig("Workflow Generator API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)

	registerDocs(router)
	registerHealth(api)
	registerWorkflows(huma.NewGroup(api, "/api/workflow"), cfg.Engine)
	registerLLMConfigs(huma.NewGroup(api, "/api/llm"), cfg.Engine)
	registerLearning(huma.NewGroup(api, "/api/learning"), cfg.Engine)
	registerOpenAPI(router, api, cfg.Auth.enabled())

	return router, nil
}

func newAPIError(status int, detail string) huma.StatusError {
	return &apiError{status: status, Detail: detail}
}

func newErrorFromDetails(status int, msg string, errs []error) huma.StatusError {
	var items []errorItem
	for _, err := range errs {
		if err == nil {
			continue
		}
		var d huma.ErrorDetailer
		if errors.As(err, &d) {
			ed := d.ErrorDetail()
			items = append(items, errorItem{Loc: ed.Location, Msg: ed.Message, Type: "value_error"})
			continue
		}
		items = append(items, errorItem{Msg: err.Error()})
	}
	if len(items) == 0 {
		return newAPIError(status, msg)
	}
	return &apiError{status: status, Detail: items}
}

// validationError converts validator failures into the same shape huma uses for schema errors.
func validationError(err error) huma.StatusError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newAPIError(http.StatusUnprocessableEntity, err.Error())
	}
	items := make([]errorItem, 0, len(verrs))
	for _, fe := range verrs {
		items = append(items, errorItem{
			Loc:  "body." + fe.Field(),
			Msg:  fieldMessage(fe),
			Type: "value_error",
		})
	}
	return &apiError{status: http.StatusUnprocessableEntity, Detail: items}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// handleError maps engine errors to responses. notFound is the detail used for missing records.
func handleError(err error, notFound string) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, notFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newAPIError(http.StatusServiceUnavailable, err.Error())
	}
	return newAPIError(http.StatusInternalServerError, err.Error())
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			}
			if id := r.Header.Get("X-Request-Id"); id != "" {
				attrs = append(attrs, "request_id", id)
			}
			logger.Info("request", attrs...)
		})
	}
}

func registerDocs(r chi.Router) {
	r.Get(docsPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML)
	})
}

func registerOpenAPI(r chi.Router, api huma.API, auth bool) {
	var spec []byte
	r.Get(openAPIPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			if auth {
				applyAuthSecurity(oas)
			}
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

const swaggerHTML = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Workflow Generator API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '/openapi.json',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        healthPath,
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type idPath struct {
	ID int64 `path:"id"`
}

type messageOutput struct {
	Body MessageResponse `json:"body"`
}

func message(format string, args ...any) *messageOutput {
	return &messageOutput{Body: MessageResponse{Message: fmt.Sprintf(format, args...)}}
}

// Not-found details of the workflow endpoints.
const (
	requestNotFound  = "Request not found"
	workflowNotFound = "Workflow request not found"
)

func registerWorkflows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-workflow",
		Method:      http.MethodPost,
		Path:        "/create",
		Summary:     "Create a workflow generation request",
		Errors:      []int{http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkflowRequest `json:"body"`
	}) (*struct {
		Body domain.WorkflowRequest `json:"body"`
	}, error) {
		w, err := e.CreateWorkflow(ctx, input.Body.Requirement, input.Body.Context)
		if err != nil {
			return nil, handleError(err, requestNotFound)
		}
		return &struct {
			Body domain.WorkflowRequest `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analyze-workflow",
		Method:      http.MethodPost,
		Path:        "/{id}/analyze",
		Summary:     "Analyze the requirement and ask clarifying questions",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.Analysis `json:"body"`
	}, error) {
		a, err := e.Analyze(ctx, input.ID)
		if err != nil {
			return nil, handleError(err, requestNotFound)
		}
		return &struct {
			Body domain.Analysis `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-answers",
		Method:      http.MethodPost,
		Path:        "/{id}/answers",
		Summary:     "Submit answers to clarifying questions",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   int64           `path:"id"`
		Body []AnswerRequest `json:"body"`
	}) (*messageOutput, error) {
		if err := e.SubmitAnswers(ctx, input.ID, answersToDomain(input.Body)); err != nil {
			return nil, handleError(err, requestNotFound)
		}
		return message("Answers submitted successfully"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-spec",
		Method:      http.MethodPost,
		Path:        "/{id}/generate-spec",
		Summary:     "Generate the development specification",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body SpecResponse `json:"body"`
	}, error) {
		spec, err := e.GenerateSpec(ctx, input.ID)
		if err != nil {
			return nil, handleError(err, requestNotFound)
		}
		return &struct {
			Body SpecResponse `json:"body"`
		}{Body: SpecResponse{DevelopmentSpec: spec}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-spec",
		Method:      http.MethodPut,
		Path:        "/{id}/update-spec",
		Summary:     "Replace the development specification with the reviewed text",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   int64             `path:"id"`
		Body UpdateSpecRequest `json:"body"`
	}) (*messageOutput, error) {
		if err := e.UpdateSpec(ctx, input.ID, input.Body.DevelopmentSpec); err != nil {
			return nil, handleError(err, requestNotFound)
		}
		return message("Development spec updated successfully"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-json",
		Method:      http.MethodPost,
		Path:        "/{id}/generate-json",
		Summary:     "Generate the n8n workflow document",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body WorkflowJSONResponse `json:"body"`
	}, error) {
		doc, err := e.GenerateJSON(ctx, input.ID)
		if err != nil {
			return nil, handleError(err, requestNotFound)
		}
		return &struct {
			Body WorkflowJSONResponse `json:"body"`
		}{Body: WorkflowJSONResponse{WorkflowJSON: doc}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "test-optimize",
		Method:      http.MethodPost,
		Path:        "/{id}/test-optimize",
		Summary:     "Test the generated document and optimize it",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.TestResult `json:"body"`
	}, error) {
		res, err := e.TestAndOptimize(ctx, input.ID)
		if err != nil {
			return nil, handleError(err, requestNotFound)
		}
		return &struct {
			Body domain.TestResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/{id}",
		Summary:     "Get a workflow request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.WorkflowRequest `json:"body"`
	}, error) {
		w, err := e.GetWorkflow(ctx, input.ID)
		if err != nil {
			return nil, handleError(err, workflowNotFound)
		}
		return &struct {
			Body domain.WorkflowRequest `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "List workflow requests, newest first",
	}, func(ctx context.Context, input *struct {
		Skip  int `query:"skip" default:"0" minimum:"0"`
		Limit int `query:"limit" default:"20" minimum:"1"`
	}) (*struct {
		Body WorkflowListResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = defaultWorkflowLimit
		}
		items, total, err := e.ListWorkflows(ctx, input.Skip, limit)
		if err != nil {
			return nil, handleError(err, workflowNotFound)
		}
		return &struct {
			Body WorkflowListResponse `json:"body"`
		}{Body: WorkflowListResponse{Total: total, Items: nonNilWorkflows(items)}}, nil
	})
}

const configNotFound = "Configuration not found"

func registerLLMConfigs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-llm-config",
		Method:      http.MethodPost,
		Path:        "/config",
		Summary:     "Create an LLM provider configuration",
		Errors:      []int{http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateLLMConfigRequest `json:"body"`
	}) (*struct {
		Body domain.LLMConfig `json:"body"`
	}, error) {
		if err := validate.Struct(input.Body); err != nil {
			return nil, validationError(err)
		}
		c, err := e.CreateLLMConfig(ctx, input.Body.toDomain())
		if err != nil {
			return nil, handleError(err, configNotFound)
		}
		return &struct {
			Body domain.LLMConfig `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-llm-configs",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "List LLM provider configurations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.LLMConfig `json:"body"`
	}, error) {
		items, err := e.ListLLMConfigs(ctx)
		if err != nil {
			return nil, handleError(err, configNotFound)
		}
		if items == nil {
			items = []domain.LLMConfig{}
		}
		return &struct {
			Body []domain.LLMConfig `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-llm-config",
		Method:      http.MethodGet,
		Path:        "/config/{id}",
		Summary:     "Get an LLM provider configuration",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.LLMConfig `json:"body"`
	}, error) {
		c, err := e.GetLLMConfig(ctx, input.ID)
		if err != nil {
			return nil, handleError(err, configNotFound)
		}
		return &struct {
			Body domain.LLMConfig `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activate-llm-config",
		Method:      http.MethodPut,
		Path:        "/config/{id}/activate",
		Summary:     "Make a configuration the only active one",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*messageOutput, error) {
		c, err := e.ActivateLLMConfig(ctx, input.ID)
		if err != nil {
			return nil, handleError(err, configNotFound)
		}
		return message("Configuration '%s' activated", c.Name), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-llm-config",
		Method:      http.MethodDelete,
		Path:        "/config/{id}",
		Summary:     "Delete an LLM provider configuration",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*messageOutput, error) {
		if err := e.DeleteLLMConfig(ctx, input.ID); err != nil {
			return nil, handleError(err, configNotFound)
		}
		return message("Configuration deleted"), nil
	})
}

const exampleNotFound = "Example not found"

func registerLearning(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-learning",
		Method:      http.MethodPost,
		Path:        "/run",
		Summary:     "Start a learning cycle in the background",
	}, func(ctx context.Context, _ *struct{}) (*messageOutput, error) {
		if !e.StartLearning() {
			return message("Learning cycle already running"), nil
		}
		return message("Learning cycle started in background"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-examples",
		Method:      http.MethodGet,
		Path:        "/examples",
		Summary:     "List learned examples",
	}, func(ctx context.Context, input *struct {
		Skip   int    `query:"skip" default:"0" minimum:"0"`
		Limit  int    `query:"limit" default:"50" minimum:"1"`
		Source string `query:"source"`
	}) (*struct {
		Body []domain.LearnedExample `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = defaultExampleLimit
		}
		items, err := e.ListExamples(ctx, input.Skip, limit, input.Source)
		if err != nil {
			return nil, handleError(err, exampleNotFound)
		}
		if items == nil {
			items = []domain.LearnedExample{}
		}
		return &struct {
			Body []domain.LearnedExample `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-example",
		Method:      http.MethodGet,
		Path:        "/examples/{id}",
		Summary:     "Get a learned example with its workflow document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.LearnedExample `json:"body"`
	}, error) {
		ex, err := e.GetExample(ctx, input.ID)
		if err != nil {
			return nil, handleError(err, exampleNotFound)
		}
		return &struct {
			Body domain.LearnedExample `json:"body"`
		}{Body: ex}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-learning-logs",
		Method:      http.MethodGet,
		Path:        "/logs",
		Summary:     "List learning runs, newest first",
	}, func(ctx context.Context, input *struct {
		Skip  int `query:"skip" default:"0" minimum:"0"`
		Limit int `query:"limit" default:"20" minimum:"1"`
	}) (*struct {
		Body []domain.LearningLog `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = defaultLogLimit
		}
		items, err := e.ListLearningLogs(ctx, input.Skip, limit)
		if err != nil {
			return nil, handleError(err, "Log not found")
		}
		if items == nil {
			items = []domain.LearningLog{}
		}
		return &struct {
			Body []domain.LearningLog `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "learning-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Aggregate statistics over learned examples",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.LearningStats `json:"body"`
	}, error) {
		stats, err := e.LearningStats(ctx)
		if err != nil {
			return nil, handleError(err, exampleNotFound)
		}
		return &struct {
			Body domain.LearningStats `json:"body"`
		}{Body: stats}, nil
	})
}
