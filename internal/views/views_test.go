package views

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowgen/internal/session"
	sdk "flowgen/sdk/go"
)

type fakeAPI struct {
	mu sync.Mutex

	workflows []sdk.WorkflowRequest
	listArgs  [][2]int
	gets      []int64

	configs []sdk.LLMConfig
	created []sdk.LLMConfig

	stats    sdk.LearningStats
	logs     []sdk.LearningLog
	examples []sdk.LearnedExample
	runs     int
	loads    int
	exArgs   []string

	err error
}

func (f *fakeAPI) ListWorkflows(ctx context.Context, skip, limit int) (sdk.WorkflowList, error) {
	f.listArgs = append(f.listArgs, [2]int{skip, limit})
	if f.err != nil {
		return sdk.WorkflowList{}, f.err
	}
	return sdk.WorkflowList{Total: len(f.workflows), Items: f.workflows}, nil
}

func (f *fakeAPI) GetWorkflow(ctx context.Context, id int64) (sdk.WorkflowRequest, error) {
	f.gets = append(f.gets, id)
	return sdk.WorkflowRequest{ID: id, Status: sdk.StatusCompleted}, nil
}

func (f *fakeAPI) ListLLMConfigs(ctx context.Context) ([]sdk.LLMConfig, error) {
	return append([]sdk.LLMConfig(nil), f.configs...), f.err
}

func (f *fakeAPI) CreateLLMConfig(ctx context.Context, cfg sdk.LLMConfig) (sdk.LLMConfig, error) {
	cfg.ID = int64(len(f.configs) + 1)
	f.created = append(f.created, cfg)
	f.configs = append(f.configs, cfg)
	return cfg, nil
}

func (f *fakeAPI) ActivateLLMConfig(ctx context.Context, id int64) (sdk.Message, error) {
	found := false
	for i := range f.configs {
		f.configs[i].IsActive = f.configs[i].ID == id
		found = found || f.configs[i].ID == id
	}
	if !found {
		return sdk.Message{}, &sdk.APIError{StatusCode: http.StatusNotFound, Detail: "Configuration not found"}
	}
	return sdk.Message{Message: "activated"}, nil
}

func (f *fakeAPI) DeleteLLMConfig(ctx context.Context, id int64) (sdk.Message, error) {
	for i := range f.configs {
		if f.configs[i].ID == id {
			f.configs = append(f.configs[:i], f.configs[i+1:]...)
			return sdk.Message{Message: "deleted"}, nil
		}
	}
	return sdk.Message{}, &sdk.APIError{StatusCode: http.StatusNotFound, Detail: "Configuration not found"}
}

func (f *fakeAPI) RunLearningCycle(ctx context.Context) (sdk.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return sdk.Message{Message: "Learning cycle started"}, nil
}

func (f *fakeAPI) ListExamples(ctx context.Context, skip, limit int, source string) ([]sdk.LearnedExample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exArgs = append(f.exArgs, source)
	return f.examples, f.err
}

func (f *fakeAPI) ListLearningLogs(ctx context.Context, skip, limit int) ([]sdk.LearningLog, error) {
	return f.logs, nil
}

func (f *fakeAPI) LearningStats(ctx context.Context) (sdk.LearningStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.stats, nil
}

func (f *fakeAPI) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func TestHistoryLoadPublishesToStore(t *testing.T) {
	api := &fakeAPI{workflows: []sdk.WorkflowRequest{
		{ID: 2, Status: sdk.StatusCompleted, UserRequirement: "sync\nsheets", FinalJSON: `{"a":1}`, GeneratedJSON: `{"a":0}`},
		{ID: 1, Status: sdk.StatusFailed, UserRequirement: "mail"},
	}}
	store := session.New()
	h := NewHistory(api, store)

	require.NoError(t, h.Load(context.Background()))
	assert.Equal(t, [][2]int{{0, HistoryPageSize}}, api.listArgs)
	assert.Len(t, store.Workflows(), 2)
	assert.False(t, store.Snapshot().Loading)

	var buf bytes.Buffer
	h.Render(&buf)
	assert.Contains(t, buf.String(), "sync sheets")
	assert.Contains(t, buf.String(), "failed")

	wf, err := h.Select(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, Document(wf))
	assert.Empty(t, api.gets)

	_, err = h.Select(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, []int64{99}, api.gets)
	sel, ok := h.Selected()
	require.True(t, ok)
	assert.Equal(t, int64(99), sel.ID)
}

func TestHistoryEmptyAndError(t *testing.T) {
	api := &fakeAPI{}
	h := NewHistory(api, nil)
	require.NoError(t, h.Load(context.Background()))
	var buf bytes.Buffer
	h.Render(&buf)
	assert.Contains(t, buf.String(), "No workflows yet")

	api.err = &sdk.APIError{StatusCode: 500, Detail: "db down"}
	require.Error(t, h.Load(context.Background()))
	assert.Equal(t, "db down", h.Error())
	buf.Reset()
	h.Render(&buf)
	assert.Contains(t, buf.String(), "db down")
}

func TestRenderDetail(t *testing.T) {
	var buf bytes.Buffer
	RenderDetail(&buf, sdk.WorkflowRequest{
		ID:              3,
		Status:          sdk.StatusCompleted,
		UserRequirement: "daily report",
		DevelopmentSpec: "# Spec",
		GeneratedJSON:   `{"nodes":[]}`,
		TestResults:     map[string]any{"passed": false, "issues": []any{"missing trigger"}},
	})
	out := buf.String()
	assert.Contains(t, out, "# Spec")
	assert.Contains(t, out, "missing trigger")
	assert.Contains(t, out, `{"nodes":[]}`)
}

func TestLearningLoadConcurrent(t *testing.T) {
	api := &fakeAPI{
		stats:    sdk.LearningStats{TotalExamples: 2, TopNodes: map[string]int{"n8n-nodes-base.set": 3}},
		logs:     []sdk.LearningLog{{ID: 1, LearningType: "docs", Status: "completed", ExamplesFound: 4, ExamplesAdded: 2}},
		examples: []sdk.LearnedExample{{ID: 5, Title: "Slack alert", Source: "templates"}},
	}
	l := NewLearning(api)
	l.Source = "templates"
	require.NoError(t, l.Load(context.Background()))
	assert.Equal(t, 2, l.Stats().TotalExamples)
	assert.Len(t, l.Logs(), 1)
	assert.Len(t, l.Examples(), 1)
	assert.Equal(t, []string{"templates"}, api.exArgs)

	var buf bytes.Buffer
	l.Render(&buf)
	assert.Contains(t, buf.String(), "Official docs")
	assert.Contains(t, buf.String(), "Slack alert")
	assert.Contains(t, buf.String(), "n8n-nodes-base.set")
}

func TestLearningLoadError(t *testing.T) {
	api := &fakeAPI{err: errors.New("boom")}
	l := NewLearning(api)
	require.Error(t, l.Load(context.Background()))
	var buf bytes.Buffer
	l.Render(&buf)
	assert.Contains(t, buf.String(), "Failed to load learning data")
}

func TestLearningRunSchedulesSingleRefetch(t *testing.T) {
	api := &fakeAPI{}
	l := NewLearning(api)
	l.RefetchDelay = 20 * time.Millisecond
	refreshed := make(chan error, 4)
	l.OnRefresh(func(err error) { refreshed <- err })

	msg, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Learning cycle started", msg)
	_, err = l.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, l.Pending())

	select {
	case err := <-refreshed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("refetch did not happen")
	}
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, api.loadCount())
	assert.False(t, l.Pending())
}

func TestLearningCloseCancelsRefetch(t *testing.T) {
	api := &fakeAPI{}
	l := NewLearning(api)
	l.RefetchDelay = 10 * time.Millisecond
	_, err := l.Run(context.Background())
	require.NoError(t, err)
	l.Close()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, api.loadCount())
}

func TestNodeSummary(t *testing.T) {
	assert.Equal(t, "a, b", NodeSummary([]string{"a", "b"}))
	nodes := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}
	assert.Equal(t, "1, 2, 3, 4, 5, 6, 7, 8 +2", NodeSummary(nodes))
}

func TestLogTypeLabel(t *testing.T) {
	assert.Equal(t, "Official docs", LogTypeLabel("docs"))
	assert.Equal(t, "GitHub", LogTypeLabel("github"))
	assert.Equal(t, "Templates", LogTypeLabel("templates"))
	assert.Contains(t, LogStatusLabel("running"), "in progress")
}

func TestConfigFormDefaultsAndFields(t *testing.T) {
	f := NewConfigForm()
	assert.Equal(t, sdk.ProviderOpenAI, f.Provider)
	assert.Equal(t, "gpt-4-turbo-preview", f.ModelName)
	assert.Equal(t, 70, f.Temperature)
	assert.Equal(t, 4000, f.MaxTokens)
	assert.False(t, f.IsDefault)

	assert.True(t, f.Shows(FieldAPIKey))
	assert.False(t, f.Shows(FieldAPIURL))

	f.Provider = sdk.ProviderOllama
	assert.False(t, f.Shows(FieldAPIKey))
	assert.True(t, f.Shows(FieldAPIURL))

	f.Provider = sdk.ProviderCustom
	assert.True(t, f.Shows(FieldAPIKey))
	assert.True(t, f.Shows(FieldAPIURL))

	f.Provider = sdk.ProviderAnthropic
	assert.True(t, f.Shows(FieldAPIKey))
	assert.False(t, f.Shows(FieldAPIURL))
}

func TestConfigFormValidate(t *testing.T) {
	valid := NewConfigForm()
	valid.Name = "main"
	require.NoError(t, valid.Validate())

	cases := map[string]func(f *ConfigForm){
		"no name":       func(f *ConfigForm) { f.Name = "" },
		"no model":      func(f *ConfigForm) { f.ModelName = "" },
		"bad provider":  func(f *ConfigForm) { f.Provider = "gemini" },
		"hot":           func(f *ConfigForm) { f.Temperature = 101 },
		"cold":          func(f *ConfigForm) { f.Temperature = -1 },
		"few tokens":    func(f *ConfigForm) { f.MaxTokens = 99 },
		"many tokens":   func(f *ConfigForm) { f.MaxTokens = 32001 },
		"malformed url": func(f *ConfigForm) {
			f.Provider = sdk.ProviderCustom
			f.APIURL = "not a url"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := valid
			mutate(&f)
			assert.Error(t, f.Validate())
		})
	}
}

func TestConfigFormIgnoresHiddenURL(t *testing.T) {
	f := NewConfigForm()
	f.Name = "main"
	f.Provider = sdk.ProviderCustom
	f.APIURL = "leftover from custom"
	require.Error(t, f.Validate())

	f.Provider = sdk.ProviderOpenAI
	require.False(t, f.Shows(FieldAPIURL))
	require.NoError(t, f.Validate())
	assert.Empty(t, f.Config().APIURL)
}

func TestConfigDropsHiddenFields(t *testing.T) {
	f := NewConfigForm()
	f.Name = "local"
	f.Provider = sdk.ProviderOllama
	f.APIKey = "secret"
	f.APIURL = "http://localhost:11434"
	cfg := f.Config()
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, "http://localhost:11434", cfg.APIURL)

	f.Provider = sdk.ProviderOpenAI
	cfg = f.Config()
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Empty(t, cfg.APIURL)
}

func TestSettingsAddActivateDelete(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	s := NewSettings(api)
	require.NoError(t, s.Load(ctx))

	bad := NewConfigForm()
	_, err := s.Add(ctx, bad)
	require.Error(t, err)
	assert.Empty(t, api.created)

	form := NewConfigForm()
	form.Name = "a"
	_, err = s.Add(ctx, form)
	require.NoError(t, err)
	form.Name = "b"
	_, err = s.Add(ctx, form)
	require.NoError(t, err)
	assert.Len(t, s.Configs(), 2)

	require.NoError(t, s.Activate(ctx, 2))
	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, "b", active.Name)

	err = s.Activate(ctx, 9)
	assert.True(t, sdk.IsNotFound(err))
	assert.Equal(t, "Configuration not found", sdk.ErrorMessage(err, ""))

	require.NoError(t, s.Delete(ctx, 1))
	assert.Len(t, s.Configs(), 1)

	var buf bytes.Buffer
	s.Render(&buf)
	assert.Contains(t, buf.String(), "gpt-4-turbo-preview")
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "********cdef", MaskKey("sk-abcdef"))
	assert.Equal(t, "***", MaskKey("abc"))
}

func TestWriteDocumentIsByteExact(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	doc := "{\n  \"nodes\": [],\n  \"name\": \"é\"\n}"
	path, err := WriteDocument(dir, 12, doc)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "n8n-workflow-12.json"), path)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, doc, string(got))
}
