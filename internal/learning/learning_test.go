package learning

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"flowgen/internal/db"
	"flowgen/internal/domain"
	"flowgen/internal/migrate"
	"flowgen/internal/repo"
)

func newService(t *testing.T) *Service {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := New(repo.Repo{DB: conn})
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return s
}

func TestRunCycleIngestsBundledCatalog(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	results := s.RunCycle(ctx)
	docs, templates := results[domain.SourceDocs], results[domain.SourceTemplates]
	if docs.Err != nil || templates.Err != nil {
		t.Fatalf("unexpected errors: %v %v", docs.Err, templates.Err)
	}
	if docs.Found != 4 || docs.Added != 4 || templates.Found != 6 || templates.Added != 6 {
		t.Fatalf("unexpected results %+v %+v", docs, templates)
	}

	again := s.RunCycle(ctx)
	if again[domain.SourceDocs].Added != 0 || again[domain.SourceTemplates].Added != 0 {
		t.Fatalf("second cycle must not duplicate examples: %+v", again)
	}
	if again[domain.SourceTemplates].Found != 6 {
		t.Fatalf("found count must still report entries: %+v", again)
	}

	logs, err := s.Repo.ListLearningLogs(ctx, 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 4 {
		t.Fatalf("expected one log per source per cycle, got %d", len(logs))
	}
	if logs[0].LearningType != domain.LearningTemplates || logs[0].Status != domain.RunCompleted || logs[0].CompletedAt == "" {
		t.Fatalf("unexpected newest log %+v", logs[0])
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	s.RunCycle(ctx)
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalExamples != 10 || stats.BySource[domain.SourceDocs] != 4 || stats.BySource[domain.SourceTemplates] != 6 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	if stats.ByComplexity["simple"] != 6 || stats.ByComplexity["medium"] != 3 || stats.ByComplexity["complex"] != 1 {
		t.Fatalf("unexpected complexity %+v", stats.ByComplexity)
	}
	if len(stats.TopNodes) > TopNodeLimit {
		t.Fatalf("top nodes not capped: %d", len(stats.TopNodes))
	}
	if stats.TopNodes["n8n-nodes-base.slack"] != 3 {
		t.Fatalf("slack count = %d", stats.TopNodes["n8n-nodes-base.slack"])
	}
}

func TestStatsUnknownComplexity(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	s.Sources = []Source{{
		LearningType: domain.LearningGitHub, ExampleSource: domain.SourceGitHub,
		Fetch: func(context.Context) ([]Entry, error) { return nil, nil },
	}}
	s.RunCycle(ctx)
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalExamples != 0 || len(stats.ByComplexity) != 0 {
		t.Fatalf("expected empty stats, got %+v", stats)
	}
}

func TestFailingSourceIsLogged(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	s.Sources = append([]Source{{
		LearningType: domain.LearningGitHub, ExampleSource: domain.SourceGitHub,
		Fetch: func(context.Context) ([]Entry, error) { return nil, errors.New("rate limited") },
	}}, BundledSources()...)
	results := s.RunCycle(ctx)
	if results[domain.SourceGitHub].Err == nil {
		t.Fatalf("expected github failure")
	}
	if results[domain.SourceTemplates].Added != 6 {
		t.Fatalf("later sources must still run: %+v", results)
	}
	logs, err := s.Repo.ListLearningLogs(ctx, 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	failed := logs[len(logs)-1]
	if failed.LearningType != domain.LearningGitHub || failed.Status != domain.RunFailed || failed.ErrorMessage != "rate limited" {
		t.Fatalf("unexpected failed log %+v", failed)
	}
}

func TestComplexity(t *testing.T) {
	cases := []struct {
		nodes, conns int
		want         string
	}{
		{3, 3, "simple"},
		{4, 3, "medium"},
		{3, 4, "medium"},
		{10, 15, "medium"},
		{11, 1, "complex"},
		{2, 16, "complex"},
	}
	for _, tc := range cases {
		var w workflowShape
		w.Nodes = make([]struct {
			Type string `json:"type"`
		}, tc.nodes)
		w.Connections = map[string]json.RawMessage{}
		for i := 0; i < tc.conns; i++ {
			w.Connections[string(rune('a'+i))] = nil
		}
		if got := complexity(w); got != tc.want {
			t.Fatalf("complexity(%d nodes, %d connections) = %s, want %s", tc.nodes, tc.conns, got, tc.want)
		}
	}
}

func TestEntriesWithoutNodesAreSkipped(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	s.Sources = []Source{{
		LearningType: domain.LearningTemplates, ExampleSource: domain.SourceTemplates,
		Fetch: func(context.Context) ([]Entry, error) {
			return []Entry{
				{Title: "no nodes", Workflow: json.RawMessage(`{"connections":{}}`)},
				{Title: "broken", Workflow: json.RawMessage(`{`)},
				{Title: "ok", Workflow: json.RawMessage(`{"nodes": [{"type": "n8n-nodes-base.code"}]}`)},
			}, nil
		},
	}}
	res := s.RunCycle(ctx)[domain.SourceTemplates]
	if res.Found != 1 || res.Added != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	got, err := s.Repo.ListExamples(ctx, 0, 10, "")
	if err != nil || len(got) != 1 || got[0].WorkflowJSON != `{"nodes":[{"type":"n8n-nodes-base.code"}]}` {
		t.Fatalf("unexpected examples %+v (%v)", got, err)
	}
}

func TestStartIsSingleFlight(t *testing.T) {
	s := newService(t)
	release := make(chan struct{})
	s.Sources = []Source{{
		LearningType: domain.LearningDocs, ExampleSource: domain.SourceDocs,
		Fetch: func(context.Context) ([]Entry, error) {
			<-release
			return nil, nil
		},
	}}
	if !s.Start() {
		t.Fatalf("first start must run")
	}
	if s.Start() {
		t.Fatalf("second start must be skipped while running")
	}
	close(release)
	s.Wait()
	if !s.Start() {
		t.Fatalf("start after completion must run")
	}
	s.Wait()
}

func TestScheduleRejectsBadExpression(t *testing.T) {
	s := newService(t)
	if err := s.Schedule("not a cron"); err == nil {
		t.Fatalf("expected error")
	}
	if err := s.Schedule(""); err != nil {
		t.Fatalf("default schedule: %v", err)
	}
	if err := s.Schedule(DefaultSchedule); err == nil {
		t.Fatalf("expected error for second schedule")
	}
	s.Stop()
}
