package learning

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"flowgen/internal/domain"
	"flowgen/internal/logging"
	"flowgen/internal/repo"
)

// DefaultSchedule runs a learning cycle every Sunday at midnight.
const DefaultSchedule = "0 0 * * 0"

// TopNodeLimit caps the node usage table of Stats.
const TopNodeLimit = 20

//go:embed catalog/*.json
var catalogFS embed.FS

// Entry is a workflow offered by a source.
type Entry struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	SourceURL   string          `json:"source_url"`
	Tags        []string        `json:"tags"`
	Stars       int             `json:"stars"`
	Workflow    json.RawMessage `json:"workflow"`
}

// Source produces entries for one learning type.
type Source struct {
	// LearningType is recorded on the run log (docs, templates, github).
	LearningType string
	// ExampleSource is recorded on every stored example (official_docs, templates, github).
	ExampleSource string
	// DedupByJSON skips entries whose document is already stored; otherwise entries are matched by title.
	DedupByJSON bool
	Fetch       func(ctx context.Context) ([]Entry, error)
}

// BundledSources returns the sources backed by the embedded catalog.
func BundledSources() []Source {
	return []Source{
		{LearningType: domain.LearningDocs, ExampleSource: domain.SourceDocs, DedupByJSON: true, Fetch: embedded("catalog/docs.json")},
		{LearningType: domain.LearningTemplates, ExampleSource: domain.SourceTemplates, Fetch: embedded("catalog/templates.json")},
	}
}

func embedded(name string) func(context.Context) ([]Entry, error) {
	return func(context.Context) ([]Entry, error) {
		b, err := catalogFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		var entries []Entry
		if err := json.Unmarshal(b, &entries); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return entries, nil
	}
}

// Result is the outcome of one source in a cycle.
type Result struct {
	Found int
	Added int
	Err   error
}

// Service ingests examples and reports statistics over them.
type Service struct {
	Repo    repo.Repo
	Sources []Source
	Now     func() time.Time
	Logger  *slog.Logger

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	cron    *cron.Cron
}

func New(r repo.Repo) *Service {
	return &Service{
		Repo:    r,
		Sources: BundledSources(),
		Now:     time.Now,
		Logger:  logging.WithModule("learning"),
	}
}

func (s *Service) now() string {
	if s.Now != nil {
		return s.Now().UTC().Format(domain.TimeLayout)
	}
	return time.Now().UTC().Format(domain.TimeLayout)
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// RunCycle ingests every source in turn. A failing source is logged and does not stop the others.
func (s *Service) RunCycle(ctx context.Context) map[string]Result {
	results := make(map[string]Result, len(s.Sources))
	for _, src := range s.Sources {
		res := s.runSource(ctx, src)
		results[src.ExampleSource] = res
		if res.Err != nil {
			s.logger().Error("learning source failed", "source", src.ExampleSource, "error", res.Err)
			continue
		}
		s.logger().Info("learning source done", "source", src.ExampleSource, "found", res.Found, "added", res.Added)
	}
	return results
}

func (s *Service) runSource(ctx context.Context, src Source) Result {
	logID, err := s.Repo.InsertLearningLog(ctx, domain.LearningLog{
		LearningType: src.LearningType,
		Status:       domain.RunRunning,
		StartedAt:    s.now(),
	})
	if err != nil {
		return Result{Err: fmt.Errorf("open learning log: %w", err)}
	}
	res := s.ingest(ctx, src)
	entry := domain.LearningLog{
		ID:            logID,
		ExamplesFound: res.Found,
		ExamplesAdded: res.Added,
		Status:        domain.RunCompleted,
		CompletedAt:   s.now(),
	}
	if res.Err != nil {
		entry.Status = domain.RunFailed
		entry.ErrorMessage = res.Err.Error()
		entry.ExamplesAdded = 0
	}
	if err := s.Repo.FinishLearningLog(ctx, entry); err != nil && res.Err == nil {
		res.Err = fmt.Errorf("close learning log: %w", err)
	}
	return res
}

func (s *Service) ingest(ctx context.Context, src Source) Result {
	entries, err := src.Fetch(ctx)
	if err != nil {
		return Result{Err: err}
	}
	var res Result
	err = s.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			doc, parsed, ok := canonical(e.Workflow)
			if !ok {
				continue
			}
			res.Found++
			title, byJSON := e.Title, ""
			if src.DedupByJSON {
				title, byJSON = "", doc
			}
			exists, err := s.Repo.ExampleExistsTx(ctx, tx, src.ExampleSource, title, byJSON)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if _, err := s.Repo.InsertExampleTx(ctx, tx, domain.LearnedExample{
				Title:           e.Title,
				Description:     e.Description,
				Source:          src.ExampleSource,
				SourceURL:       e.SourceURL,
				WorkflowJSON:    doc,
				Tags:            e.Tags,
				NodesUsed:       nodesUsed(parsed),
				ComplexityLevel: complexity(parsed),
				Stars:           e.Stars,
				LearnedAt:       s.now(),
			}); err != nil {
				return err
			}
			res.Added++
		}
		return nil
	})
	if err != nil {
		return Result{Found: res.Found, Err: err}
	}
	return res
}

type workflowShape struct {
	Nodes []struct {
		Type string `json:"type"`
	} `json:"nodes"`
	Connections map[string]json.RawMessage `json:"connections"`
}

// canonical compacts a workflow document. Documents without a nodes list are rejected.
func canonical(raw json.RawMessage) (string, workflowShape, bool) {
	var shape workflowShape
	if len(raw) == 0 || json.Unmarshal(raw, &shape) != nil || shape.Nodes == nil {
		return "", shape, false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", shape, false
	}
	return buf.String(), shape, true
}

// nodesUsed lists the node type of every node, in document order.
func nodesUsed(w workflowShape) []string {
	out := make([]string, 0, len(w.Nodes))
	for _, n := range w.Nodes {
		out = append(out, n.Type)
	}
	return out
}

// complexity grades a workflow by node and connection counts.
func complexity(w workflowShape) string {
	nodes, conns := len(w.Nodes), len(w.Connections)
	switch {
	case nodes <= 3 && conns <= 3:
		return "simple"
	case nodes <= 10 && conns <= 15:
		return "medium"
	default:
		return "complex"
	}
}

// Start runs a cycle in the background. It reports false when a cycle is already running.
func (s *Service) Start() bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		s.RunCycle(context.Background())
	}()
	return true
}

// Wait blocks until background cycles finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Schedule starts cycles on a cron expression.
func (s *Service) Schedule(spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("learning schedule already started")
	}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))
	if _, err := c.AddFunc(spec, func() {
		if !s.Start() {
			s.logger().Info("scheduled learning skipped, a cycle is running")
		}
	}); err != nil {
		return fmt.Errorf("invalid learning schedule %q: %w", spec, err)
	}
	s.logger().Info("learning schedule started", "cron", spec)
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the schedule and waits for running cycles.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	s.Wait()
}

// Stats aggregates stored examples by source, complexity and node usage.
func (s *Service) Stats(ctx context.Context) (domain.LearningStats, error) {
	facets, err := s.Repo.ExampleFacets(ctx)
	if err != nil {
		return domain.LearningStats{}, err
	}
	stats := domain.LearningStats{
		TotalExamples: len(facets),
		BySource:      map[string]int{},
		ByComplexity:  map[string]int{},
		TopNodes:      map[string]int{},
	}
	counts := map[string]int{}
	for _, e := range facets {
		stats.BySource[e.Source]++
		level := e.ComplexityLevel
		if level == "" {
			level = "unknown"
		}
		stats.ByComplexity[level]++
		for _, n := range e.NodesUsed {
			counts[n]++
		}
	}
	ranked := make([]string, 0, len(counts))
	for n := range counts {
		ranked = append(ranked, n)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > TopNodeLimit {
		ranked = ranked[:TopNodeLimit]
	}
	for _, n := range ranked {
		stats.TopNodes[n] = counts[n]
	}
	return stats, nil
}
