package views

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/sync/errgroup"

	"flowgen/internal/ui"
	sdk "flowgen/sdk/go"
)

// Learning page limits.
const (
	LearningLogLimit     = 10
	LearningExampleLimit = 20
	TopNodeLimit         = 12
	ExampleNodeLimit     = 8
	DefaultRefetchDelay  = 5 * time.Second
)

// LearningBackend is the learning part of the API.
type LearningBackend interface {
	RunLearningCycle(ctx context.Context) (sdk.Message, error)
	ListExamples(ctx context.Context, skip, limit int, source string) ([]sdk.LearnedExample, error)
	ListLearningLogs(ctx context.Context, skip, limit int) ([]sdk.LearningLog, error)
	LearningStats(ctx context.Context) (sdk.LearningStats, error)
}

// Learning shows statistics, recent runs and recent examples.
type Learning struct {
	backend LearningBackend
	// RefetchDelay is how long after a run the page reloads itself.
	RefetchDelay time.Duration
	// Source filters the examples list when set.
	Source string

	mu        sync.Mutex
	stats     sdk.LearningStats
	logs      []sdk.LearningLog
	examples  []sdk.LearnedExample
	err       string
	timer     *time.Timer
	gen       uint64
	closed    bool
	onRefresh func(error)
}

// NewLearning returns a learning page.
func NewLearning(backend LearningBackend) *Learning {
	return &Learning{backend: backend, RefetchDelay: DefaultRefetchDelay}
}

// OnRefresh registers fn to run after each delayed refetch.
func (l *Learning) OnRefresh(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onRefresh = fn
}

// Load fetches stats, logs and examples concurrently.
func (l *Learning) Load(ctx context.Context) error {
	var (
		stats    sdk.LearningStats
		logs     []sdk.LearningLog
		examples []sdk.LearnedExample
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = l.backend.LearningStats(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		logs, err = l.backend.ListLearningLogs(gctx, 0, LearningLogLimit)
		return err
	})
	g.Go(func() error {
		var err error
		examples, err = l.backend.ListExamples(gctx, 0, LearningExampleLimit, l.Source)
		return err
	})
	err := g.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.err = sdk.ErrorMessage(err, "Failed to load learning data")
		return err
	}
	l.err = ""
	l.stats = stats
	l.logs = logs
	l.examples = examples
	return nil
}

// Run starts a learning cycle and schedules one reload after RefetchDelay.
// A newer run replaces the pending reload.
func (l *Learning) Run(ctx context.Context) (string, error) {
	msg, err := l.backend.RunLearningCycle(ctx)
	if err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return msg.Message, nil
	}
	if l.timer != nil {
		l.timer.Stop()
	}
	l.gen++
	gen := l.gen
	l.timer = time.AfterFunc(l.RefetchDelay, func() { l.refetch(gen) })
	return msg.Message, nil
}

func (l *Learning) refetch(gen uint64) {
	l.mu.Lock()
	if l.closed || l.gen != gen {
		l.mu.Unlock()
		return
	}
	l.timer = nil
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sdk.DefaultTimeout)
	defer cancel()
	err := l.Load(ctx)

	l.mu.Lock()
	fn := l.onRefresh
	l.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Pending reports whether a delayed reload is scheduled.
func (l *Learning) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timer != nil
}

// Close cancels any pending reload.
func (l *Learning) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// Stats returns the loaded statistics.
func (l *Learning) Stats() sdk.LearningStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Logs returns the loaded run logs.
func (l *Learning) Logs() []sdk.LearningLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]sdk.LearningLog(nil), l.logs...)
}

// Examples returns the loaded examples.
func (l *Learning) Examples() []sdk.LearnedExample {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]sdk.LearnedExample(nil), l.examples...)
}

// LogTypeLabel returns display text for a learning source type.
func LogTypeLabel(kind string) string {
	switch kind {
	case "docs":
		return "Official docs"
	case "github":
		return "GitHub"
	default:
		return "Templates"
	}
}

// LogStatusLabel returns display text for a learning run status.
func LogStatusLabel(status string) string {
	switch status {
	case "completed":
		return ui.StyleSuccess.Render("completed")
	case "failed":
		return ui.StyleError.Render("failed")
	default:
		return ui.StyleInfo.Render("in progress")
	}
}

// NodeSummary lists the first ExampleNodeLimit nodes followed by "+N" for the rest.
func NodeSummary(nodes []string) string {
	if len(nodes) <= ExampleNodeLimit {
		return strings.Join(nodes, ", ")
	}
	return strings.Join(nodes[:ExampleNodeLimit], ", ") + fmt.Sprintf(" +%d", len(nodes)-ExampleNodeLimit)
}

// Render writes the whole page.
func (l *Learning) Render(w io.Writer) {
	l.mu.Lock()
	stats, logs, examples, errMsg := l.stats, l.logs, l.examples, l.err
	l.mu.Unlock()

	if errMsg != "" {
		fmt.Fprintln(w, ui.StyleError.Render("error: "+errMsg))
		return
	}
	RenderStats(w, stats)
	fmt.Fprintln(w)
	RenderLogs(w, logs)
	fmt.Fprintln(w)
	RenderExamples(w, examples)
}

// RenderStats writes totals, per-source and per-complexity counts, and top nodes.
func RenderStats(w io.Writer, s sdk.LearningStats) {
	fmt.Fprintln(w, ui.StyleTitle.Render("Learned examples: ")+fmt.Sprint(s.TotalExamples))
	writeCounts(w, "By source", s.BySource)
	writeCounts(w, "By complexity", s.ByComplexity)
	ranked := s.RankedNodes()
	if len(ranked) == 0 {
		return
	}
	if len(ranked) > TopNodeLimit {
		ranked = ranked[:TopNodeLimit]
	}
	fmt.Fprintln(w, ui.StyleBold.Render("Most used nodes"))
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Node", "Uses"})
	for _, n := range ranked {
		tw.AppendRow(table.Row{n.Node, n.Count})
	}
	tw.Render()
}

// RenderLogs writes recent learning runs.
func RenderLogs(w io.Writer, logs []sdk.LearningLog) {
	fmt.Fprintln(w, ui.StyleBold.Render("Learning logs"))
	if len(logs) == 0 {
		fmt.Fprintln(w, ui.StyleMuted.Render("No learning runs yet."))
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Type", "Status", "Found", "Added", "Started", "Error"})
	for _, lg := range logs {
		tw.AppendRow(table.Row{LogTypeLabel(lg.LearningType), LogStatusLabel(lg.Status),
			lg.ExamplesFound, lg.ExamplesAdded, lg.StartedAt, lg.ErrorMessage})
	}
	tw.Render()
}

// RenderExamples writes learned examples.
func RenderExamples(w io.Writer, examples []sdk.LearnedExample) {
	fmt.Fprintln(w, ui.StyleBold.Render("Recent examples"))
	if len(examples) == 0 {
		fmt.Fprintln(w, ui.StyleMuted.Render("No learned examples yet."))
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Title", "Source", "Complexity", "Stars", "Nodes"})
	for _, ex := range examples {
		tw.AppendRow(table.Row{ex.ID, ex.Title, ex.Source, complexity(ex.ComplexityLevel), ex.Stars, NodeSummary(ex.NodesUsed)})
	}
	tw.Render()
}

// RenderExample writes one example including its workflow JSON.
func RenderExample(w io.Writer, ex sdk.LearnedExample) {
	fmt.Fprintln(w, ui.HeaderBox().Render(ui.StyleTitle.Render(ex.Title)))
	fmt.Fprintf(w, "source: %s  complexity: %s  stars: %d\n", ex.Source, complexity(ex.ComplexityLevel), ex.Stars)
	if ex.SourceURL != "" {
		fmt.Fprintln(w, ui.StyleMuted.Render(ex.SourceURL))
	}
	if ex.Description != "" {
		fmt.Fprintln(w, ex.Description)
	}
	if len(ex.Tags) > 0 {
		fmt.Fprintln(w, "tags: "+strings.Join(ex.Tags, ", "))
	}
	if len(ex.NodesUsed) > 0 {
		fmt.Fprintln(w, "nodes: "+strings.Join(ex.NodesUsed, ", "))
	}
	if ex.WorkflowJSON != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, ex.WorkflowJSON)
	}
}

func complexity(level string) string {
	switch level {
	case "simple":
		return ui.StyleSuccess.Render(level)
	case "medium":
		return ui.StyleWarning.Render(level)
	case "":
		return ""
	default:
		return ui.StyleError.Render(level)
	}
}

func writeCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %d", k, counts[k]))
	}
	fmt.Fprintf(w, "%s  %s\n", ui.StyleBold.Render(title), strings.Join(parts, "  "))
}
