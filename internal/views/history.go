package views

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"flowgen/internal/session"
	"flowgen/internal/ui"
	sdk "flowgen/sdk/go"
)

// HistoryPageSize is the number of workflows the history page fetches.
const HistoryPageSize = 50

// HistoryBackend lists and fetches workflow requests.
type HistoryBackend interface {
	ListWorkflows(ctx context.Context, skip, limit int) (sdk.WorkflowList, error)
	GetWorkflow(ctx context.Context, id int64) (sdk.WorkflowRequest, error)
}

// History lists past workflow requests and shows one in detail.
type History struct {
	backend HistoryBackend
	store   *session.Store

	items    []sdk.WorkflowRequest
	total    int
	selected *sdk.WorkflowRequest
	err      string
}

// NewHistory returns a history page publishing its list to store.
func NewHistory(backend HistoryBackend, store *session.Store) *History {
	if store == nil {
		store = session.New()
	}
	return &History{backend: backend, store: store}
}

// Load fetches the first page of workflows.
func (h *History) Load(ctx context.Context) error {
	h.store.SetLoading(true)
	defer h.store.SetLoading(false)

	list, err := h.backend.ListWorkflows(ctx, 0, HistoryPageSize)
	if err != nil {
		h.err = sdk.ErrorMessage(err, "Failed to load workflows")
		h.store.SetError(h.err)
		return err
	}
	h.err = ""
	h.items = list.Items
	h.total = list.Total
	h.store.SetError("")
	h.store.SetWorkflows(list.Items)
	return nil
}

// Items returns the loaded workflows.
func (h *History) Items() []sdk.WorkflowRequest {
	return append([]sdk.WorkflowRequest(nil), h.items...)
}

// Error returns the last load error message.
func (h *History) Error() string { return h.err }

// Select picks a workflow for the detail panel, fetching it when it is not in the loaded page.
func (h *History) Select(ctx context.Context, id int64) (sdk.WorkflowRequest, error) {
	for i := range h.items {
		if h.items[i].ID == id {
			wf := h.items[i]
			h.selected = &wf
			return wf, nil
		}
	}
	wf, err := h.backend.GetWorkflow(ctx, id)
	if err != nil {
		return sdk.WorkflowRequest{}, err
	}
	h.selected = &wf
	return wf, nil
}

// Selected returns the workflow picked by Select.
func (h *History) Selected() (sdk.WorkflowRequest, bool) {
	if h.selected == nil {
		return sdk.WorkflowRequest{}, false
	}
	return *h.selected, true
}

// Document returns the document shown and exported for wf.
func Document(wf sdk.WorkflowRequest) string {
	return wf.Document()
}

// Render writes the workflow list.
func (h *History) Render(w io.Writer) {
	if h.err != "" {
		fmt.Fprintln(w, ui.StyleError.Render("error: "+h.err))
		return
	}
	if len(h.items) == 0 {
		fmt.Fprintln(w, ui.StyleMuted.Render("No workflows yet. Create one with `flowgen new`."))
		return
	}
	width := ui.TerminalWidth() - 50
	if width < 20 {
		width = 20
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Status", "Requirement", "Created"})
	for _, wf := range h.items {
		tw.AppendRow(table.Row{wf.ID, ui.Status(wf.Status), ui.Truncate(oneLine(wf.UserRequirement), width), wf.CreatedAt})
	}
	if h.total > len(h.items) {
		tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d of %d shown", len(h.items), h.total), ""})
	}
	tw.Render()
}

// RenderDetail writes the full record of wf.
func RenderDetail(w io.Writer, wf sdk.WorkflowRequest) {
	fmt.Fprintln(w, ui.HeaderBox().Render(fmt.Sprintf("%s  #%d  %s",
		ui.StyleTitle.Render("Workflow"), wf.ID, ui.Status(wf.Status))))
	fmt.Fprintln(w, ui.StyleBold.Render("Requirement"))
	fmt.Fprintln(w, wf.UserRequirement)
	fmt.Fprintln(w, ui.StyleMuted.Render(fmt.Sprintf("created %s  updated %s", wf.CreatedAt, wf.UpdatedAt)))

	if len(wf.QuestionsAsked) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, ui.StyleBold.Render("Questions"))
		for _, q := range wf.QuestionsAsked {
			fmt.Fprintf(w, "  - %s\n", q.Question)
		}
	}
	if wf.DevelopmentSpec != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, ui.StyleBold.Render("Development spec"))
		fmt.Fprintln(w, wf.DevelopmentSpec)
	}
	if len(wf.TestResults) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, ui.StyleBold.Render("Test results"))
		RenderTestResults(w, testResultFromMap(wf.TestResults))
	}
	if doc := Document(wf); doc != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, ui.StyleBold.Render("Workflow JSON"))
		fmt.Fprintln(w, doc)
	}
}

// RenderTestResults writes the outcome of a test-and-optimize call.
func RenderTestResults(w io.Writer, r sdk.TestResult) {
	if r.Passed {
		fmt.Fprintln(w, ui.StyleSuccess.Render("✓ passed"))
	} else {
		fmt.Fprintln(w, ui.StyleError.Render("✗ issues found"))
	}
	writeList(w, "Issues", r.Issues, ui.StyleError.Render)
	writeList(w, "Suggestions", r.Suggestions, ui.StyleInfo.Render)
	writeList(w, "Optimization opportunities", r.OptimizationOpportunities, ui.StyleAccent.Render)
}

func writeList(w io.Writer, title string, items []string, style func(...string) string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintln(w, "  "+title+":")
	for _, it := range items {
		fmt.Fprintf(w, "    %s %s\n", style("•"), it)
	}
}

func testResultFromMap(m map[string]any) sdk.TestResult {
	var r sdk.TestResult
	r.Passed, _ = m["passed"].(bool)
	r.Issues = stringList(m["issues"])
	r.Suggestions = stringList(m["suggestions"])
	r.OptimizationOpportunities = stringList(m["optimization_opportunities"])
	return r
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
