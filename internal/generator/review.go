package generator

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"flowgen/internal/domain"
)

//go:embed schema/workflow.json
var workflowSchema string

// maxLinearNodes is the node count above which splitting into sub-workflows is suggested.
const maxLinearNodes = 10

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(workflowSchema))
})

// Review checks a workflow document against the n8n schema and the nodes the specification
// requires. OptimizedJSON is set when the normalized document differs from the input.
func Review(doc, spec string) (domain.TestResult, error) {
	res := domain.TestResult{
		Issues:                    []string{},
		Suggestions:               []string{},
		OptimizationOpportunities: []string{},
	}
	schema, err := compiledSchema()
	if err != nil {
		return res, fmt.Errorf("compile workflow schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		res.Issues = append(res.Issues, "Workflow JSON is not valid: "+err.Error())
		return res, nil
	}
	for _, desc := range result.Errors() {
		res.Issues = append(res.Issues, desc.String())
	}
	if !result.Valid() {
		return res, nil
	}

	var parsed Document
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		res.Issues = append(res.Issues, "Workflow JSON is not valid: "+err.Error())
		return res, nil
	}
	res.Issues = append(res.Issues, structuralIssues(parsed)...)
	res.Issues = append(res.Issues, missingFromSpec(parsed, spec)...)
	res.Suggestions = append(res.Suggestions, suggestions(parsed)...)
	res.OptimizationOpportunities = append(res.OptimizationOpportunities, opportunities(parsed)...)
	res.Passed = len(res.Issues) == 0

	optimized, err := normalizeDocument(doc)
	if err != nil {
		return res, err
	}
	if optimized != doc {
		res.OptimizedJSON = optimized
	}
	return res, nil
}

func structuralIssues(d Document) []string {
	var issues []string
	seen := map[string]bool{}
	trigger := false
	for _, n := range d.Nodes {
		if seen[n.Name] {
			issues = append(issues, fmt.Sprintf("Duplicate node name %q", n.Name))
		}
		seen[n.Name] = true
		if isTriggerType(n.Type) {
			trigger = true
		}
	}
	if !trigger {
		issues = append(issues, "Workflow has no trigger node")
	}
	for _, from := range sortedKeys(d.Connections) {
		if !seen[from] {
			issues = append(issues, fmt.Sprintf("Connection from unknown node %q", from))
		}
		for _, out := range d.Connections[from].Main {
			for _, l := range out {
				if !seen[l.Node] {
					issues = append(issues, fmt.Sprintf("Connection from %q to unknown node %q", from, l.Node))
				}
			}
		}
	}
	return issues
}

func missingFromSpec(d Document, spec string) []string {
	_, required := parseSpec(spec)
	present := map[string]bool{}
	for _, n := range d.Nodes {
		present[strings.ToLower(n.Type)] = true
	}
	var issues []string
	for _, n := range required {
		if n.Trigger {
			continue
		}
		if !present[strings.ToLower(n.Type)] {
			issues = append(issues, fmt.Sprintf("Node %s (%s) required by the development spec is missing", n.Name, n.Type))
		}
	}
	return issues
}

func suggestions(d Document) []string {
	var out []string
	for _, n := range d.Nodes {
		if n.Type == "n8n-nodes-base.httpRequest" {
			out = append(out, fmt.Sprintf("Enable Retry On Fail on %q", n.Name))
		}
	}
	if _, ok := d.Settings["errorWorkflow"]; !ok {
		out = append(out, "Set an error workflow in the workflow settings")
	}
	return out
}

func opportunities(d Document) []string {
	var out []string
	targeted := map[string]bool{}
	for _, c := range d.Connections {
		for _, o := range c.Main {
			for _, l := range o {
				targeted[l.Node] = true
			}
		}
	}
	for _, n := range d.Nodes {
		if !isTriggerType(n.Type) && !targeted[n.Name] {
			out = append(out, fmt.Sprintf("Node %q is not connected and can be removed", n.Name))
		}
	}
	if len(d.Nodes) > maxLinearNodes {
		out = append(out, "Split the workflow into sub-workflows")
	}
	return out
}

// normalizeDocument re-indents the document, names it and pins the execution order.
// Unknown fields are preserved.
func normalizeDocument(doc string) (string, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return "", fmt.Errorf("decode workflow: %w", err)
	}
	if name, _ := m["name"].(string); strings.TrimSpace(name) == "" {
		m["name"] = DefaultWorkflowName
	}
	settings, _ := m["settings"].(map[string]any)
	if settings == nil {
		settings = map[string]any{}
	}
	if _, ok := settings["executionOrder"]; !ok {
		settings["executionOrder"] = "v1"
	}
	m["settings"] = settings
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode workflow: %w", err)
	}
	return string(b), nil
}

func isTriggerType(nodeType string) bool {
	t := strings.ToLower(nodeType)
	return strings.HasSuffix(t, "trigger") || strings.HasSuffix(t, ".webhook")
}

func sortedKeys(m map[string]Connection) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
