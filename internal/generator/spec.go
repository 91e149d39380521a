package generator

import (
	"fmt"
	"strings"

	"flowgen/internal/domain"
)

const (
	specTitlePrefix   = "# Workflow: "
	requiredNodesHead = "## Required Nodes"
	maxSpecExamples   = 5
)

// Spec renders the markdown development specification for a requirement and its answers.
// Examples are listed as references.
func Spec(requirement string, answers []domain.Answer, examples []domain.LearnedExample) string {
	var text strings.Builder
	text.WriteString(requirement)
	for _, a := range answers {
		text.WriteString(" ")
		text.WriteString(a.Answer)
	}
	nodes := Plan(Match(text.String()))

	var b strings.Builder
	b.WriteString(specTitlePrefix + title(requirement) + "\n\n")

	b.WriteString("## Objective\n\n")
	b.WriteString(strings.TrimSpace(requirement) + "\n\n")

	b.WriteString("## User Requirements\n\n")
	if len(answers) == 0 {
		b.WriteString("- No clarifications were needed.\n")
	}
	for i, a := range answers {
		q := a.Question
		if q == "" {
			q = a.QuestionID
		}
		fmt.Fprintf(&b, "- Q%d: %s\n  A%d: %s\n", i+1, q, i+1, a.Answer)
	}
	b.WriteString("\n")

	b.WriteString("## Workflow Steps\n\n")
	for i, n := range nodes {
		verb := "processes the items it receives"
		switch {
		case n.Trigger:
			verb = "starts the workflow"
		case n.Target:
			verb = "delivers the result"
		}
		fmt.Fprintf(&b, "%d. **%s** %s.\n", i+1, n.Name, verb)
	}
	b.WriteString("\n")

	b.WriteString(requiredNodesHead + "\n\n")
	for _, n := range nodes {
		fmt.Fprintf(&b, "- %s: `%s`\n", n.Name, n.Type)
	}
	b.WriteString("\n")

	b.WriteString("## Data Flow\n\n")
	b.WriteString(strings.Join(names(nodes), " -> ") + "\n\n")

	b.WriteString("## Error Handling\n\n")
	b.WriteString("- Enable Retry On Fail on nodes that call external services.\n")
	b.WriteString("- Route failures to an error workflow that notifies the owner.\n\n")

	b.WriteString("## Testing Criteria\n\n")
	b.WriteString("- Execute the workflow once and check every node produces output.\n")
	b.WriteString("- Verify the final node receives the expected fields.\n")

	if len(examples) > 0 {
		b.WriteString("\n## Reference Examples\n\n")
		for i, ex := range examples {
			if i == maxSpecExamples {
				break
			}
			level := ex.ComplexityLevel
			if level == "" {
				level = "n/a"
			}
			fmt.Fprintf(&b, "- %s (%s): %s\n", ex.Title, level, strings.Join(ex.NodesUsed, ", "))
		}
	}
	return b.String()
}

// Plan orders nodes into a linear chain: a single trigger first, then the rest in catalog order.
// A manual trigger is added when none is present.
func Plan(nodes []Node) []Node {
	var (
		trigger *Node
		rest    []Node
	)
	for i := range nodes {
		n := nodes[i]
		if n.Trigger {
			if trigger == nil {
				trigger = &n
			}
			continue
		}
		rest = append(rest, n)
	}
	if trigger == nil {
		t := manualTrigger
		trigger = &t
	}
	return append([]Node{*trigger}, rest...)
}

func title(requirement string) string {
	words := strings.Fields(requirement)
	if len(words) == 0 {
		return "Untitled"
	}
	if len(words) > 8 {
		words = words[:8]
	}
	t := strings.TrimRight(strings.Join(words, " "), ".,;:!?")
	if t == "" {
		return "Untitled"
	}
	r := []rune(t)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}
