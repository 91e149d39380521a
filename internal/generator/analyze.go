package generator

import (
	"fmt"
	"strings"

	"flowgen/internal/domain"
)

// Question ids asked by Analyze.
const (
	QuestionTrigger  = "trigger"
	QuestionSchedule = "schedule"
	QuestionTarget   = "target"
)

// Trigger options offered when the requirement does not say how the workflow starts.
var TriggerOptions = []string{"Manually", "On a schedule", "From a webhook"}

var frequencyWords = []string{"daily", "hourly", "weekly", "monthly", "every", "minutes", "minute", "hours", "cron", "morning", "night", "midnight"}

// Analyze identifies the nodes a requirement mentions and asks about what it leaves open.
func Analyze(requirement, extra string) domain.Analysis {
	text := strings.TrimSpace(requirement + " " + extra)
	matched := Match(text)
	a := domain.Analysis{
		Summary:              summarize(requirement, len(matched)),
		IdentifiedComponents: names(matched),
		MissingInformation:   []string{},
		Questions:            []domain.Question{},
		EstimatedComplexity:  complexity(len(matched)),
	}
	if !hasTrigger(matched) {
		a.MissingInformation = append(a.MissingInformation, "How the workflow is started")
		a.Questions = append(a.Questions, domain.Question{
			ID:           QuestionTrigger,
			Question:     "How should the workflow start?",
			QuestionType: "choice",
			Options:      append([]string(nil), TriggerOptions...),
			Required:     true,
		})
	} else if scheduled(matched) && !mentionsFrequency(text) {
		a.MissingInformation = append(a.MissingInformation, "How often the workflow runs")
		a.Questions = append(a.Questions, domain.Question{
			ID:           QuestionSchedule,
			Question:     "How often should the workflow run?",
			QuestionType: "text",
			Required:     true,
		})
	}
	if !hasTarget(matched) {
		a.MissingInformation = append(a.MissingInformation, "Where the results are delivered")
		a.Questions = append(a.Questions, domain.Question{
			ID:           QuestionTarget,
			Question:     "Where should the results be sent or stored?",
			QuestionType: "multiple_choice",
			Options:      []string{"Slack", "Email", "Google Sheets", "Notion"},
			Required:     true,
		})
	}
	return a
}

func scheduled(nodes []Node) bool {
	for _, n := range nodes {
		if n.Type == "n8n-nodes-base.scheduleTrigger" {
			return true
		}
	}
	return false
}

func mentionsFrequency(text string) bool {
	words := strings.Fields(normalize(text))
	for _, w := range words {
		for _, f := range frequencyWords {
			if w == f {
				return true
			}
		}
	}
	return false
}

func complexity(components int) string {
	switch {
	case components <= 3:
		return "simple"
	case components <= 6:
		return "medium"
	default:
		return "complex"
	}
}

func summarize(requirement string, components int) string {
	req := strings.Join(strings.Fields(requirement), " ")
	if r := []rune(req); len(r) > 160 {
		req = string(r[:157]) + "..."
	}
	return fmt.Sprintf("%s (%d components identified)", req, components)
}
