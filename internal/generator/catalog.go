package generator

import (
	"strings"
	"unicode"
)

// Node is an n8n node type the generator knows how to place.
type Node struct {
	Name    string
	Type    string
	Version float64
	Trigger bool
	// Target nodes deliver or store the workflow's result.
	Target   bool
	Keywords []string
}

var catalog = []Node{
	{Name: "Schedule Trigger", Type: "n8n-nodes-base.scheduleTrigger", Version: 1.2, Trigger: true,
		Keywords: []string{"schedule", "scheduled", "cron", "daily", "hourly", "weekly", "monthly", "every day", "every hour", "every morning", "every week", "every monday"}},
	{Name: "Webhook", Type: "n8n-nodes-base.webhook", Version: 2, Trigger: true,
		Keywords: []string{"webhook", "incoming request", "form submission", "callback"}},
	{Name: "Manual Trigger", Type: "n8n-nodes-base.manualTrigger", Version: 1, Trigger: true,
		Keywords: []string{"manually", "manual", "on demand", "button"}},
	{Name: "RSS Read", Type: "n8n-nodes-base.rssFeedRead", Version: 1.1,
		Keywords: []string{"rss", "feed", "blog posts"}},
	{Name: "HTTP Request", Type: "n8n-nodes-base.httpRequest", Version: 4.2,
		Keywords: []string{"http", "api", "rest", "endpoint", "fetch", "scrape"}},
	{Name: "GitHub", Type: "n8n-nodes-base.github", Version: 1,
		Keywords: []string{"github", "pull request", "issues"}},
	{Name: "Filter", Type: "n8n-nodes-base.filter", Version: 2.2,
		Keywords: []string{"filter", "only when", "only if", "condition"}},
	{Name: "Code", Type: "n8n-nodes-base.code", Version: 2,
		Keywords: []string{"transform", "code", "javascript", "parse", "format"}},
	{Name: "OpenAI", Type: "@n8n/n8n-nodes-langchain.openAi", Version: 1.8,
		Keywords: []string{"openai", "gpt", "chatgpt", "ai", "summarize", "summary", "classify"}},
	{Name: "Slack", Type: "n8n-nodes-base.slack", Version: 2.2, Target: true,
		Keywords: []string{"slack"}},
	{Name: "Telegram", Type: "n8n-nodes-base.telegram", Version: 1.2, Target: true,
		Keywords: []string{"telegram"}},
	{Name: "Discord", Type: "n8n-nodes-base.discord", Version: 2, Target: true,
		Keywords: []string{"discord"}},
	{Name: "Gmail", Type: "n8n-nodes-base.gmail", Version: 2.1, Target: true,
		Keywords: []string{"gmail"}},
	{Name: "Send Email", Type: "n8n-nodes-base.emailSend", Version: 2.1, Target: true,
		Keywords: []string{"email", "e mail", "mail", "smtp"}},
	{Name: "Google Sheets", Type: "n8n-nodes-base.googleSheets", Version: 4.5, Target: true,
		Keywords: []string{"google sheets", "google sheet", "spreadsheet", "sheet", "sheets"}},
	{Name: "Airtable", Type: "n8n-nodes-base.airtable", Version: 2.1, Target: true,
		Keywords: []string{"airtable"}},
	{Name: "Notion", Type: "n8n-nodes-base.notion", Version: 2.2, Target: true,
		Keywords: []string{"notion"}},
	{Name: "Postgres", Type: "n8n-nodes-base.postgres", Version: 2.5, Target: true,
		Keywords: []string{"postgres", "postgresql", "database", "sql"}},
	{Name: "MySQL", Type: "n8n-nodes-base.mySql", Version: 2.4, Target: true,
		Keywords: []string{"mysql", "mariadb"}},
}

var manualTrigger = catalog[2]

// Catalog returns the known node types.
func Catalog() []Node {
	out := make([]Node, len(catalog))
	copy(out, catalog)
	return out
}

// LookupType returns the catalog entry for an n8n node type.
func LookupType(nodeType string) (Node, bool) {
	for _, n := range catalog {
		if strings.EqualFold(n.Type, nodeType) {
			return n, true
		}
	}
	return Node{}, false
}

// Match returns the catalog nodes whose keywords appear in text, in catalog order.
func Match(text string) []Node {
	norm := " " + normalize(text) + " "
	var out []Node
	for _, n := range catalog {
		for _, kw := range n.Keywords {
			if strings.Contains(norm, " "+normalize(kw)+" ") {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// normalize lowercases text and collapses every run of non alphanumerics into one space.
func normalize(text string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

func hasTrigger(nodes []Node) bool {
	for _, n := range nodes {
		if n.Trigger {
			return true
		}
	}
	return false
}

func hasTarget(nodes []Node) bool {
	for _, n := range nodes {
		if n.Target {
			return true
		}
	}
	return false
}

func names(nodes []Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}
