package generator

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultWorkflowName names documents whose specification has no title.
const DefaultWorkflowName = "Generated workflow"

// Document is an n8n workflow export.
type Document struct {
	Name        string                `json:"name"`
	Nodes       []DocumentNode        `json:"nodes"`
	Connections map[string]Connection `json:"connections"`
	Settings    map[string]any        `json:"settings,omitempty"`
}

type DocumentNode struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	TypeVersion float64        `json:"typeVersion"`
	Position    [2]float64     `json:"position"`
	Parameters  map[string]any `json:"parameters"`
}

// Connection lists the outgoing links of a node per output index.
type Connection struct {
	Main [][]Link `json:"main"`
}

type Link struct {
	Node  string `json:"node"`
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// Workflow builds the n8n document described by a development specification. Nodes come from
// the Required Nodes section when present, otherwise from keywords in the whole text.
func Workflow(spec string) (string, error) {
	name, nodes := parseSpec(spec)
	if len(nodes) == 0 {
		nodes = Match(spec)
	}
	nodes = Plan(nodes)
	doc := Document{
		Name:        name,
		Nodes:       make([]DocumentNode, 0, len(nodes)),
		Connections: map[string]Connection{},
	}
	for i, n := range nodes {
		doc.Nodes = append(doc.Nodes, DocumentNode{
			ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s|%s|%d", name, n.Type, i))).String(),
			Name:        n.Name,
			Type:        n.Type,
			TypeVersion: n.Version,
			Position:    [2]float64{float64(250 + i*220), 300},
			Parameters:  map[string]any{},
		})
		if i > 0 {
			prev := nodes[i-1].Name
			doc.Connections[prev] = Connection{Main: [][]Link{{{Node: n.Name, Type: "main", Index: 0}}}}
		}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode workflow: %w", err)
	}
	return string(b), nil
}

// parseSpec reads the title and the Required Nodes entries ("- Name: `type`") of a specification.
func parseSpec(spec string) (string, []Node) {
	name := DefaultWorkflowName
	var (
		nodes    []Node
		inNodes  bool
		scanner  = bufio.NewScanner(strings.NewReader(spec))
		seenType = map[string]bool{}
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, specTitlePrefix):
			if t := strings.TrimSpace(strings.TrimPrefix(line, specTitlePrefix)); t != "" {
				name = t
			}
			continue
		case strings.HasPrefix(line, "## "):
			inNodes = line == requiredNodesHead
			continue
		}
		if !inNodes || !strings.HasPrefix(line, "- ") {
			continue
		}
		label, nodeType, ok := splitNodeLine(strings.TrimPrefix(line, "- "))
		if !ok || seenType[nodeType] {
			continue
		}
		seenType[nodeType] = true
		n, known := LookupType(nodeType)
		if !known {
			n = Node{Name: label, Type: nodeType, Version: 1, Trigger: strings.HasSuffix(strings.ToLower(nodeType), "trigger")}
		}
		if label != "" {
			n.Name = label
		}
		nodes = append(nodes, n)
	}
	return name, nodes
}

func splitNodeLine(s string) (label, nodeType string, ok bool) {
	open := strings.Index(s, "`")
	if open < 0 {
		return "", "", false
	}
	end := strings.Index(s[open+1:], "`")
	if end <= 0 {
		return "", "", false
	}
	nodeType = s[open+1 : open+1+end]
	label = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s[:open]), ":"))
	return label, nodeType, true
}
