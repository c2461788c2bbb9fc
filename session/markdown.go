package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// TranscriptMessage is one rendered turn of a session transcript.
type TranscriptMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	TurnNumber int              `json:"turnNumber"`
	Agent      string           `json:"agent,omitempty"`
	Model      string           `json:"model,omitempty"`
	ToolCalls  []ToolCallRecord `json:"toolCalls,omitempty"`

	// Accounting carried to the session header, not part of the export
	// message shape.
	Cost   float64 `json:"-"`
	Tokens int     `json:"-"`
}

// ToolCallRecord is one tool invocation attached to an assistant turn.
type ToolCallRecord struct {
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input,omitempty"`
	Result  string          `json:"result,omitempty"`
	IsError bool            `json:"isError,omitempty"`
}

// indexContent flattens a message for the full-text index: body text plus
// tool names and results.
func (m TranscriptMessage) indexContent() string {
	parts := []string{m.Content}
	for _, tc := range m.ToolCalls {
		parts = append(parts, tc.Name, tc.Result)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

const headerTimeLayout = "2006-01-02T15:04:05.000Z"

func formatMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(headerTimeLayout)
}

func parseMs(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// renderMarkdown produces the transcript document: a labelled-line header
// followed by `## Role` sections, tool calls as `### Tool:` blocks with
// fenced input and result.
func renderMarkdown(meta Meta, msgs []TranscriptMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", meta.Title)
	fmt.Fprintf(&b, "- id: %s\n", meta.ID)
	fmt.Fprintf(&b, "- title: %s\n", meta.Title)
	fmt.Fprintf(&b, "- created: %s\n", formatMs(meta.Created))
	fmt.Fprintf(&b, "- updated: %s\n", formatMs(meta.Updated))
	fmt.Fprintf(&b, "- model: %s\n", meta.Model)
	fmt.Fprintf(&b, "- agent: %s\n", meta.Agent)
	fmt.Fprintf(&b, "- project: %s\n", meta.Project)
	fmt.Fprintf(&b, "- parent: %s\n", meta.Parent)
	fmt.Fprintf(&b, "- branch: %s\n", meta.Branch)
	fmt.Fprintf(&b, "- tags: %s\n", strings.Join(meta.Tags, ", "))
	fmt.Fprintf(&b, "- turns: %d\n", meta.TurnCount)
	fmt.Fprintf(&b, "- cost: %s\n", strconv.FormatFloat(meta.Cost, 'f', -1, 64))
	fmt.Fprintf(&b, "- tokens: %d\n", meta.Tokens)

	for _, m := range msgs {
		fmt.Fprintf(&b, "\n## %s\n", titleRole(m.Role))
		if m.Content != "" {
			fmt.Fprintf(&b, "\n%s\n", m.Content)
		}
		for _, tc := range m.ToolCalls {
			suffix := ""
			if tc.IsError {
				suffix = " (error)"
			}
			fmt.Fprintf(&b, "\n### Tool: %s%s\n", tc.Name, suffix)
			if len(tc.Input) > 0 {
				fmt.Fprintf(&b, "\n```json\n%s\n```\n", string(tc.Input))
			}
			if tc.Result != "" {
				fmt.Fprintf(&b, "\n```\n%s\n```\n", tc.Result)
			}
		}
	}
	return b.String()
}

func titleRole(role string) string {
	if role == "" {
		return "User"
	}
	return strings.ToUpper(role[:1]) + role[1:]
}

// parseMarkdown reconstructs meta and messages from a transcript document.
// The header must carry id, title, and created.
func parseMarkdown(data []byte) (Meta, []TranscriptMessage, error) {
	doc := goldmark.New().Parser().Parse(text.NewReader(data))

	var meta Meta
	var msgs []TranscriptMessage
	var cur *TranscriptMessage
	var curTool *ToolCallRecord
	inHeader := true

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			switch node.Level {
			case 2:
				inHeader = false
				flushTool(&cur, &curTool)
				role := strings.ToLower(strings.TrimSpace(blockText(node, data)))
				msgs = append(msgs, TranscriptMessage{Role: role, TurnNumber: len(msgs) + 1})
				cur = &msgs[len(msgs)-1]
			case 3:
				if cur == nil {
					continue
				}
				flushTool(&cur, &curTool)
				label := strings.TrimSpace(blockText(node, data))
				name, ok := strings.CutPrefix(label, "Tool: ")
				if !ok {
					continue
				}
				tc := ToolCallRecord{}
				if trimmed, errSuffix := strings.CutSuffix(name, " (error)"); errSuffix {
					name = trimmed
					tc.IsError = true
				}
				tc.Name = name
				curTool = &tc
			}
		case *ast.List:
			if !inHeader {
				// A list inside a message body is content, not header fields.
				if cur == nil || curTool != nil {
					continue
				}
				var items []string
				for li := node.FirstChild(); li != nil; li = li.NextSibling() {
					items = append(items, "- "+strings.TrimSpace(blockText(li.FirstChild(), data)))
				}
				appendContent(cur, strings.Join(items, "\n"))
				continue
			}
			for li := node.FirstChild(); li != nil; li = li.NextSibling() {
				line := strings.TrimSpace(blockText(li.FirstChild(), data))
				key, val, found := strings.Cut(line, ":")
				if !found {
					continue
				}
				applyHeaderField(&meta, strings.TrimSpace(key), strings.TrimSpace(val))
			}
		case *ast.FencedCodeBlock:
			body := strings.TrimRight(blockText(node, data), "\n")
			if curTool != nil {
				if string(node.Language(data)) == "json" && curTool.Input == nil {
					curTool.Input = json.RawMessage(body)
				} else {
					curTool.Result = body
				}
				continue
			}
			// A fence outside a tool block belongs to the message content;
			// re-wrap it so the round trip keeps the code.
			if cur == nil {
				continue
			}
			appendContent(cur, fmt.Sprintf("```%s\n%s\n```", string(node.Language(data)), body))
		case *ast.Paragraph:
			if cur == nil || curTool != nil {
				continue
			}
			appendContent(cur, strings.TrimRight(blockText(node, data), "\n"))
		}
	}
	flushTool(&cur, &curTool)

	if meta.ID == "" || meta.Title == "" || meta.Created == 0 {
		return Meta{}, nil, fmt.Errorf("transcript header missing id, title, or created")
	}
	meta.TurnCount = len(msgs)
	return meta, msgs, nil
}

// appendContent joins body blocks with a blank line, the way renderMarkdown
// separates them.
func appendContent(cur *TranscriptMessage, block string) {
	if cur.Content == "" {
		cur.Content = block
		return
	}
	cur.Content += "\n\n" + block
}

func flushTool(cur **TranscriptMessage, tool **ToolCallRecord) {
	if *cur != nil && *tool != nil {
		(*cur).ToolCalls = append((*cur).ToolCalls, **tool)
	}
	*tool = nil
}

func applyHeaderField(meta *Meta, key, val string) {
	switch key {
	case "id":
		meta.ID = val
	case "title":
		meta.Title = val
	case "created":
		if ms, err := parseMs(val); err == nil {
			meta.Created = ms
		}
	case "updated":
		if ms, err := parseMs(val); err == nil {
			meta.Updated = ms
		}
	case "model":
		meta.Model = val
	case "agent":
		meta.Agent = val
	case "project":
		meta.Project = val
	case "parent":
		meta.Parent = val
	case "branch":
		meta.Branch = val
	case "tags":
		if val != "" {
			for _, tag := range strings.Split(val, ",") {
				meta.Tags = append(meta.Tags, strings.TrimSpace(tag))
			}
		}
	case "cost":
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			meta.Cost = f
		}
	case "tokens":
		if n, err := strconv.Atoi(val); err == nil {
			meta.Tokens = n
		}
	}
}

// blockText concatenates a block node's source lines.
func blockText(n ast.Node, src []byte) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}
