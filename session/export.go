package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const exportVersion = 1

// Export is the portable JSON form of one session.
type Export struct {
	Version    int           `json:"version"`
	ExportedAt string        `json:"exportedAt"`
	Session    ExportSession `json:"session"`
	Stats      ExportStats   `json:"stats"`
}

// ExportSession carries the session metadata and ordered messages.
type ExportSession struct {
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	CreatedAt string              `json:"createdAt"`
	UpdatedAt string              `json:"updatedAt"`
	Model     string              `json:"model,omitempty"`
	Agent     string              `json:"agent,omitempty"`
	Project   string              `json:"project,omitempty"`
	Parent    *string             `json:"parent"`
	Branch    *string             `json:"branch"`
	Tags      []string            `json:"tags"`
	Messages  []TranscriptMessage `json:"messages"`
}

// ExportStats summarizes session accounting.
type ExportStats struct {
	TurnCount   int     `json:"turnCount"`
	TotalCost   float64 `json:"totalCost"`
	TotalTokens int     `json:"totalTokens"`
}

// ExportJSON serializes the session, its turn order, roles, contents, and
// tool calls into the version-1 export format.
func (s *Store) ExportJSON(ctx context.Context, id string) ([]byte, error) {
	meta, msgs, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	exp := Export{
		Version:    exportVersion,
		ExportedAt: s.now().UTC().Format(time.RFC3339),
		Session: ExportSession{
			ID:        meta.ID,
			Title:     meta.Title,
			CreatedAt: formatMs(meta.Created),
			UpdatedAt: formatMs(meta.Updated),
			Model:     meta.Model,
			Agent:     meta.Agent,
			Project:   meta.Project,
			Parent:    nullable(meta.Parent),
			Branch:    nullable(meta.Branch),
			Tags:      orEmpty(meta.Tags),
			Messages:  msgs,
		},
		Stats: ExportStats{
			TurnCount:   meta.TurnCount,
			TotalCost:   meta.Cost,
			TotalTokens: meta.Tokens,
		},
	}
	return json.MarshalIndent(exp, "", "  ")
}

// ImportJSON validates an export document, writes the transcript, and
// indexes the session. Unknown versions are rejected; id, title, and
// createdAt are required; message roles must be user or assistant.
func (s *Store) ImportJSON(ctx context.Context, data []byte) (Meta, error) {
	var exp Export
	if err := json.Unmarshal(data, &exp); err != nil {
		return Meta{}, fmt.Errorf("parse export: %w", err)
	}
	if exp.Version != exportVersion {
		return Meta{}, fmt.Errorf("unsupported export version %d", exp.Version)
	}
	sess := exp.Session
	if sess.ID == "" || sess.Title == "" || sess.CreatedAt == "" {
		return Meta{}, fmt.Errorf("export missing id, title, or createdAt")
	}
	if sess.Messages == nil {
		return Meta{}, fmt.Errorf("export missing messages")
	}
	for i, m := range sess.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			return Meta{}, fmt.Errorf("message %d: bad role %q", i, m.Role)
		}
	}

	created, err := parseMs(sess.CreatedAt)
	if err != nil {
		return Meta{}, fmt.Errorf("bad createdAt: %w", err)
	}
	updated := created
	if sess.UpdatedAt != "" {
		if ms, err := parseMs(sess.UpdatedAt); err == nil {
			updated = ms
		}
	}

	meta := Meta{
		ID:        sess.ID,
		Project:   sess.Project,
		Title:     sess.Title,
		Created:   created,
		Updated:   updated,
		Agent:     sess.Agent,
		Model:     sess.Model,
		Cost:      exp.Stats.TotalCost,
		Tokens:    exp.Stats.TotalTokens,
		Tags:      sess.Tags,
		Parent:    deref(sess.Parent),
		Branch:    deref(sess.Branch),
		TurnCount: len(sess.Messages),
	}

	msgs := make([]TranscriptMessage, len(sess.Messages))
	copy(msgs, sess.Messages)
	for i := range msgs {
		msgs[i].TurnNumber = i + 1
	}

	path, err := s.sessionPath(meta.ID)
	if err != nil {
		return Meta{}, err
	}
	meta.FilePath = path

	w := s.writerFor(meta.ID)
	w.Lock()
	defer w.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Meta{}, fmt.Errorf("create session dir: %w", err)
	}
	if err := writeFileAtomic(path, []byte(renderMarkdown(meta, msgs))); err != nil {
		return Meta{}, err
	}
	if err := s.index.SaveSession(ctx, meta); err != nil {
		return Meta{}, fmt.Errorf("index session: %w", err)
	}
	for _, m := range msgs {
		turn := Turn{
			SessionID:  meta.ID,
			TurnNumber: m.TurnNumber,
			Role:       m.Role,
			Content:    m.indexContent(),
			Created:    meta.Updated,
		}
		if err := s.index.InsertTurn(ctx, turn); err != nil {
			return Meta{}, fmt.Errorf("index turn: %w", err)
		}
	}
	s.logger.Info("session imported", "id", meta.ID, "turns", len(msgs))
	return meta, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func orEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
