// Package session is the on-disk transcript store with a write-through
// relational index. Each session is one Markdown file under
// sessions/<YYYY>/<MM>/<projectHash>/; a relational index (store/sqlite or
// store/postgres) carries per-session and per-turn rows plus full-text
// search over turn content.
package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/samskara-labs/chitragupta"
)

// Sentinel errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrBadSessionID    = errors.New("malformed session id")
)

// Meta is the per-session index row.
type Meta struct {
	ID        string   `json:"id"`
	Project   string   `json:"project"`
	Title     string   `json:"title"`
	Created   int64    `json:"created"` // unix milliseconds
	Updated   int64    `json:"updated"`
	Agent     string   `json:"agent"`
	Model     string   `json:"model"`
	Cost      float64  `json:"cost"`
	Tokens    int      `json:"tokens"`
	Tags      []string `json:"tags,omitempty"`
	Parent    string   `json:"parent,omitempty"`
	Branch    string   `json:"branch,omitempty"`
	TurnCount int      `json:"turnCount"`
	FilePath  string   `json:"filePath"`
}

// Turn is the per-turn index row.
type Turn struct {
	SessionID  string `json:"sessionId"`
	TurnNumber int    `json:"turnNumber"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	Created    int64  `json:"created"`
}

// TurnHit is one full-text match over turn content.
type TurnHit struct {
	SessionID  string
	TurnNumber int
	Snippet    string
	Rank       float64 // higher is better
}

// MemoryEntry is one scoped memory impression.
type MemoryEntry struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"` // global, project, session
	Content   string    `json:"content"`
	UpdatedAt int64     `json:"updatedAt"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Index is the write-through relational backend. store/sqlite and
// store/postgres both implement it.
type Index interface {
	Init(ctx context.Context) error
	SaveSession(ctx context.Context, meta Meta) error
	GetSession(ctx context.Context, id string) (Meta, bool, error)
	ListSessions(ctx context.Context, project string) ([]Meta, error)
	InsertTurn(ctx context.Context, t Turn) error
	SearchTurns(ctx context.Context, match, project string, limit int) ([]TurnHit, error)
	DeleteSession(ctx context.Context, id string) error
	SaveMemory(ctx context.Context, e MemoryEntry) error
	ListMemory(ctx context.Context) ([]MemoryEntry, error)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store keeps transcripts on disk and mirrors them into the Index. Writes
// to a single session are serialized; distinct sessions proceed in
// parallel.
type Store struct {
	root   string
	index  Index
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	writers map[string]*sync.Mutex
}

// NewStore creates a transcript store rooted at dir (transcripts live
// under dir/sessions/).
func NewStore(dir string, index Index, opts ...Option) *Store {
	s := &Store{
		root:    dir,
		index:   index,
		logger:  chitragupta.NopLogger(),
		now:     time.Now,
		writers: make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// writerFor returns the per-session mutex, creating it on first use.
func (s *Store) writerFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.writers[id]
	if !ok {
		m = &sync.Mutex{}
		s.writers[id] = m
	}
	return m
}

// ProjectHash is an 8-hex FNV-1a over the canonical project path.
func ProjectHash(project string) string {
	h := fnv.New32a()
	h.Write([]byte(filepath.Clean(project)))
	return fmt.Sprintf("%08x", h.Sum32())
}

var sessionIDRe = regexp.MustCompile(`^session-(\d{4})-(\d{2})-(\d{2})-([0-9a-f]{8})(-\d+)?$`)

// sessionPath is the nested layout location for an id.
func (s *Store) sessionPath(id string) (string, error) {
	m := sessionIDRe.FindStringSubmatch(id)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrBadSessionID, id)
	}
	return filepath.Join(s.root, "sessions", m[1], m[2], m[4], id+".md"), nil
}

// legacyPath is the flat pre-nesting location for an id.
func (s *Store) legacyPath(id string) (string, error) {
	m := sessionIDRe.FindStringSubmatch(id)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrBadSessionID, id)
	}
	return filepath.Join(s.root, "sessions", m[4], id+".md"), nil
}

// resolvePath finds the transcript file, preferring the nested layout and
// falling back to the legacy flat layout.
func (s *Store) resolvePath(id string) (string, error) {
	nested, err := s.sessionPath(id)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(nested); err == nil {
		return nested, nil
	}
	legacy, err := s.legacyPath(id)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(legacy); err == nil {
		return legacy, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

// Create allocates a new session for the project: picks the first free
// `session-YYYY-MM-DD-<hash8>[-N]` id for today, writes the initial
// transcript, and inserts the index row.
func (s *Store) Create(ctx context.Context, project, title, agent, model string) (Meta, error) {
	day := s.now().UTC().Format("2006-01-02")
	hash := ProjectHash(project)
	base := fmt.Sprintf("session-%s-%s", day, hash)

	id := base
	for n := 2; ; n++ {
		path, err := s.sessionPath(id)
		if err != nil {
			return Meta{}, err
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
			break
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}

	path, _ := s.sessionPath(id)
	nowMs := s.now().UnixMilli()
	meta := Meta{
		ID:       id,
		Project:  project,
		Title:    title,
		Created:  nowMs,
		Updated:  nowMs,
		Agent:    agent,
		Model:    model,
		FilePath: path,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Meta{}, fmt.Errorf("create session dir: %w", err)
	}
	if err := writeFileAtomic(path, []byte(renderMarkdown(meta, nil))); err != nil {
		return Meta{}, err
	}
	if err := s.index.SaveSession(ctx, meta); err != nil {
		return Meta{}, fmt.Errorf("index session: %w", err)
	}
	s.logger.Info("session created", "id", id, "project", project)
	return meta, nil
}

// AppendTurn adds one transcript message to the session, rewrites the
// file, and mirrors the turn into the index.
func (s *Store) AppendTurn(ctx context.Context, id string, msg TranscriptMessage) error {
	w := s.writerFor(id)
	w.Lock()
	defer w.Unlock()

	meta, msgs, err := s.load(id)
	if err != nil {
		return err
	}
	msg.TurnNumber = len(msgs) + 1
	msgs = append(msgs, msg)

	meta.TurnCount = len(msgs)
	meta.Updated = s.now().UnixMilli()
	meta.Cost += msg.Cost
	meta.Tokens += msg.Tokens
	if msg.Model != "" {
		meta.Model = msg.Model
	}

	path, err := s.resolvePath(id)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, []byte(renderMarkdown(meta, msgs))); err != nil {
		return err
	}
	if err := s.index.SaveSession(ctx, meta); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	turn := Turn{
		SessionID:  id,
		TurnNumber: msg.TurnNumber,
		Role:       msg.Role,
		Content:    msg.indexContent(),
		Created:    meta.Updated,
	}
	if err := s.index.InsertTurn(ctx, turn); err != nil {
		return fmt.Errorf("index turn: %w", err)
	}
	return nil
}

// Load reads a session transcript from disk.
func (s *Store) Load(ctx context.Context, id string) (Meta, []TranscriptMessage, error) {
	w := s.writerFor(id)
	w.Lock()
	defer w.Unlock()
	return s.load(id)
}

func (s *Store) load(id string) (Meta, []TranscriptMessage, error) {
	path, err := s.resolvePath(id)
	if err != nil {
		return Meta{}, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("read session: %w", err)
	}
	meta, msgs, err := parseMarkdown(data)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	meta.FilePath = path
	return meta, msgs, nil
}

// Delete removes the transcript file and index rows, then prunes empty
// parent directories up to the sessions root.
func (s *Store) Delete(ctx context.Context, id string) error {
	w := s.writerFor(id)
	w.Lock()
	defer w.Unlock()

	path, err := s.resolvePath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove session file: %w", err)
	}
	if err := s.index.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("deindex session: %w", err)
	}

	stop := filepath.Join(s.root, "sessions")
	for dir := filepath.Dir(path); dir != stop && strings.HasPrefix(dir, stop); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break // not empty
		}
	}
	s.logger.Info("session deleted", "id", id)
	return nil
}

// Migrate scans on-disk transcripts and indexes any session the index does
// not know yet, re-inserting its turns. Returns counts of migrated and
// skipped files.
func (s *Store) Migrate(ctx context.Context) (migrated, skipped int, err error) {
	base := filepath.Join(s.root, "sessions")
	walkErr := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		id := strings.TrimSuffix(filepath.Base(path), ".md")
		_, known, err := s.index.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if known {
			skipped++
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		meta, msgs, err := parseMarkdown(data)
		if err != nil {
			s.logger.Warn("migrate: unparseable transcript", "path", path, "error", err)
			skipped++
			return nil
		}
		meta.FilePath = path
		if err := s.index.SaveSession(ctx, meta); err != nil {
			return err
		}
		for _, m := range msgs {
			turn := Turn{
				SessionID:  id,
				TurnNumber: m.TurnNumber,
				Role:       m.Role,
				Content:    m.indexContent(),
				Created:    meta.Updated,
			}
			if err := s.index.InsertTurn(ctx, turn); err != nil {
				return err
			}
		}
		migrated++
		return nil
	})
	if walkErr != nil {
		return migrated, skipped, fmt.Errorf("migrate: %w", walkErr)
	}
	s.logger.Info("migration complete", "migrated", migrated, "skipped", skipped)
	return migrated, skipped, nil
}

// writeFileAtomic writes via a temp file and rename so readers never see a
// half-written transcript.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}
