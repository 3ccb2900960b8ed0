// Package store persists conversations and their decisions in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nerv-tools/magi/internal/model"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

var ErrNotFound = errors.New("store: not found")

// Conversation groups the questions asked in one thread.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one utterance in a conversation, either the caller's question
// or the system's ruling.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // "user" or "magi"
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// DecisionRecord is a persisted deliberation outcome. The full response is
// kept as JSON next to the columns queries filter on.
type DecisionRecord struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Question       string                 `json:"question"`
	FinalDecision  model.Decision         `json:"final_decision"`
	Confidence     float64                `json:"confidence"`
	Response       model.DecisionResponse `json:"response"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Stats aggregates what the store holds.
type Stats struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Decisions     int `json:"decisions"`
	Approved      int `json:"approved"`
	Rejected      int `json:"rejected"`
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path, applies the pragmas, and
// runs migrations. Parent directories are created as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	// database/sql pools connections, and an Exec'd PRAGMA configures
	// only the one connection that served it. Carrying the pragmas in
	// the DSN makes the driver apply them to every connection it opens,
	// which foreign_keys in particular needs for cascades to hold.
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)"
	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_at      TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);

		CREATE TABLE IF NOT EXISTS decisions (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT REFERENCES conversations(id) ON DELETE CASCADE,
			question        TEXT NOT NULL,
			final_decision  TEXT NOT NULL,
			confidence      REAL NOT NULL,
			response        TEXT NOT NULL,
			created_at      TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_decisions_conversation ON decisions(conversation_id);
		CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// CreateConversation starts a new thread.
func (s *Store) CreateConversation(ctx context.Context, title string) (Conversation, error) {
	now := time.Now().UTC()
	conv := Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("store: create conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var conv Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("store: get conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns the most recently updated threads first.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()

	conversations := []Conversation{}
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// DeleteConversation removes a thread with its messages and decisions.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage adds one utterance and bumps the thread's update time.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) (Message, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("store: append message: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, role, content, now)
	if err != nil {
		return Message{}, fmt.Errorf("store: append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("store: append message: %w", err)
	}

	bumped, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID)
	if err != nil {
		return Message{}, fmt.Errorf("store: append message: %w", err)
	}
	if n, _ := bumped.RowsAffected(); n == 0 {
		return Message{}, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("store: append message: %w", err)
	}

	return Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}, nil
}

// Messages returns a thread's utterances in insertion order.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SaveDecision persists one deliberation outcome. conversationID may be
// empty for one-off questions.
func (s *Store) SaveDecision(ctx context.Context, conversationID, question string, resp model.DecisionResponse) (DecisionRecord, error) {
	blob, err := json.Marshal(resp)
	if err != nil {
		return DecisionRecord{}, fmt.Errorf("store: encode decision: %w", err)
	}

	record := DecisionRecord{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Question:       question,
		FinalDecision:  resp.Judge.FinalDecision,
		Confidence:     resp.Judge.Confidence,
		Response:       resp,
		CreatedAt:      time.Now().UTC(),
	}

	var convID any
	if conversationID != "" {
		convID = conversationID
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, conversation_id, question, final_decision, confidence, response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, convID, record.Question, string(record.FinalDecision), record.Confidence, string(blob), record.CreatedAt)
	if err != nil {
		return DecisionRecord{}, fmt.Errorf("store: save decision: %w", err)
	}
	return record, nil
}

// RecentDecisions returns the latest outcomes, newest first. An empty
// conversationID returns decisions across all threads.
func (s *Store) RecentDecisions(ctx context.Context, conversationID string, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, COALESCE(conversation_id, ''), question, final_decision, confidence, response, created_at
		FROM decisions`
	args := []any{}
	if conversationID != "" {
		query += ` WHERE conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list decisions: %w", err)
	}
	defer rows.Close()

	records := []DecisionRecord{}
	for rows.Next() {
		var (
			record DecisionRecord
			blob   string
		)
		if err := rows.Scan(&record.ID, &record.ConversationID, &record.Question,
			&record.FinalDecision, &record.Confidence, &blob, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan decision: %w", err)
		}
		if err := json.Unmarshal([]byte(blob), &record.Response); err != nil {
			return nil, fmt.Errorf("store: decode decision %s: %w", record.ID, err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Stats aggregates row counts and the approval split.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM decisions),
			(SELECT COUNT(*) FROM decisions WHERE final_decision = 'APPROVED'),
			(SELECT COUNT(*) FROM decisions WHERE final_decision = 'REJECTED')`).
		Scan(&stats.Conversations, &stats.Messages, &stats.Decisions, &stats.Approved, &stats.Rejected)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	return stats, nil
}

// Prune deletes conversations idle past the cutoff and detached decisions
// of the same age. It returns the number of conversations removed.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune conversations: %w", err)
	}
	pruned, _ := res.RowsAffected()

	_, err = s.db.ExecContext(ctx, `DELETE FROM decisions WHERE conversation_id IS NULL AND created_at < ?`, cutoff)
	if err != nil {
		return pruned, fmt.Errorf("store: prune decisions: %w", err)
	}
	return pruned, nil
}
