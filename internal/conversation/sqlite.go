package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT,
    title TEXT,
    model TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    step INTEGER NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
    content TEXT NOT NULL DEFAULT '',
    thinking TEXT,
    tool_name TEXT,
    tool_calls TEXT,
    model TEXT,
    uuid TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_step ON messages(conversation_id, step);
`

// schemaVersion is the current schema version.
// Fresh databases get the full schema and start at this version; existing
// databases run migrations to reach it.
const schemaVersion = 2

type migration struct {
	version     int
	description string
	up          func(db *sql.DB) error
}

var migrations = []migration{
	{
		// Databases created before uuids were recorded get the columns added.
		version:     2,
		description: "add uuid columns to conversations and messages",
		up: func(db *sql.DB) error {
			alterStatements := []string{
				"ALTER TABLE conversations ADD COLUMN uuid TEXT",
				"ALTER TABLE messages ADD COLUMN uuid TEXT",
			}
			for _, stmt := range alterStatements {
				if _, err := db.Exec(stmt); err != nil {
					if !isDuplicateColumnError(err) {
						return err
					}
				}
			}
			return nil
		},
	},
}

// NewSQLiteStore opens (creating if needed) the conversation database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	// Fast path: schema already current.
	var currentVersion int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&currentVersion)
	if err == nil && currentVersion >= schemaVersion {
		return nil
	}

	if _, execErr := db.Exec(schema); execErr != nil {
		return fmt.Errorf("create base schema: %w", execErr)
	}
	if _, execErr := db.Exec("CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)"); execErr != nil {
		return fmt.Errorf("create schema_version table: %w", execErr)
	}

	if err != nil {
		if err != sql.ErrNoRows && !strings.Contains(err.Error(), "no such table") {
			return fmt.Errorf("get current version: %w", err)
		}
		// No version record yet. Migrations are idempotent, so an unversioned
		// database starts at 0 and replays them all.
		currentVersion = 0
		if _, insErr := db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentVersion); insErr != nil {
			return fmt.Errorf("insert initial version: %w", insErr)
		}
	}

	for _, m := range migrations {
		if m.version > currentVersion {
			if err := m.up(db); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
			}
			if _, err := db.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
				return fmt.Errorf("update version to %d: %w", m.version, err)
			}
		}
	}

	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") ||
		strings.Contains(errStr, "already exists")
}

// CreateConversation inserts a new conversation and returns its id.
func (s *SQLiteStore) CreateConversation(ctx context.Context, title, model string) (int64, error) {
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (uuid, title, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), nullString(title), nullString(model), now, now)
	if err != nil {
		return 0, fmt.Errorf("insert conversation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("conversation id: %w", err)
	}
	return id, nil
}

// GetConversation loads a conversation and its messages ordered by step.
// Returns (nil, nil) when the conversation does not exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, title, model, created_at, updated_at
		FROM conversations WHERE id = ?`, id)

	var conv Conversation
	var convUUID, title, model sql.NullString
	err := row.Scan(&conv.ID, &convUUID, &title, &model, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	conv.UUID = convUUID.String
	conv.Title = title.String
	conv.Model = model.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, step, role, content, thinking, tool_name, tool_calls, model, uuid, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY step ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg Message
		var thinking, toolName, toolCalls, msgModel, msgUUID sql.NullString
		err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Step, &msg.Role, &msg.Content,
			&thinking, &toolName, &toolCalls, &msgModel, &msgUUID, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Thinking = thinking.String
		msg.ToolName = toolName.String
		msg.Model = msgModel.String
		msg.UUID = msgUUID.String
		if toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool_calls: %w", err)
			}
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return &conv, nil
}

// ListConversations returns recent conversations, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.model,
		       (SELECT COUNT(*) FROM messages WHERE conversation_id = c.id) AS message_count,
		       c.created_at, c.updated_at
		FROM conversations c
		ORDER BY c.updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var results []Summary
	for rows.Next() {
		var sum Summary
		var title, model sql.NullString
		if err := rows.Scan(&sum.ID, &title, &model, &sum.MessageCount, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.Title = title.String
		sum.Model = model.String
		results = append(results, sum)
	}
	return results, rows.Err()
}

// AppendMessage stores a message. The caller assigns Step; the unique index
// on (conversation_id, step) rejects duplicates.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID int64, msg *Message) error {
	msg.ConversationID = conversationID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.UUID == "" {
		msg.UUID = uuid.NewString()
	}

	var toolCallsJSON sql.NullString
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool_calls: %w", err)
		}
		toolCallsJSON = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, step, role, content, thinking, tool_name, tool_calls, model, uuid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conversationID, msg.Step, string(msg.Role), msg.Content,
		nullString(msg.Thinking), nullString(msg.ToolName), toolCallsJSON,
		nullString(msg.Model), msg.UUID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	msg.ID, _ = result.LastInsertId()

	if _, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?",
		time.Now(), conversationID); err != nil {
		return fmt.Errorf("update conversation timestamp: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
