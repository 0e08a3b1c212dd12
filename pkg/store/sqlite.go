package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"axon/pkg/api"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/mattn/go-sqlite3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SQLite is a Store backed by a single SQLite database file. Assistants,
// automations and message payloads are stored as JSON columns; transcript
// ordering is preserved by an autoincrement sequence per conversation.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS assistants (
	id      TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS channel_bindings (
	channel_instance_id TEXT PRIMARY KEY,
	assistant_id        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	seq                 INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_instance_id TEXT,
	external_channel_id TEXT,
	conversation_id     TEXT,
	payload             TEXT NOT NULL,
	created_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_channel
	ON messages (channel_instance_id, external_channel_id, seq);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages (conversation_id, seq);
CREATE TABLE IF NOT EXISTS automations (
	id      TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);
`

// OpenSQLite opens (creating if necessary) the database at path and
// bootstraps the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Assistant(ctx context.Context, id string) (api.AssistantConfig, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM assistants WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return api.AssistantConfig{}, fmt.Errorf("assistant %q: %w", id, api.ErrNotFound)
	}
	if err != nil {
		return api.AssistantConfig{}, fmt.Errorf("load assistant %q: %w", id, err)
	}

	var cfg api.AssistantConfig
	if err := json.UnmarshalFromString(payload, &cfg); err != nil {
		return api.AssistantConfig{}, fmt.Errorf("decode assistant %q: %w", id, err)
	}
	return cfg, nil
}

func (s *SQLite) Assistants(ctx context.Context) ([]api.AssistantConfig, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM assistants")
	if err != nil {
		return nil, fmt.Errorf("list assistants: %w", err)
	}
	defer rows.Close()

	var out []api.AssistantConfig
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var cfg api.AssistantConfig
		if err := json.UnmarshalFromString(payload, &cfg); err != nil {
			return nil, fmt.Errorf("decode assistant: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveAssistant(ctx context.Context, cfg api.AssistantConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("assistant id is empty: %w", api.ErrValidation)
	}
	payload, err := json.MarshalToString(cfg)
	if err != nil {
		return fmt.Errorf("encode assistant %q: %w", cfg.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO assistants (id, payload) VALUES (?, ?)", cfg.ID, payload)
	if err != nil {
		return fmt.Errorf("save assistant %q: %w", cfg.ID, err)
	}
	return nil
}

func (s *SQLite) AssistantForChannel(ctx context.Context, channelInstanceID string) (string, error) {
	var assistantID string
	err := s.db.QueryRowContext(ctx,
		"SELECT assistant_id FROM channel_bindings WHERE channel_instance_id = ?",
		channelInstanceID).Scan(&assistantID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load binding for %q: %w", channelInstanceID, err)
	}
	return assistantID, nil
}

func (s *SQLite) BindChannel(ctx context.Context, channelInstanceID, assistantID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO channel_bindings (channel_instance_id, assistant_id) VALUES (?, ?)",
		channelInstanceID, assistantID)
	if err != nil {
		return fmt.Errorf("bind channel %q: %w", channelInstanceID, err)
	}
	return nil
}

func (s *SQLite) AppendChannelMessages(ctx context.Context, channelInstanceID, externalChannelID string, msgs []api.Message) error {
	return s.appendMessages(ctx, channelInstanceID, externalChannelID, "", msgs)
}

func (s *SQLite) AppendConversationMessages(ctx context.Context, conversationID string, msgs []api.Message) error {
	return s.appendMessages(ctx, "", "", conversationID, msgs)
}

func (s *SQLite) appendMessages(ctx context.Context, instanceID, externalID, conversationID string, msgs []api.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, msg := range msgs {
		payload, err := json.MarshalToString(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (channel_instance_id, external_channel_id, conversation_id, payload, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			instanceID, externalID, conversationID, payload, now); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) ChannelMessages(ctx context.Context, channelInstanceID, externalChannelID string) ([]api.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM messages
		WHERE channel_instance_id = ? AND external_channel_id = ?
		ORDER BY seq`,
		channelInstanceID, externalChannelID)
	if err != nil {
		return nil, fmt.Errorf("load channel messages: %w", err)
	}
	defer rows.Close()

	var out []api.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var msg api.Message
		if err := json.UnmarshalFromString(payload, &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLite) Automation(ctx context.Context, id string) (api.Automation, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM automations WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return api.Automation{}, fmt.Errorf("automation %q: %w", id, api.ErrNotFound)
	}
	if err != nil {
		return api.Automation{}, fmt.Errorf("load automation %q: %w", id, err)
	}

	var a api.Automation
	if err := json.UnmarshalFromString(payload, &a); err != nil {
		return api.Automation{}, fmt.Errorf("decode automation %q: %w", id, err)
	}
	return a, nil
}

func (s *SQLite) Automations(ctx context.Context) ([]api.Automation, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM automations")
	if err != nil {
		return nil, fmt.Errorf("list automations: %w", err)
	}
	defer rows.Close()

	var out []api.Automation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var a api.Automation
		if err := json.UnmarshalFromString(payload, &a); err != nil {
			return nil, fmt.Errorf("decode automation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveAutomation(ctx context.Context, a api.Automation) error {
	if a.ID == "" {
		return fmt.Errorf("automation id is empty: %w", api.ErrValidation)
	}
	payload, err := json.MarshalToString(a)
	if err != nil {
		return fmt.Errorf("encode automation %q: %w", a.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO automations (id, payload) VALUES (?, ?)", a.ID, payload)
	if err != nil {
		return fmt.Errorf("save automation %q: %w", a.ID, err)
	}
	return nil
}

func (s *SQLite) AppendExecution(ctx context.Context, id string, exec api.Execution, maxExecutions int) error {
	a, err := s.Automation(ctx, id)
	if err != nil {
		return err
	}
	a.Executions = append(a.Executions, exec)
	if maxExecutions > 0 && len(a.Executions) > maxExecutions {
		a.Executions = a.Executions[len(a.Executions)-maxExecutions:]
	}
	return s.SaveAutomation(ctx, a)
}

var _ Store = (*SQLite)(nil)
