package oramacore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var _ Storage = &SQLiteStorage{}

// SQLiteStorage implements the Storage interface using SQLite.
// It provides functionality to store and retrieve conversation data.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLiteStorage instance with the provided database file path.
// It initializes the database schema if it doesn't exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := &SQLiteStorage{db: db}
	if err := storage.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return storage, nil
}

// initDB creates the necessary tables if they don't exist.
func (s *SQLiteStorage) initDB() error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS interactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		interaction_id TEXT NOT NULL,
		query TEXT,
		response TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(interaction_id)
	);`

	_, err := s.db.Exec(createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateConversation stores a new interaction with the user's query.
func (s *SQLiteStorage) CreateConversation(ctx context.Context, conversationID, interactionID, query string) error {
	insertSQL := `
	INSERT INTO interactions (conversation_id, interaction_id, query, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	`

	now := time.Now()
	_, err := s.db.ExecContext(ctx, insertSQL, conversationID, interactionID, query, now, now)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	return nil
}

// FinishConversation updates an existing interaction with the assistant's
// response. It looks up the interaction by its id.
func (s *SQLiteStorage) FinishConversation(ctx context.Context, interactionID, response string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM interactions WHERE interaction_id = ?)", interactionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check interaction existence: %w", err)
	}

	if !exists {
		return fmt.Errorf("no interaction found with interaction_id: %s", interactionID)
	}

	updateSQL := `
	UPDATE interactions
	SET response = ?, updated_at = ?
	WHERE interaction_id = ?
	`

	_, err = s.db.ExecContext(ctx, updateSQL, response, time.Now(), interactionID)
	if err != nil {
		return fmt.Errorf("failed to finish conversation: %w", err)
	}

	return nil
}

// GetConversation retrieves the transcript for the given conversation as an
// ordered list of user and assistant messages.
func (s *SQLiteStorage) GetConversation(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	querySQL := `
	SELECT query, response
	FROM interactions
	WHERE conversation_id = ?
	ORDER BY created_at ASC
	LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, querySQL, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var messages []Message

	for rows.Next() {
		var query, response sql.NullString
		if err := rows.Scan(&query, &response); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if query.Valid && query.String != "" {
			messages = append(messages, Message{Role: RoleUser, Content: query.String})
		}

		if response.Valid && response.String != "" {
			messages = append(messages, Message{Role: RoleAssistant, Content: response.String})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return messages, nil
}
