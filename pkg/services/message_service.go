package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/copilotz/copilotz/pkg/database"
	"github.com/copilotz/copilotz/pkg/models"
)

// CreateMessageRequest contains fields for creating a message
type CreateMessageRequest struct {
	ThreadID   string
	SenderID   string
	SenderType models.SenderType
	UserID     string
	Content    models.Content
	ToolCalls  []models.ToolCall
	ToolCallID string
	Metadata   map[string]any
}

// MessageService manages the append-only message log
type MessageService struct {
	client *database.Client
}

// NewMessageService creates a new MessageService
func NewMessageService(client *database.Client) *MessageService {
	return &MessageService{client: client}
}

const messageColumns = `id, thread_id, sender_id, sender_type, user_id, content, tool_calls, tool_call_id, metadata, created_at`

// CreateMessage inserts a new message. Messages are never updated after
// insert; corrections arrive as new messages.
func (s *MessageService) CreateMessage(ctx context.Context, req CreateMessageRequest) (*models.Message, error) {
	if req.ThreadID == "" {
		return nil, NewValidationError("threadId", "required")
	}
	if !models.ValidSenderType(req.SenderType) {
		return nil, NewValidationError("senderType", fmt.Sprintf("unknown sender type %q", req.SenderType))
	}
	if req.Content.IsEmpty() && len(req.ToolCalls) == 0 {
		return nil, NewValidationError("content", "content or toolCalls required")
	}

	msg := &models.Message{
		ID:         uuid.New().String(),
		ThreadID:   req.ThreadID,
		SenderID:   req.SenderID,
		SenderType: req.SenderType,
		UserID:     req.UserID,
		Content:    req.Content,
		ToolCalls:  req.ToolCalls,
		ToolCallID: req.ToolCallID,
		Metadata:   req.Metadata,
		CreatedAt:  time.Now().UTC(),
	}

	content, err := encodeJSON(msg.Content)
	if err != nil {
		return nil, err
	}
	var toolCalls any
	if len(msg.ToolCalls) > 0 {
		toolCalls, err = encodeJSON(msg.ToolCalls)
		if err != nil {
			return nil, err
		}
	}
	metadata, err := encodeJSON(msg.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.client.DB().ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, sender_id, sender_type, user_id, content, tool_calls, tool_call_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID,
		msg.ThreadID,
		msg.SenderID,
		string(msg.SenderType),
		nullString(msg.UserID),
		content,
		toolCalls,
		nullString(msg.ToolCallID),
		metadata,
		msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return msg, nil
}

// GetMessage retrieves one message by id
func (s *MessageService) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.client.DB().QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

// GetThreadMessages retrieves a thread's messages in creation order.
// A limit of 0 returns all of them.
func (s *MessageService) GetThreadMessages(ctx context.Context, threadID string, limit int) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE thread_id = $1 ORDER BY created_at ASC, id ASC`
	args := []any{threadID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get thread messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read thread messages: %w", err)
	}
	return messages, nil
}

// GetRecentMessages retrieves the newest N messages of a thread in
// creation order (oldest of the window first).
func (s *MessageService) GetRecentMessages(ctx context.Context, threadID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		return s.GetThreadMessages(ctx, threadID, 0)
	}
	rows, err := s.client.DB().QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE thread_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recent messages: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan code.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*models.Message, error) {
	var m models.Message
	var userID, toolCallID sql.NullString
	var content, toolCalls, metadata sql.NullString
	var senderType string

	err := row.Scan(&m.ID, &m.ThreadID, &m.SenderID, &senderType, &userID,
		&content, &toolCalls, &toolCallID, &metadata, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	m.SenderType = models.SenderType(senderType)
	m.UserID = stringOr(userID)
	m.ToolCallID = stringOr(toolCallID)
	if err := decodeJSON(content, &m.Content); err != nil {
		return nil, err
	}
	if err := decodeJSON(toolCalls, &m.ToolCalls); err != nil {
		return nil, err
	}
	if err := decodeJSON(metadata, &m.Metadata); err != nil {
		return nil, err
	}
	return &m, nil
}
