package oramacore

import "context"

// Storage persists conversation history locally so sessions can survive a
// restart. A conversation row is created when a question is asked and
// finished when the answer completes; aborted or errored interactions are
// never finished.
type Storage interface {
	CreateConversation(ctx context.Context, conversationID, interactionID, query string) error
	FinishConversation(ctx context.Context, interactionID, response string) error
	GetConversation(ctx context.Context, conversationID string, limit, offset int) ([]Message, error)

	Close() error
}
