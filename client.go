// Package oramacore is a Go client for OramaCore: collection-scoped search,
// document management, and streaming answer sessions over SSE.
package oramacore

import (
	"fmt"
	"log/slog"
)

// ClientConfig carries the connection parameters fixed at construction.
// Read operations need ReadAPIKey, write operations need WriteAPIKey (which
// is exchanged for a short-lived token on first use).
type ClientConfig struct {
	URL         string
	ReadAPIKey  string
	WriteAPIKey string
}

// OramaCoreClient operates on one collection at a time. Call SetCollection
// before any collection-scoped operation.
type OramaCoreClient struct {
	config       ClientConfig
	transport    *restTransport
	collectionID string
	logger       *slog.Logger
}

func NewOramaCoreClient(config ClientConfig) *OramaCoreClient {
	auth := newAuthContext(config.URL, config.ReadAPIKey, config.WriteAPIKey, "")
	return &OramaCoreClient{
		config:    config,
		transport: newRestTransport(config.URL, auth),
		logger:    slog.Default(),
	}
}

// SetCollection scopes all subsequent operations to the given collection.
func (c *OramaCoreClient) SetCollection(collectionID string) {
	c.collectionID = collectionID
}

func (c *OramaCoreClient) Collection() string {
	return c.collectionID
}

func (c *OramaCoreClient) collectionPath(op string) (string, error) {
	if c.collectionID == "" {
		return "", ErrNoCollection
	}
	return fmt.Sprintf("/v1/collections/%s/%s", c.collectionID, op), nil
}
