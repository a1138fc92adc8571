package oramacore

import (
	"context"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const randAPIKeyLength = 32

const apiKeyAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// OramaCoreManager administers collections with the master API key.
type OramaCoreManager struct {
	transport *restTransport
}

func NewOramaCoreManager(url, masterAPIKey string) *OramaCoreManager {
	auth := newAuthContext(url, "", "", masterAPIKey)
	return &OramaCoreManager{transport: newRestTransport(url, auth)}
}

// NewCollectionParams describes a collection to create. Omitted API keys are
// generated randomly; the language defaults to English on the server.
type NewCollectionParams struct {
	ID          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	WriteAPIKey string            `json:"write_api_key"`
	ReadAPIKey  string            `json:"read_api_key"`
	Language    string            `json:"language,omitempty"`
	Embeddings  *EmbeddingsConfig `json:"embeddings,omitempty"`
}

type EmbeddingsConfig struct {
	Model          string   `json:"model,omitempty"`
	DocumentFields []string `json:"document_fields,omitempty"`
}

type NewCollectionResponse struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	WriteAPIKey string `json:"write_api_key"`
	ReadAPIKey  string `json:"read_api_key"`
}

type ExistingCollection struct {
	ID            string         `json:"id"`
	Description   string         `json:"description,omitempty"`
	DocumentCount int            `json:"document_count"`
	Fields        map[string]any `json:"fields"`
}

func (m *OramaCoreManager) CreateCollection(ctx context.Context, params NewCollectionParams) (*NewCollectionResponse, error) {
	if params.ID == "" {
		return nil, ErrMissingID
	}
	if params.WriteAPIKey == "" {
		params.WriteAPIKey = randomAPIKey()
	}
	if params.ReadAPIKey == "" {
		params.ReadAPIKey = randomAPIKey()
	}
	if err := m.transport.doJSON(ctx, "POST", "/v1/collections/create", params, nil, credentialMaster); err != nil {
		return nil, err
	}
	return &NewCollectionResponse{
		ID:          params.ID,
		Description: params.Description,
		WriteAPIKey: params.WriteAPIKey,
		ReadAPIKey:  params.ReadAPIKey,
	}, nil
}

func (m *OramaCoreManager) ListCollections(ctx context.Context) ([]ExistingCollection, error) {
	var out []ExistingCollection
	if err := m.transport.doJSON(ctx, "GET", "/v1/collections", nil, &out, credentialMaster); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *OramaCoreManager) GetCollection(ctx context.Context, id string) (*ExistingCollection, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	var out ExistingCollection
	if err := m.transport.doJSON(ctx, "GET", fmt.Sprintf("/v1/collections/%s", id), nil, &out, credentialMaster); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *OramaCoreManager) DeleteCollection(ctx context.Context, id string) error {
	if id == "" {
		return ErrMissingID
	}
	body := map[string]string{"collection_id_to_delete": id}
	return m.transport.doJSON(ctx, "POST", "/v1/collections/delete", body, nil, credentialMaster)
}

func randomAPIKey() string {
	return gonanoid.MustGenerate(apiKeyAlphabet, randAPIKeyLength)
}
