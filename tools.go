package oramacore

import (
	"context"

	"github.com/invopop/jsonschema"
)

// Tool is a server-side tool the answer pipeline may invoke while planning.
// Parameters holds the JSON schema of the tool's arguments.
type Tool struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Parameters  string `json:"parameters"`
}

// InsertTool registers a tool on the current collection.
func (c *OramaCoreClient) InsertTool(ctx context.Context, tool Tool) error {
	path, err := c.collectionPath("tools/insert")
	if err != nil {
		return err
	}
	return c.transport.doJSON(ctx, "POST", path, tool, nil, credentialWrite)
}

// ListTools returns the tools registered on the current collection.
func (c *OramaCoreClient) ListTools(ctx context.Context) ([]Tool, error) {
	path, err := c.collectionPath("tools")
	if err != nil {
		return nil, err
	}
	var out struct {
		Tools []Tool `json:"tools"`
	}
	if err := c.transport.doJSON(ctx, "GET", path, nil, &out, credentialRead); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// DeleteTool removes a tool by id from the current collection.
func (c *OramaCoreClient) DeleteTool(ctx context.Context, toolID string) error {
	path, err := c.collectionPath("tools/delete")
	if err != nil {
		return err
	}
	return c.transport.doJSON(ctx, "POST", path, map[string]string{"id": toolID}, nil, credentialWrite)
}

// GenerateSchema reflects T into a JSON schema suitable for Tool.Parameters.
func GenerateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}
