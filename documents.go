package oramacore

import "context"

// Document is a schemaless JSON document.
type Document = map[string]any

// InsertDocuments adds documents to the current collection.
func (c *OramaCoreClient) InsertDocuments(ctx context.Context, documents []Document) error {
	path, err := c.collectionPath("insert")
	if err != nil {
		return err
	}
	return c.transport.doJSON(ctx, "POST", path, documents, nil, credentialWrite)
}

// DeleteDocuments removes documents by id from the current collection.
func (c *OramaCoreClient) DeleteDocuments(ctx context.Context, documentIDs []string) error {
	path, err := c.collectionPath("delete")
	if err != nil {
		return err
	}
	return c.transport.doJSON(ctx, "POST", path, documentIDs, nil, credentialWrite)
}

// UpsertDocuments inserts documents, replacing any existing document with
// the same id.
func (c *OramaCoreClient) UpsertDocuments(ctx context.Context, documents []Document) error {
	path, err := c.collectionPath("upsert")
	if err != nil {
		return err
	}
	return c.transport.doJSON(ctx, "POST", path, documents, nil, credentialWrite)
}

// SearchParams is a query against the current collection. Zero values are
// omitted so the server applies its defaults.
type SearchParams struct {
	Term       string         `json:"term"`
	Mode       string         `json:"mode,omitempty"` // fulltext, vector or hybrid
	Limit      int            `json:"limit,omitempty"`
	Offset     int            `json:"offset,omitempty"`
	Where      map[string]any `json:"where,omitempty"`
	Properties []string       `json:"properties,omitempty"`
}

// Search runs a one-shot query against the current collection.
func (c *OramaCoreClient) Search(ctx context.Context, params SearchParams) (*SearchResults, error) {
	path, err := c.collectionPath("search")
	if err != nil {
		return nil, err
	}
	var out SearchResults
	if err := c.transport.doJSON(ctx, "POST", path, params, &out, credentialRead); err != nil {
		return nil, err
	}
	return &out, nil
}
