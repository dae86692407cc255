// Package vectorindex stores document chunks with their embeddings and
// answers similarity queries filtered by parent document.
package vectorindex

import "context"

const SourceUserUpload = "user_upload"

type Metadata struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Source     string `json:"source"`
}

type Chunk struct {
	ID       string   `json:"id"`
	Text     string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

type Result struct {
	Chunk
	Score float64 `json:"score"`
}

// Query with an empty Text lists chunks matching DocumentID in insertion
// order without embedding anything.
type Query struct {
	Text       string
	DocumentID string
	TopK       int
}

type Index interface {
	Add(ctx context.Context, chunks []Chunk) error
	Search(ctx context.Context, q Query) ([]Result, error)
	Delete(ctx context.Context, ids []string) error
}
