package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/ai-chatdoc/internal/apperr"
	"github.com/suPer8Hu/ai-chatdoc/internal/metrics"
	"github.com/suPer8Hu/ai-chatdoc/internal/vectorindex"
	"gorm.io/gorm"
)

const (
	defaultDeletePageSize = 1000
	defaultTopK           = 5
	maxTopK               = 100
)

// DeletionQueue receives chunk deletions that failed after the document
// record was already removed. An empty chunk id list means the chunks still
// have to be looked up by document id.
type DeletionQueue interface {
	EnqueueChunkDeletion(ctx context.Context, documentID string, chunkIDs []string) error
}

type Service struct {
	repo           *Repo
	splitter       *Splitter
	index          vectorindex.Index
	queue          DeletionQueue
	deletePageSize int
}

func NewService(repo *Repo, splitter *Splitter, index vectorindex.Index, deletePageSize int) *Service {
	if deletePageSize <= 0 {
		deletePageSize = defaultDeletePageSize
	}
	return &Service{repo: repo, splitter: splitter, index: index, deletePageSize: deletePageSize}
}

func (s *Service) SetDeletionQueue(q DeletionQueue) {
	s.queue = q
}

// Upload decodes raw as UTF-8, replacing invalid sequences, and ingests it.
func (s *Service) Upload(ctx context.Context, raw []byte, filename, contentType string) (*Document, error) {
	var fields []apperr.FieldError
	if strings.TrimSpace(filename) == "" {
		fields = append(fields, apperr.FieldError{Field: "filename", Message: "must not be blank"})
	}
	if len(raw) == 0 {
		fields = append(fields, apperr.FieldError{Field: "file", Message: "must not be empty"})
	}
	if len(fields) > 0 {
		return nil, apperr.Validation(fields...)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.ingest(ctx, filename, strings.ToValidUTF8(string(raw), "\uFFFD"), contentType)
}

func (s *Service) AddText(ctx context.Context, filename, content string) (*Document, error) {
	var fields []apperr.FieldError
	if strings.TrimSpace(filename) == "" {
		fields = append(fields, apperr.FieldError{Field: "filename", Message: "must not be blank"})
	}
	if strings.TrimSpace(content) == "" {
		fields = append(fields, apperr.FieldError{Field: "content", Message: "must not be blank"})
	}
	if len(fields) > 0 {
		return nil, apperr.Validation(fields...)
	}
	return s.ingest(ctx, filename, content, "text/plain")
}

// ingest persists the record before indexing. When indexing fails the record
// stays and the error is returned. NUL bytes are dropped since Postgres text
// columns reject them.
func (s *Service) ingest(ctx context.Context, filename, content, contentType string) (*Document, error) {
	content = strings.ReplaceAll(content, "\x00", "")
	doc := &Document{
		ID:          uuid.NewString(),
		Filename:    filename,
		Content:     content,
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
	}
	chunks := s.splitter.Split(content, doc.ID, filename)
	doc.ChunkCount = len(chunks)

	if err := s.repo.Create(ctx, doc); err != nil {
		metrics.RecordIngestion("persist_failed", 0)
		return nil, fmt.Errorf("persist document: %w", err)
	}

	if len(chunks) > 0 {
		if err := s.index.Add(ctx, chunks); err != nil {
			metrics.RecordIngestion("index_failed", 0)
			log.Ctx(ctx).Error().Err(err).
				Str("document_id", doc.ID).
				Int("chunks", len(chunks)).
				Msg("document persisted but chunk indexing failed")
			return nil, fmt.Errorf("index chunks for document %s: %w", doc.ID, err)
		}
	}

	metrics.RecordIngestion("success", len(chunks))
	log.Ctx(ctx).Info().
		Str("document_id", doc.ID).
		Str("filename", filename).
		Int("chunks", len(chunks)).
		Msg("document ingested")
	return doc, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Field("id", "must not be blank")
	}
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("document %s not found", id)
		}
		return nil, err
	}
	return doc, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]Summary, error) {
	docs, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, len(docs))
	for i := range docs {
		out[i] = docs[i].Summary()
	}
	return out, nil
}

// Delete removes the record first, then its chunks: one batch per listing
// page, so a single batch unless the document outgrew the page size. Index
// failures never fail the call: they are logged, counted and queued for
// retry when a queue is configured.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	removed, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if !removed {
		// lost a race with a concurrent delete
		return apperr.NotFound("document %s not found", id)
	}

	deleted, pending, err := s.deleteChunks(ctx, id)
	if err != nil {
		s.chunkDeletionFailed(ctx, id, pending, err)
		return nil
	}

	log.Ctx(ctx).Info().Str("document_id", id).Int("chunks", deleted).Msg("document deleted")
	return nil
}

// deleteChunks pages through the chunks of documentID and deletes each page.
// On failure it returns the ids of the page that could not be deleted, or
// nil when listing itself failed.
func (s *Service) deleteChunks(ctx context.Context, documentID string) (int, []string, error) {
	deleted := 0
	for {
		ids, err := s.chunkIDs(ctx, documentID)
		if err != nil {
			return deleted, nil, err
		}
		if len(ids) == 0 {
			return deleted, nil, nil
		}
		if err := s.index.Delete(ctx, ids); err != nil {
			return deleted, ids, err
		}
		deleted += len(ids)
		if len(ids) < s.deletePageSize {
			return deleted, nil, nil
		}
	}
}

// RetryChunkDeletion is the worker side of DeletionQueue. With no ids it
// deletes whatever is still indexed for documentID.
func (s *Service) RetryChunkDeletion(ctx context.Context, documentID string, chunkIDs []string) error {
	if len(chunkIDs) > 0 {
		if err := s.index.Delete(ctx, chunkIDs); err != nil {
			return err
		}
	}
	_, _, err := s.deleteChunks(ctx, documentID)
	return err
}

func (s *Service) chunkIDs(ctx context.Context, documentID string) ([]string, error) {
	results, err := s.index.Search(ctx, vectorindex.Query{DocumentID: documentID, TopK: s.deletePageSize})
	if err != nil {
		return nil, fmt.Errorf("list chunks of %s: %w", documentID, err)
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids, nil
}

func (s *Service) chunkDeletionFailed(ctx context.Context, documentID string, chunkIDs []string, cause error) {
	metrics.RecordChunkDeletionFailure()
	logger := log.Ctx(ctx)
	logger.Warn().Err(cause).
		Str("document_id", documentID).
		Int("chunks", len(chunkIDs)).
		Msg("document record deleted but chunk deletion failed")

	if s.queue == nil {
		return
	}
	if err := s.queue.EnqueueChunkDeletion(ctx, documentID, chunkIDs); err != nil {
		logger.Error().Err(err).Str("document_id", documentID).Msg("enqueue chunk deletion retry failed")
	}
}

// SearchInDocument ranks the document's chunks against query.
func (s *Service) SearchInDocument(ctx context.Context, id, query string, topK int) ([]vectorindex.Result, error) {
	var fields []apperr.FieldError
	if strings.TrimSpace(id) == "" {
		fields = append(fields, apperr.FieldError{Field: "id", Message: "must not be blank"})
	}
	if strings.TrimSpace(query) == "" {
		fields = append(fields, apperr.FieldError{Field: "query", Message: "must not be blank"})
	}
	if len(fields) > 0 {
		return nil, apperr.Validation(fields...)
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.index.Search(ctx, vectorindex.Query{Text: query, DocumentID: id, TopK: topK})
}
