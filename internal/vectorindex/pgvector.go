package vectorindex

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/suPer8Hu/ai-chatdoc/internal/embedding"
	"gorm.io/gorm"
)

type ChunkModel struct {
	ID         string          `gorm:"primaryKey;size:36"`
	DocumentID string          `gorm:"size:36;not null;index"`
	Filename   string          `gorm:"type:varchar(255);not null"`
	Source     string          `gorm:"type:varchar(32);not null"`
	Content    string          `gorm:"type:text;not null"`
	Embedding  pgvector.Vector `gorm:"type:vector"`
	CreatedAt  time.Time       `gorm:"not null;index"`
}

func (ChunkModel) TableName() string { return "document_chunks" }

// PGVector keeps chunks in Postgres and ranks them with pgvector's cosine
// distance operator.
type PGVector struct {
	db       *gorm.DB
	embedder embedding.Embedder
}

func NewPGVector(db *gorm.DB, embedder embedding.Embedder) *PGVector {
	return &PGVector{db: db, embedder: embedder}
}

func (p *PGVector) Migrate(ctx context.Context) error {
	if err := p.db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	return p.db.WithContext(ctx).AutoMigrate(&ChunkModel{})
}

func (p *PGVector) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	now := time.Now().UTC()
	rows := make([]ChunkModel, len(chunks))
	for i, c := range chunks {
		rows[i] = ChunkModel{
			ID:         c.ID,
			DocumentID: c.Metadata.DocumentID,
			Filename:   c.Metadata.Filename,
			Source:     c.Metadata.Source,
			Content:    c.Text,
			Embedding:  pgvector.NewVector(vectors[i]),
			// keep insertion order visible to listing queries
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		}
	}
	return p.db.WithContext(ctx).CreateInBatches(rows, 100).Error
}

type scoredRow struct {
	ID         string
	DocumentID string
	Filename   string
	Source     string
	Content    string
	Distance   float64
}

func (p *PGVector) Search(ctx context.Context, q Query) ([]Result, error) {
	tx := p.db.WithContext(ctx).Model(&ChunkModel{})
	if q.DocumentID != "" {
		tx = tx.Where("document_id = ?", q.DocumentID)
	}
	if q.TopK > 0 {
		tx = tx.Limit(q.TopK)
	}

	var rows []scoredRow
	if q.Text == "" {
		if err := tx.Select("id, document_id, filename, source, content").
			Order("created_at, id").
			Scan(&rows).Error; err != nil {
			return nil, err
		}
	} else {
		vec, err := p.embedder.Embed(ctx, q.Text)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if err := tx.Select("id, document_id, filename, source, content, embedding <=> ? AS distance", pgvector.NewVector(vec)).
			Order("distance, created_at").
			Scan(&rows).Error; err != nil {
			return nil, err
		}
	}

	out := make([]Result, len(rows))
	for i, r := range rows {
		out[i] = Result{
			Chunk: Chunk{
				ID:   r.ID,
				Text: r.Content,
				Metadata: Metadata{
					DocumentID: r.DocumentID,
					Filename:   r.Filename,
					Source:     r.Source,
				},
			},
		}
		if q.Text != "" {
			out[i].Score = 1 - r.Distance
		}
	}
	return out, nil
}

func (p *PGVector) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return p.db.WithContext(ctx).Where("id IN ?", ids).Delete(&ChunkModel{}).Error
}
