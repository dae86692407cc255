package document

import "time"

type Document struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Filename    string    `gorm:"type:varchar(255);index;not null" json:"filename"`
	Content     string    `gorm:"type:text;not null" json:"-"`
	ContentType string    `gorm:"type:varchar(128);index" json:"content_type"`
	ChunkCount  int       `gorm:"not null;default:0" json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Document) TableName() string { return "documents" }

type Summary struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	ContentType   string    `json:"content_type"`
	ChunkCount    int       `json:"chunk_count"`
	CreatedAt     time.Time `json:"created_at"`
	ContentLength int       `json:"content_length"`
}

func (d *Document) Summary() Summary {
	return Summary{
		ID:            d.ID,
		Filename:      d.Filename,
		ContentType:   d.ContentType,
		ChunkCount:    d.ChunkCount,
		CreatedAt:     d.CreatedAt,
		ContentLength: len([]rune(d.Content)),
	}
}
