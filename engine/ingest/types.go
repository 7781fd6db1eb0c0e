package ingest

import (
	"time"

	"github.com/WessleyAI/docrag/engine/domain"
	"github.com/WessleyAI/docrag/engine/semantic"
)

// Request asks for one file to be ingested into a collection, replacing any
// collection of the same name. It is also the NATS job payload.
type Request struct {
	Path         string          `json:"path"`
	FileType     domain.FileType `json:"file_type,omitempty"`
	Collection   string          `json:"collection"`
	ChunkSize    int             `json:"chunk_size,omitempty"`
	ChunkOverlap int             `json:"chunk_overlap,omitempty"`
}

// Loaded is a validated request with its documents read.
type Loaded struct {
	Request
	Documents []domain.Document
}

// Split carries the chunks with their ids assigned.
type Split struct {
	Loaded
	Chunks []domain.Chunk
}

// Placed carries the freshly created collection the chunks go into.
type Placed struct {
	Split
	Collection *semantic.Collection
}

// Report summarizes a successful ingestion.
type Report struct {
	Collection string          `json:"collection"`
	Source     string          `json:"source"`
	FileType   domain.FileType `json:"file_type"`
	Documents  int             `json:"documents"`
	Chunks     int             `json:"chunks"`
	EmbedModel string          `json:"embed_model"`
	Dimensions int             `json:"dimensions"`
	Duration   time.Duration   `json:"duration_ns"`
}
