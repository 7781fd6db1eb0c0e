package semantic

// Payload keys written by the ingestion pipeline and read back on search.
const (
	PayloadContent    = "content"
	PayloadChunkID    = "chunk_id"
	PayloadSource     = "source"
	PayloadFileType   = "file_type"
	PayloadEmbedModel = "embed_model"
)

// SearchResult represents a single vector search hit.
type SearchResult struct {
	ID         string            `json:"id"` // chunk id, e.g. "id3"
	Score      float32           `json:"score"`
	Content    string            `json:"content"`
	Source     string            `json:"source"`
	FileType   string            `json:"file_type"`
	EmbedModel string            `json:"embed_model"`
	Meta       map[string]string `json:"meta"`
}

// VectorRecord represents a single chunk vector to store in Qdrant.
// ID is the chunk id; the Qdrant point id is derived from it.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any
}
