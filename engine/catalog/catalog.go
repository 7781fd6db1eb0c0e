// Package catalog keeps a record of every ingested collection in Neo4j: what
// file it came from, its source type, and the embedding model that produced
// its vectors.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/docrag/engine/domain"
	"github.com/WessleyAI/docrag/pkg/repo"
)

// Label is the node label for catalog entries.
const Label = "Collection"

// Entry describes one ingested collection.
type Entry struct {
	Name       string          `json:"name"`
	Source     string          `json:"source"`
	FileType   domain.FileType `json:"file_type"`
	Chunks     int             `json:"chunks"`
	EmbedModel string          `json:"embed_model"`
	Dimensions int             `json:"dimensions"`
	IngestedAt time.Time       `json:"ingested_at"`
}

// Catalog reads and writes entries.
type Catalog struct {
	repo repo.Repository[Entry, string]
}

// New creates a catalog over a Neo4j driver. An empty database uses the
// server default.
func New(driver neo4j.DriverWithContext, database string) *Catalog {
	return &Catalog{repo: repo.NewNeo4jRepo[Entry, string](
		driver, Label, toMap, fromRecord,
		repo.WithIDKey[Entry, string]("name"),
		repo.WithDatabase[Entry, string](database),
	)}
}

// NewWithRepo creates a catalog over any repository.
func NewWithRepo(r repo.Repository[Entry, string]) *Catalog {
	return &Catalog{repo: r}
}

// EnsureSchema makes collection names unique in the backing store, when the
// store supports constraints.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	u, ok := c.repo.(interface{ EnsureUnique(context.Context) error })
	if !ok {
		return nil
	}
	if err := u.EnsureUnique(ctx); err != nil {
		return fmt.Errorf("catalog: schema: %w", err)
	}
	return nil
}

// Record saves e, replacing any previous entry of the same name.
func (c *Catalog) Record(ctx context.Context, e Entry) error {
	if _, err := c.repo.Save(ctx, e); err != nil {
		return fmt.Errorf("catalog: record %s: %w", e.Name, err)
	}
	return nil
}

// Lookup returns the entry for name, or domain.ErrCollectionNotFound.
func (c *Catalog) Lookup(ctx context.Context, name string) (Entry, error) {
	e, err := c.repo.Get(ctx, name)
	if errors.Is(err, repo.ErrNotFound) {
		return Entry{}, fmt.Errorf("catalog: %s: %w", name, domain.ErrCollectionNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: lookup %s: %w", name, err)
	}
	return e, nil
}

// List returns up to limit entries ordered by name.
func (c *Catalog) List(ctx context.Context, limit int) ([]Entry, error) {
	entries, err := c.repo.List(ctx, repo.ListOpts{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	return entries, nil
}

// Forget removes the entry for name. A missing entry is not an error.
func (c *Catalog) Forget(ctx context.Context, name string) error {
	err := c.repo.Delete(ctx, name)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("catalog: forget %s: %w", name, err)
	}
	return nil
}

func toMap(e Entry) map[string]any {
	return map[string]any{
		"name":        e.Name,
		"source":      e.Source,
		"file_type":   string(e.FileType),
		"chunks":      int64(e.Chunks),
		"embed_model": e.EmbedModel,
		"dimensions":  int64(e.Dimensions),
		"ingested_at": e.IngestedAt.UTC().Format(time.RFC3339Nano),
	}
}

func fromRecord(rec *neo4j.Record) (Entry, error) {
	node, _, err := neo4j.GetRecordValue[neo4j.Node](rec, "n")
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: decode: %w", err)
	}
	p := node.Props
	e := Entry{
		Name:       str(p["name"]),
		Source:     str(p["source"]),
		FileType:   domain.FileType(str(p["file_type"])),
		Chunks:     int(num(p["chunks"])),
		EmbedModel: str(p["embed_model"]),
		Dimensions: int(num(p["dimensions"])),
	}
	if ts := str(p["ingested_at"]); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.IngestedAt = t
		}
	}
	return e, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
