package catalog

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/docrag/engine/domain"
	"github.com/WessleyAI/docrag/pkg/repo"
)

type memRepo struct {
	entries map[string]Entry
	err     error
}

func newMemRepo() *memRepo { return &memRepo{entries: make(map[string]Entry)} }

func (m *memRepo) Get(_ context.Context, id string) (Entry, error) {
	if m.err != nil {
		return Entry{}, m.err
	}
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, repo.ErrNotFound
	}
	return e, nil
}

func (m *memRepo) List(_ context.Context, opts repo.ListOpts) ([]Entry, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []Entry
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memRepo) Save(_ context.Context, e Entry) (Entry, error) {
	if m.err != nil {
		return Entry{}, m.err
	}
	m.entries[e.Name] = e
	return e, nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.entries[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.entries, id)
	return nil
}

func sampleEntry(name string) Entry {
	return Entry{
		Name:       name,
		Source:     "/data/" + name + ".pdf",
		FileType:   domain.FileTypePDF,
		Chunks:     12,
		EmbedModel: "nomic-embed-text",
		Dimensions: 768,
		IngestedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRecordAndLookup(t *testing.T) {
	c := NewWithRepo(newMemRepo())
	ctx := context.Background()

	if err := c.Record(ctx, sampleEntry("manual")); err != nil {
		t.Fatal(err)
	}
	updated := sampleEntry("manual")
	updated.Chunks = 20
	if err := c.Record(ctx, updated); err != nil {
		t.Fatal(err)
	}

	got, err := c.Lookup(ctx, "manual")
	if err != nil {
		t.Fatal(err)
	}
	if got.Chunks != 20 {
		t.Fatalf("record should replace previous entry, got %+v", got)
	}
}

func TestLookupMissing(t *testing.T) {
	c := NewWithRepo(newMemRepo())
	_, err := c.Lookup(context.Background(), "nope")
	if !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
}

func TestListAndForget(t *testing.T) {
	c := NewWithRepo(newMemRepo())
	ctx := context.Background()
	for _, n := range []string{"b", "a", "c"} {
		c.Record(ctx, sampleEntry(n))
	}

	list, err := c.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Name != "a" {
		t.Fatalf("got %+v", list)
	}

	if err := c.Forget(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := c.Forget(ctx, "a"); err != nil {
		t.Fatalf("forgetting a missing entry should succeed, got %v", err)
	}
	if _, err := c.Lookup(ctx, "a"); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("expected not found after forget, got %v", err)
	}
}

func TestRepoErrorsPropagate(t *testing.T) {
	boom := errors.New("neo4j down")
	m := newMemRepo()
	m.err = boom
	c := NewWithRepo(m)
	ctx := context.Background()

	if err := c.Record(ctx, sampleEntry("x")); !errors.Is(err, boom) {
		t.Errorf("Record: %v", err)
	}
	if _, err := c.Lookup(ctx, "x"); !errors.Is(err, boom) {
		t.Errorf("Lookup: %v", err)
	}
	if _, err := c.List(ctx, 0); !errors.Is(err, boom) {
		t.Errorf("List: %v", err)
	}
	if err := c.Forget(ctx, "x"); !errors.Is(err, boom) {
		t.Errorf("Forget: %v", err)
	}
}

func TestNodeMapping(t *testing.T) {
	want := sampleEntry("guide")
	rec := &neo4j.Record{
		Keys:   []string{"n"},
		Values: []any{neo4j.Node{Labels: []string{Label}, Props: toMap(want)}},
	}
	got, err := fromRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IngestedAt.Equal(want.IngestedAt) {
		t.Fatalf("ingested_at = %v, want %v", got.IngestedAt, want.IngestedAt)
	}
	got.IngestedAt = want.IngestedAt
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	if _, err := fromRecord(&neo4j.Record{Keys: []string{"m"}, Values: []any{int64(1)}}); err == nil {
		t.Fatal("expected error for record without n")
	}
}

type constrainedRepo struct {
	*memRepo
	ensured int
	err     error
}

func (c *constrainedRepo) EnsureUnique(context.Context) error {
	c.ensured++
	return c.err
}

func TestEnsureSchema(t *testing.T) {
	ctx := context.Background()
	if err := NewWithRepo(newMemRepo()).EnsureSchema(ctx); err != nil {
		t.Fatalf("repo without constraints: %v", err)
	}

	r := &constrainedRepo{memRepo: newMemRepo()}
	if err := NewWithRepo(r).EnsureSchema(ctx); err != nil || r.ensured != 1 {
		t.Fatalf("ensured=%d err=%v", r.ensured, err)
	}

	r.err = errors.New("no privilege")
	if err := NewWithRepo(r).EnsureSchema(ctx); err == nil {
		t.Fatal("expected error")
	}
}
