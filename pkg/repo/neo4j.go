package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// result is the part of neo4j.ResultWithContext the repository uses.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// runner is the part of neo4j.SessionWithContext the repository uses.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// Neo4jRepo stores each entity as a node with one label, keyed by idKey.
type Neo4jRepo[T any, ID comparable] struct {
	driver     neo4j.DriverWithContext
	database   string
	label      string
	idKey      string
	toMap      func(T) map[string]any
	fromRecord func(*neo4j.Record) (T, error)
	newSession func(ctx context.Context, mode neo4j.AccessMode) runner // for testing
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any, ID comparable] func(*Neo4jRepo[T, ID])

// WithIDKey sets the property used as the id (default "id").
func WithIDKey[T any, ID comparable](key string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.idKey = key }
}

// WithDatabase selects a database other than the server default.
func WithDatabase[T any, ID comparable](name string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.database = name }
}

// NewNeo4jRepo creates a repository. fromRecord receives records whose only
// column is the node, bound to "n".
func NewNeo4jRepo[T any, ID comparable](
	driver neo4j.DriverWithContext,
	label string,
	toMap func(T) map[string]any,
	fromRecord func(*neo4j.Record) (T, error),
	opts ...Neo4jOption[T, ID],
) *Neo4jRepo[T, ID] {
	r := &Neo4jRepo[T, ID]{
		driver:     driver,
		label:      label,
		idKey:      "id",
		toMap:      toMap,
		fromRecord: fromRecord,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

var _ Repository[any, string] = (*Neo4jRepo[any, string])(nil)

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

// session opens a session routed by mode, so reads can go to a cluster
// follower.
func (r *Neo4jRepo[T, ID]) session(ctx context.Context, mode neo4j.AccessMode) runner {
	if r.newSession != nil {
		return r.newSession(ctx, mode)
	}
	return &sessionAdapter{sess: r.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: r.database,
		AccessMode:   mode,
	})}
}

// EnsureUnique creates a uniqueness constraint on the id property if none
// exists. Save relies on it to keep MERGE from racing into duplicates.
func (r *Neo4jRepo[T, ID]) EnsureUnique(ctx context.Context) error {
	sess := r.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)

	name := strings.ToLower(r.label) + "_" + r.idKey + "_unique"
	cypher := fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE", name, r.label, r.idKey)
	res, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return fmt.Errorf("repo: constraint %s: %w", name, err)
	}
	for res.Next(ctx) {
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("repo: constraint %s: %w", name, err)
	}
	return nil
}

// Get returns the entity with id, or ErrNotFound.
func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	sess := r.session(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) RETURN n", r.label, r.idKey)
	res, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return zero, fmt.Errorf("repo: get %s %v: %w", r.label, id, err)
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return zero, fmt.Errorf("repo: get %s %v: %w", r.label, id, err)
		}
		return zero, fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	return r.fromRecord(res.Record())
}

// List returns entities ordered by id.
func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	sess := r.session(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	cypher := fmt.Sprintf("MATCH (n:%s) RETURN n ORDER BY n.%s SKIP $offset LIMIT $limit", r.label, r.idKey)
	res, err := sess.Run(ctx, cypher, map[string]any{"offset": opts.Offset, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("repo: list %s: %w", r.label, err)
	}

	var items []T
	for res.Next(ctx) {
		item, err := r.fromRecord(res.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("repo: list %s: %w", r.label, err)
	}
	return items, nil
}

// Save creates the node or overwrites its properties.
func (r *Neo4jRepo[T, ID]) Save(ctx context.Context, entity T) (T, error) {
	var zero T
	sess := r.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)

	props := r.toMap(entity)
	id, ok := props[r.idKey]
	if !ok {
		return zero, fmt.Errorf("repo: save %s: missing %s property", r.label, r.idKey)
	}
	cypher := fmt.Sprintf("MERGE (n:%s {%s: $id}) SET n = $props RETURN n", r.label, r.idKey)
	res, err := sess.Run(ctx, cypher, map[string]any{"id": id, "props": props})
	if err != nil {
		return zero, fmt.Errorf("repo: save %s %v: %w", r.label, id, err)
	}
	if !res.Next(ctx) {
		return zero, fmt.Errorf("repo: save %s %v: no row returned", r.label, id)
	}
	return r.fromRecord(res.Record())
}

// Delete removes the node, or returns ErrNotFound.
func (r *Neo4jRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	sess := r.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) DETACH DELETE n RETURN count(*) AS deleted", r.label, r.idKey)
	res, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("repo: delete %s %v: %w", r.label, id, err)
	}
	if !res.Next(ctx) {
		return fmt.Errorf("repo: delete %s %v: no row returned", r.label, id)
	}
	if n, _ := res.Record().Get("deleted"); n == int64(0) {
		return fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	return nil
}
