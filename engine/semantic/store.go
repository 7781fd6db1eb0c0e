// Package semantic owns every Qdrant operation: the collection lifecycle
// (list, replace, lookup, delete) and point upsert and search.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/WessleyAI/docrag/engine/domain"
)

// PointsAPI is the subset of pb.PointsClient the store uses.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// CollectionsAPI is the subset of pb.CollectionsClient the store uses.
type CollectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Options configures a Store.
type Options struct {
	// Timeout bounds every RPC. Zero means DefaultOptions().Timeout.
	Timeout time.Duration
	// AllowReset permits Reset to drop every collection.
	AllowReset bool
	Logger     *slog.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{Timeout: 10 * time.Second}
}

// Store is the sole owner of all Qdrant operations.
type Store struct {
	conn        *grpc.ClientConn
	points      PointsAPI
	collections CollectionsAPI
	opts        Options
	locks       *nameLocks
	logger      *slog.Logger
}

// New creates a Store connected to Qdrant at the given gRPC address.
// The connection is lazy; the first RPC reports an unreachable service.
func New(addr string, opts Options) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w: %w", addr, domain.ErrStoreUnavailable, err)
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), opts)
	s.conn = conn
	return s, nil
}

// NewWithClients builds a Store over existing clients. Used by tests.
func NewWithClients(points PointsAPI, collections CollectionsAPI, opts Options) *Store {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		points:      points,
		collections: collections,
		opts:        opts,
		locks:       newNameLocks(),
		logger:      logger,
	}
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Store) rpcContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.Timeout)
}

// List returns the names of all collections, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ctx, cancel := s.rpcContext(ctx)
	defer cancel()

	resp, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, storeErr("list collections", err)
	}
	names := make([]string, 0, len(resp.GetCollections()))
	for _, c := range resp.GetCollections() {
		names = append(names, c.GetName())
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) exists(ctx context.Context, name string) (bool, error) {
	names, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// Ping checks the service answers a list call.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.List(ctx)
	return err
}

// GetOrReplace returns a fresh, empty collection named name. An existing
// collection with that name is deleted first; its contents are not kept.
// Concurrent calls for the same name run one at a time.
func (s *Store) GetOrReplace(ctx context.Context, name string, dims int) (*Collection, error) {
	if err := checkCreate(name, dims); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(name)
	defer unlock()
	return s.replace(ctx, name, dims)
}

// Replace is GetOrReplace followed by fill, with the name held for both, so
// a concurrent replacement cannot drop the collection while fill writes to it.
// If fill fails the new collection is dropped before the name is released,
// so Get reports ErrCollectionNotFound rather than a partial generation.
func (s *Store) Replace(ctx context.Context, name string, dims int, fill func(context.Context, *Collection) error) error {
	if err := checkCreate(name, dims); err != nil {
		return err
	}
	unlock := s.locks.lock(name)
	defer unlock()

	coll, err := s.replace(ctx, name, dims)
	if err != nil {
		return err
	}
	if err := fill(ctx, coll); err != nil {
		// The caller's context may be what failed fill.
		if derr := s.drop(context.WithoutCancel(ctx), name); derr != nil {
			s.logger.Error("semantic: drop partial collection", "collection", name, "err", derr)
			return errors.Join(err, derr)
		}
		s.logger.Warn("semantic: dropped partial collection", "collection", name, "err", err)
		return err
	}
	return nil
}

func checkCreate(name string, dims int) error {
	if err := domain.ValidateCollectionName(name); err != nil {
		return err
	}
	if dims <= 0 {
		return fmt.Errorf("semantic: create collection %s: invalid dimensions %d", name, dims)
	}
	return nil
}

// replace drops and recreates name. Caller holds the name's lock.
func (s *Store) replace(ctx context.Context, name string, dims int) (*Collection, error) {
	found, err := s.exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if found {
		if err := s.drop(ctx, name); err != nil {
			return nil, err
		}
		s.logger.Info("semantic: deleted existing collection", "collection", name)
	}

	if err := s.create(ctx, name, dims); err != nil {
		return nil, err
	}
	s.logger.Info("semantic: created collection", "collection", name, "dims", dims)
	return &Collection{name: name, store: s}, nil
}

// Get returns a handle to an existing collection. It never creates one.
func (s *Store) Get(ctx context.Context, name string) (*Collection, error) {
	if err := domain.ValidateCollectionName(name); err != nil {
		return nil, err
	}
	found, err := s.exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("semantic: get %s: %w", name, domain.ErrCollectionNotFound)
	}
	return &Collection{name: name, store: s}, nil
}

// Delete removes a collection and all its points.
func (s *Store) Delete(ctx context.Context, name string) error {
	unlock := s.locks.lock(name)
	defer unlock()

	found, err := s.exists(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("semantic: delete %s: %w", name, domain.ErrCollectionNotFound)
	}
	return s.drop(ctx, name)
}

// Reset deletes every collection and returns how many were removed.
// It fails with ErrResetDisabled unless the store was opened with AllowReset.
func (s *Store) Reset(ctx context.Context) (int, error) {
	if !s.opts.AllowReset {
		return 0, fmt.Errorf("semantic: reset: %w", domain.ErrResetDisabled)
	}
	names, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	for i, name := range names {
		unlock := s.locks.lock(name)
		err := s.drop(ctx, name)
		unlock()
		if err != nil {
			return i, err
		}
	}
	s.logger.Warn("semantic: reset", "collections", len(names))
	return len(names), nil
}

func (s *Store) create(ctx context.Context, name string, dims int) error {
	ctx, cancel := s.rpcContext(ctx)
	defer cancel()

	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return storeErr("create collection "+name, err)
	}
	return nil
}

func (s *Store) drop(ctx context.Context, name string) error {
	ctx, cancel := s.rpcContext(ctx)
	defer cancel()

	_, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil {
		return storeErr("delete collection "+name, err)
	}
	return nil
}
