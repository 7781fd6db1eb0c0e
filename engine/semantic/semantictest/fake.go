// Package semantictest provides an in-memory stand-in for the Qdrant
// collections and points services, for tests that need real search behavior.
package semantictest

import (
	"context"
	"math"
	"sort"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/WessleyAI/docrag/engine/semantic"
)

type collection struct {
	dims   uint64
	points map[string]*pb.PointStruct
}

// Server implements semantic.PointsAPI and semantic.CollectionsAPI in memory.
// Distance is always cosine.
type Server struct {
	mu          sync.Mutex
	collections map[string]*collection

	// Err, when non-nil, is returned by every call.
	Err error
	// Creates counts successful Create calls.
	Creates int
	// Deletes counts successful collection Delete calls.
	Deletes int
}

// New returns an empty server.
func New() *Server {
	return &Server{collections: make(map[string]*collection)}
}

// NewStore returns a semantic.Store backed by s.
func (s *Server) NewStore(opts semantic.Options) *semantic.Store {
	return semantic.NewWithClients(s, s, opts)
}

// Names returns the collection names, sorted.
func (s *Server) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.collections))
	for n := range s.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Contents returns the content payload of every point in name, keyed by chunk_id.
func (s *Server) Contents(name string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(c.points))
	for _, p := range c.points {
		out[p.GetPayload()[semantic.PayloadChunkID].GetStringValue()] = p.GetPayload()[semantic.PayloadContent].GetStringValue()
	}
	return out
}

func (s *Server) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	resp := &pb.ListCollectionsResponse{}
	for _, n := range s.Names() {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (s *Server) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[in.GetCollectionName()]; ok {
		return nil, status.Errorf(codes.AlreadyExists, "collection %s already exists", in.GetCollectionName())
	}
	params := in.GetVectorsConfig().GetParams()
	if params.GetDistance() != pb.Distance_Cosine {
		return nil, status.Error(codes.InvalidArgument, "only cosine distance is supported")
	}
	s.collections[in.GetCollectionName()] = &collection{
		dims:   params.GetSize(),
		points: make(map[string]*pb.PointStruct),
	}
	s.Creates++
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func (s *Server) Delete(_ context.Context, in *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[in.GetCollectionName()]; !ok {
		return nil, status.Errorf(codes.NotFound, "collection %s not found", in.GetCollectionName())
	}
	delete(s.collections, in.GetCollectionName())
	s.Deletes++
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func (s *Server) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[in.GetCollectionName()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "collection %s not found", in.GetCollectionName())
	}
	for _, p := range in.GetPoints() {
		if uint64(len(p.GetVectors().GetVector().GetData())) != c.dims {
			return nil, status.Errorf(codes.InvalidArgument, "vector dimension mismatch: want %d", c.dims)
		}
	}
	for _, p := range in.GetPoints() {
		c.points[p.GetId().GetUuid()] = p
	}
	return &pb.PointsOperationResponse{}, nil
}

func (s *Server) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[in.GetCollectionName()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "collection %s not found", in.GetCollectionName())
	}
	if uint64(len(in.GetVector())) != c.dims {
		return nil, status.Errorf(codes.InvalidArgument, "vector dimension mismatch: want %d", c.dims)
	}

	resp := &pb.SearchResponse{}
	for _, p := range c.points {
		resp.Result = append(resp.Result, &pb.ScoredPoint{
			Id:      p.GetId(),
			Score:   cosine(in.GetVector(), p.GetVectors().GetVector().GetData()),
			Payload: p.GetPayload(),
		})
	}
	sort.SliceStable(resp.Result, func(i, j int) bool {
		if resp.Result[i].Score == resp.Result[j].Score {
			return resp.Result[i].GetId().GetUuid() < resp.Result[j].GetId().GetUuid()
		}
		return resp.Result[i].Score > resp.Result[j].Score
	})
	if limit := int(in.GetLimit()); len(resp.Result) > limit {
		resp.Result = resp.Result[:limit]
	}
	return resp, nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
