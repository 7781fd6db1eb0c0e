package semantic

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
)

// Collection is a handle to one named Qdrant collection.
type Collection struct {
	name  string
	store *Store
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// PointID maps a chunk id to the Qdrant point id. Qdrant only accepts
// UUIDs or integers, so the id is a name-based UUID over collection and chunk id.
func PointID(collection, chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(collection+"/"+chunkID)).String()
}

// Upsert stores records and waits for Qdrant to apply them.
// The chunk id is kept in the payload under chunk_id.
func (c *Collection) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*pb.Value, len(r.Payload)+1)
		for k, val := range r.Payload {
			payload[k] = toValue(val)
		}
		payload[PayloadChunkID] = toValue(r.ID)

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(c.name, r.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: payload,
		}
	}

	ctx, cancel := c.store.rpcContext(ctx)
	defer cancel()

	wait := true
	_, err := c.store.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: c.name,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return storeErr(fmt.Sprintf("upsert %d points into %s", len(records), c.name), err)
	}
	return nil
}

// Search returns up to topK hits ordered nearest first.
func (c *Collection) Search(ctx context.Context, embedding []float32, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("semantic: search %s: topK must be positive, got %d", c.name, topK)
	}

	ctx, cancel := c.store.rpcContext(ctx)
	defer cancel()

	resp, err := c.store.points.Search(ctx, &pb.SearchPoints{
		CollectionName: c.name,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, storeErr("search "+c.name, err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		sr := SearchResult{
			Score: r.GetScore(),
			Meta:  make(map[string]string),
		}
		for k, val := range r.GetPayload() {
			s := fromValue(val)
			switch k {
			case PayloadChunkID:
				sr.ID = s
			case PayloadContent:
				sr.Content = s
			case PayloadSource:
				sr.Source = s
			case PayloadFileType:
				sr.FileType = s
			case PayloadEmbedModel:
				sr.EmbedModel = s
			default:
				sr.Meta[k] = s
			}
		}
		if sr.ID == "" {
			sr.ID = r.GetId().GetUuid()
		}
		results[i] = sr
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func toValue(val any) *pb.Value {
	switch tv := val.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func fromValue(v *pb.Value) string {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return strconv.FormatInt(k.IntegerValue, 10)
	case *pb.Value_DoubleValue:
		return strconv.FormatFloat(k.DoubleValue, 'g', -1, 64)
	case *pb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	default:
		return ""
	}
}
