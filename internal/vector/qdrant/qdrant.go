// Package qdrant stores record embeddings in a Qdrant collection.
package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/efebarandurmaz/linkage/internal/vector"
)

const contentKey = "content"

// QdrantRepository implements vector.Repository using Qdrant's gRPC API.
type QdrantRepository struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	service     pb.QdrantClient
	collection  string
}

// NewQdrant creates a Qdrant-backed repository. The connection is lazy;
// use Ping or EnsureCollection to verify it.
func NewQdrant(host string, port int, collection string) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &QdrantRepository{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		service:     pb.NewQdrantClient(conn),
		collection:  collection,
	}, nil
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist.
func (r *QdrantRepository) EnsureCollection(ctx context.Context, dims int) error {
	resp, err := r.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: r.collection})
	if err != nil {
		return fmt.Errorf("check collection %s: %w", r.collection, err)
	}
	if resp.GetResult().GetExists() {
		return nil
	}
	_, err = r.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{Size: uint64(dims), Distance: pb.Distance_Cosine},
		}},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", r.collection, err)
	}
	return nil
}

func (r *QdrantRepository) Upsert(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}
	wait := true
	_, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Wait:           &wait,
		Points:         toPoints(docs),
	})
	return err
}

func toPoints(docs []vector.Document) []*pb.PointStruct {
	points := make([]*pb.PointStruct, len(docs))
	for i, d := range docs {
		payload := map[string]*pb.Value{
			contentKey: {Kind: &pb.Value_StringValue{StringValue: d.Content}},
		}
		for k, v := range d.Metadata {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: d.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: d.Vector}}},
			Payload: payload,
		}
	}
	return points
}

func (r *QdrantRepository) Search(ctx context.Context, vec []float32, topK int) ([]vector.SearchResult, error) {
	resp, err := r.points.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collection,
		Vector:         vec,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, err
	}
	return fromScored(resp.GetResult()), nil
}

func fromScored(points []*pb.ScoredPoint) []vector.SearchResult {
	results := make([]vector.SearchResult, len(points))
	for i, pt := range points {
		var content string
		meta := make(map[string]string, len(pt.Payload))
		for k, v := range pt.Payload {
			if k == contentKey {
				content = v.GetStringValue()
			} else {
				meta[k] = v.GetStringValue()
			}
		}
		results[i] = vector.SearchResult{
			ID:       pt.GetId().GetUuid(),
			Score:    pt.GetScore(),
			Content:  content,
			Metadata: meta,
		}
	}
	return results
}

// Ping calls the Qdrant health check.
func (r *QdrantRepository) Ping(ctx context.Context) error {
	_, err := r.service.HealthCheck(ctx, &pb.HealthCheckRequest{})
	return err
}

func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

var (
	_ vector.Repository = (*QdrantRepository)(nil)
	_ vector.Pinger     = (*QdrantRepository)(nil)
)
