package qdrant

import (
	"testing"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/efebarandurmaz/linkage/internal/vector"
)

func TestToPoints(t *testing.T) {
	points := toPoints([]vector.Document{{
		ID:       "2f1c3e8a-0000-4000-8000-000000000001",
		Content:  "name: John",
		Vector:   []float32{0.1, 0.2},
		Metadata: map[string]string{"record_id": "p1"},
	}})
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	p := points[0]
	if p.GetId().GetUuid() != "2f1c3e8a-0000-4000-8000-000000000001" {
		t.Errorf("unexpected id %v", p.GetId())
	}
	if p.Payload[contentKey].GetStringValue() != "name: John" || p.Payload["record_id"].GetStringValue() != "p1" {
		t.Errorf("unexpected payload %v", p.Payload)
	}
	if got := p.GetVectors().GetVector().GetData(); len(got) != 2 {
		t.Errorf("unexpected vector %v", got)
	}
}

func TestFromScored(t *testing.T) {
	res := fromScored([]*pb.ScoredPoint{{
		Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "u1"}},
		Score: 0.9,
		Payload: map[string]*pb.Value{
			contentKey: {Kind: &pb.Value_StringValue{StringValue: "name: John"}},
			"source":   {Kind: &pb.Value_StringValue{StringValue: "crm"}},
		},
	}})
	if len(res) != 1 || res[0].ID != "u1" || res[0].Score != 0.9 {
		t.Fatalf("unexpected results %+v", res)
	}
	if res[0].Content != "name: John" || res[0].Metadata["source"] != "crm" {
		t.Fatalf("payload not split: %+v", res[0])
	}
	if _, ok := res[0].Metadata[contentKey]; ok {
		t.Fatal("content should not be in metadata")
	}
}

func TestNewQdrant_Lazy(t *testing.T) {
	r, err := NewQdrant("localhost", 6334, "records")
	if err != nil {
		t.Fatalf("client creation should not dial: %v", err)
	}
	defer r.Close()
}
