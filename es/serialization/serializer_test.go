package serialization

import (
	"testing"

	"github.com/getpup/pupstore/es"
)

type orderPlaced struct {
	OrderID string `json:"order_id" bson:"order_id" yaml:"order_id"`
	Lines   int    `json:"lines" bson:"lines" yaml:"lines"`
}

func TestSerializers_PreserveEvents(t *testing.T) {
	serializers := map[string]Serializer{
		"json":      JSON{},
		"bson":      BSON{},
		"yaml":      YAML{},
		"gzip+json": Gzip{Inner: JSON{}},
	}

	events := []es.EventMessage{
		es.NewEventMessage("order placed", map[string]any{"kind": "OrderPlaced"}),
		es.NewEventMessage("order shipped", nil),
	}

	for name, s := range serializers {
		t.Run(name, func(t *testing.T) {
			data, err := s.Serialize(events)
			if err != nil {
				t.Fatalf("Serialize failed: %v", err)
			}

			got, ok, err := Deserialize[[]es.EventMessage](s, data)
			if err != nil {
				t.Fatalf("Deserialize failed: %v", err)
			}
			if !ok {
				t.Fatal("expected a value")
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 events, got %d", len(got))
			}
			if got[0].Body != "order placed" || got[1].Body != "order shipped" {
				t.Errorf("unexpected bodies: %v, %v", got[0].Body, got[1].Body)
			}
			if got[0].Headers["kind"] != "OrderPlaced" {
				t.Errorf("unexpected headers: %v", got[0].Headers)
			}
		})
	}
}

func TestSerializers_TypedPayload(t *testing.T) {
	for _, s := range []Serializer{JSON{}, BSON{}, YAML{}} {
		data, err := s.Serialize(orderPlaced{OrderID: "o-1", Lines: 3})
		if err != nil {
			t.Fatalf("%T: Serialize failed: %v", s, err)
		}
		got, _, err := Deserialize[orderPlaced](s, data)
		if err != nil {
			t.Fatalf("%T: Deserialize failed: %v", s, err)
		}
		if got.OrderID != "o-1" || got.Lines != 3 {
			t.Errorf("%T: got %+v", s, got)
		}
	}
}

func TestDeserialize_EmptyIsAbsent(t *testing.T) {
	_, ok, err := Deserialize[map[string]any](JSON{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected empty data to be reported as absent")
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "json", "bson", "yaml"} {
		if _, err := ByName(name); err != nil {
			t.Errorf("ByName(%q) failed: %v", name, err)
		}
	}
	if _, err := ByName("protobuf"); err == nil {
		t.Error("expected error for unsupported serializer")
	}
}
