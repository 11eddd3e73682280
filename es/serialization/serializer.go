// Package serialization provides the codecs used by storage backends to persist
// headers, events and snapshot payloads as opaque byte blobs.
package serialization

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"
)

// Serializer converts values to and from bytes.
type Serializer interface {
	// Serialize encodes v.
	Serialize(v any) ([]byte, error)

	// Deserialize decodes data into the value pointed to by v.
	Deserialize(data []byte, v any) error
}

// Deserialize decodes data into a new T.
// It reports false when data is empty.
func Deserialize[T any](s Serializer, data []byte) (T, bool, error) {
	var v T
	if len(data) == 0 {
		return v, false, nil
	}
	if err := s.Deserialize(data, &v); err != nil {
		return v, false, err
	}
	return v, true, nil
}

// ByName returns the serializer registered under name: json, bson or yaml.
func ByName(name string) (Serializer, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "bson":
		return BSON{}, nil
	case "yaml":
		return YAML{}, nil
	default:
		return nil, fmt.Errorf("unsupported serializer %q", name)
	}
}

// JSON encodes values as JSON.
type JSON struct{}

// Serialize implements Serializer.
func (JSON) Serialize(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Deserialize implements Serializer.
// Numbers decoded into interface values keep their literal form as json.Number.
func (JSON) Deserialize(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// bsonEnvelope lets top-level values that are not documents (slices, scalars)
// travel through BSON.
type bsonEnvelope struct {
	Value any `bson:"v"`
}

type bsonRawEnvelope struct {
	Value bson.RawValue `bson:"v"`
}

// BSON encodes values as BSON documents.
type BSON struct{}

// Serialize implements Serializer.
func (BSON) Serialize(v any) ([]byte, error) {
	return bson.Marshal(bsonEnvelope{Value: v})
}

// Deserialize implements Serializer.
func (BSON) Deserialize(data []byte, v any) error {
	var env bsonRawEnvelope
	if err := bson.Unmarshal(data, &env); err != nil {
		return err
	}
	return env.Value.Unmarshal(v)
}

// YAML encodes values as YAML documents.
type YAML struct{}

// Serialize implements Serializer.
func (YAML) Serialize(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

// Deserialize implements Serializer.
func (YAML) Deserialize(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}

// Gzip compresses the output of an inner serializer.
type Gzip struct {
	Inner Serializer
}

// Serialize implements Serializer.
func (g Gzip) Serialize(v any) ([]byte, error) {
	raw, err := g.Inner.Serialize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize implements Serializer.
func (g Gzip) Deserialize(data []byte, v any) error {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decompress: %w", err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to decompress: %w", err)
	}
	return g.Inner.Deserialize(raw, v)
}
