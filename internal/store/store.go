package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when no document exists at the path.
var ErrNotFound = errors.New("store: document not found")

// Document is a full snapshot of a stored document. Notifications always
// carry complete current state, never deltas.
type Document struct {
	Path   string
	Fields map[string]interface{}
}

// Change is a mutation notification. Doc is nil when the document was
// deleted; subscribers must treat a missing document as a valid state
// transition, not an error.
type Change struct {
	Path string
	Doc  *Document
}

// Cond is an equality filter on a top-level document field.
type Cond struct {
	Field  string
	Equals interface{}
}

// Query selects documents within a collection. No server-side ordering is
// offered; callers sort client-side.
type Query struct {
	Collection string
	Where      []Cond
	Limit      int
}

// Store is the shared mutable document store the room protocol runs on.
// Guarantees: last-write-wins per document, at-least-once change delivery,
// no ordering across documents.
type Store interface {
	Get(ctx context.Context, path string) (*Document, error)
	// Set writes fields at path. With merge, existing fields not present in
	// the write are kept; otherwise the document is replaced.
	Set(ctx context.Context, path string, fields map[string]interface{}, merge bool) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, q Query) ([]*Document, error)
	// Subscribe streams change notifications for a single document path.
	// The current state (or an initial deletion marker) is delivered first.
	// The returned cancel func releases the subscription; the channel is
	// closed afterwards.
	Subscribe(ctx context.Context, path string) (<-chan Change, func(), error)
	// SubscribeCollection streams changes for every document under the
	// collection path, starting with a snapshot of all current documents.
	SubscribeCollection(ctx context.Context, collection string) (<-chan Change, func(), error)
}

// Collection returns the parent collection of a document path
// ("rooms/r1/participants/s1" → "rooms/r1/participants").
func Collection(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// ID returns the final path segment of a document path.
func ID(path string) string {
	idx := strings.LastIndex(path, "/")
	return path[idx+1:]
}

// Encode converts a struct into a document field map via its JSON tags.
func Encode(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode fields: %w", err)
	}
	fields := make(map[string]interface{})
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("store: encode fields: %w", err)
	}
	return fields, nil
}

// Decode populates v from a document's field map via its JSON tags.
func Decode(doc *Document, v interface{}) error {
	if doc == nil {
		return ErrNotFound
	}
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("store: decode %s: %w", doc.Path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("store: decode %s: %w", doc.Path, err)
	}
	return nil
}

// matches reports whether the document satisfies every equality filter.
// Numeric comparisons go through float64 so that JSON round-tripped values
// compare equal to their Go counterparts.
func matches(doc *Document, conds []Cond) bool {
	for _, c := range conds {
		got, ok := doc.Fields[c.Field]
		if !ok {
			return false
		}
		if !looseEqual(got, c.Equals) {
			return false
		}
	}
	return true
}

func looseEqual(a, b interface{}) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
