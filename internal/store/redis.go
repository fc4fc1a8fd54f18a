package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore implements Store on a Redis instance: one JSON value per
// document, a set per collection indexing member paths, and pub/sub
// channels carrying full-document snapshots on every mutation. Redis
// pub/sub is at-most-once per connection but the initial snapshot on
// subscribe plus re-reads on reconnect give subscribers the at-least-once
// behaviour the protocol assumes.
type RedisStore struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisStore creates a Store backed by the given Redis client.
func NewRedisStore(rdb *redis.Client, log zerolog.Logger) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		log: log.With().Str("component", "redis_store").Logger(),
	}
}

func docKey(path string) string       { return "doc:" + path }
func colKey(collection string) string { return "col:" + collection }
func chanKey(target string) string    { return "changes:" + target }

// changeMessage is the pub/sub wire format. Fields is null for deletions.
type changeMessage struct {
	Path   string                 `json:"path"`
	Fields map[string]interface{} `json:"fields"`
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, path string) (*Document, error) {
	raw, err := s.rdb.Get(ctx, docKey(path)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", path, err)
	}
	fields := make(map[string]interface{})
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("store: get %s: %w", path, err)
	}
	return &Document{Path: path, Fields: fields}, nil
}

// Set implements Store. Merge reads current fields first; the read-modify-
// write is not transactional, which is acceptable under the store's
// last-write-wins contract.
func (s *RedisStore) Set(ctx context.Context, path string, fields map[string]interface{}, merge bool) error {
	next := fields
	if merge {
		if current, err := s.Get(ctx, path); err == nil {
			merged := make(map[string]interface{}, len(current.Fields)+len(fields))
			for k, v := range current.Fields {
				merged[k] = v
			}
			for k, v := range fields {
				merged[k] = v
			}
			next = merged
		}
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("store: set %s: %w", path, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, docKey(path), raw, 0)
	pipe.SAdd(ctx, colKey(Collection(path)), path)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: set %s: %w", path, err)
	}

	s.publish(ctx, path, next)
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, path string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, docKey(path))
	pipe.SRem(ctx, colKey(Collection(path)), path)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: delete %s: %w", path, err)
	}

	s.publish(ctx, path, nil)
	return nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, q Query) ([]*Document, error) {
	paths, err := s.rdb.SMembers(ctx, colKey(q.Collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", q.Collection, err)
	}

	var out []*Document
	for _, path := range paths {
		doc, err := s.Get(ctx, path)
		if err == ErrNotFound {
			// Index entry outlived the document; self-heal.
			s.rdb.SRem(ctx, colKey(q.Collection), path)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !matches(doc, q.Where) {
			continue
		}
		out = append(out, doc)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// Subscribe implements Store.
func (s *RedisStore) Subscribe(ctx context.Context, path string) (<-chan Change, func(), error) {
	pubsub := s.rdb.Subscribe(ctx, chanKey(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("store: subscribe %s: %w", path, err)
	}

	out := make(chan Change, 16)

	// Initial snapshot before relaying live changes.
	if doc, err := s.Get(ctx, path); err == nil {
		out <- Change{Path: path, Doc: doc}
	} else {
		out <- Change{Path: path, Doc: nil}
	}

	go s.relay(pubsub, out)
	return out, func() { _ = pubsub.Close() }, nil
}

// SubscribeCollection implements Store.
func (s *RedisStore) SubscribeCollection(ctx context.Context, collection string) (<-chan Change, func(), error) {
	pubsub := s.rdb.Subscribe(ctx, chanKey(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("store: subscribe %s: %w", collection, err)
	}

	docs, err := s.List(ctx, Query{Collection: collection})
	if err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan Change, 16+len(docs))
	for _, doc := range docs {
		out <- Change{Path: doc.Path, Doc: doc}
	}

	go s.relay(pubsub, out)
	return out, func() { _ = pubsub.Close() }, nil
}

// relay converts raw pub/sub messages into Changes until the subscription
// is closed. Malformed messages are logged and skipped.
func (s *RedisStore) relay(pubsub *redis.PubSub, out chan<- Change) {
	defer close(out)
	for msg := range pubsub.Channel() {
		var cm changeMessage
		if err := json.Unmarshal([]byte(msg.Payload), &cm); err != nil {
			s.log.Error().Err(err).Str("payload", msg.Payload).Msg("Discarding malformed change message")
			continue
		}
		change := Change{Path: cm.Path}
		if cm.Fields != nil {
			change.Doc = &Document{Path: cm.Path, Fields: cm.Fields}
		}
		out <- change
	}
}

// publish is best-effort: a lost notification is recovered by the next
// snapshot read, so failures are logged and swallowed.
func (s *RedisStore) publish(ctx context.Context, path string, fields map[string]interface{}) {
	raw, err := json.Marshal(changeMessage{Path: path, Fields: fields})
	if err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("Marshal change message failed")
		return
	}
	pipe := s.rdb.Pipeline()
	pipe.Publish(ctx, chanKey(path), raw)
	pipe.Publish(ctx, chanKey(Collection(path)), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("Publish change failed")
	}
}
