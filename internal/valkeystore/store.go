package valkeystore

import (
	"context"
	"fmt"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/goliatone/go-analytics-cache/cache"
)

var (
	_ cache.Store         = (*Store)(nil)
	_ cache.PrefixDeleter = (*Store)(nil)
)

// Store is a cache.Store over SET key value EX ttl and GET.
type Store struct {
	client *Client
}

// NewStore returns a Store writing under the client's prefix plus "cache".
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

func (s *Store) key(k string) string {
	return s.client.Key("cache", k)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	inner := s.client.Inner()
	data, err := inner.Do(ctx, inner.B().Get().Key(s.key(key)).Build()).AsBytes()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("valkeystore: get: %w", err)
	}
	return data, true, nil
}

// Set stores value. The TTL is rounded up to whole seconds; zero or less
// stores without expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	inner := s.client.Inner()
	set := inner.B().Set().Key(s.key(key)).Value(valkeylib.BinaryString(value))

	var err error
	if secs := ttlSeconds(ttl); secs > 0 {
		err = inner.Do(ctx, set.Ex(time.Duration(secs)*time.Second).Build()).Error()
	} else {
		err = inner.Do(ctx, set.Build()).Error()
	}
	if err != nil {
		return fmt.Errorf("valkeystore: set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	inner := s.client.Inner()
	if err := inner.Do(ctx, inner.B().Del().Key(s.key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("valkeystore: delete: %w", err)
	}
	return nil
}

// DeleteByPrefix scans for keys starting with prefix and deletes them in
// batches.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) error {
	inner := s.client.Inner()
	pattern := escapeGlob(s.key(prefix)) + "*"

	var cursor uint64
	for {
		result, err := inner.Do(ctx, inner.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build()).AsScanEntry()
		if err != nil {
			return fmt.Errorf("valkeystore: scan: %w", err)
		}
		if len(result.Elements) > 0 {
			if err := inner.Do(ctx, inner.B().Del().Key(result.Elements...).Build()).Error(); err != nil {
				return fmt.Errorf("valkeystore: delete by prefix: %w", err)
			}
		}
		cursor = result.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

func ttlSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	secs := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	return secs
}
