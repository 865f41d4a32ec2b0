package changefeed

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/c360/configstore/errors"
	"github.com/c360/configstore/natsclient"
	"github.com/c360/configstore/pkg/stream"
)

// TokenStore persists the resume token of each watched collection. A token is
// the bucket revision of the last dispatched event.
type TokenStore interface {
	// Load returns the token for collection and false when none was saved.
	Load(ctx context.Context, collection string) (uint64, bool, error)
	Save(ctx context.Context, collection string, token uint64) error
}

// TokenBucket returns the bucket that holds the resume tokens of database.
func TokenBucket(database string) string {
	return natsclient.SanitizeBucketName(database + "_changefeed_tokens")
}

// KVTokenStore keeps tokens as decimal strings in a KV bucket, one key per
// consumer and collection, so a restarted process resumes where it stopped.
// Processes sharing a database need distinct consumer names.
type KVTokenStore struct {
	kv       *natsclient.KVStore
	consumer string
}

// NewKVTokenStore creates a token store on kv. An empty consumer keys tokens
// by collection alone.
func NewKVTokenStore(kv *natsclient.KVStore, consumer string) *KVTokenStore {
	return &KVTokenStore{kv: kv, consumer: natsclient.SanitizeBucketName(consumer)}
}

func (s *KVTokenStore) tokenKey(collection string) string {
	key := natsclient.SanitizeBucketName(collection)
	if s.consumer == "" {
		return key
	}
	return s.consumer + "." + key
}

// Load implements TokenStore.
func (s *KVTokenStore) Load(ctx context.Context, collection string) (uint64, bool, error) {
	entry, ok, err := stream.First(s.kv.GetPublisher(s.tokenKey(collection))).Join(ctx)
	if err != nil {
		return 0, false, errors.Persistence(err, "TokenStore", "Load", "load token for "+collection)
	}
	if !ok {
		return 0, false, nil
	}
	token, err := strconv.ParseUint(string(entry.Value), 10, 64)
	if err != nil {
		return 0, false, errors.Decode(fmt.Errorf("token %q: %w", entry.Value, err),
			"TokenStore", "Load", "parse token for "+collection)
	}
	return token, true, nil
}

// Save implements TokenStore.
func (s *KVTokenStore) Save(ctx context.Context, collection string, token uint64) error {
	if _, err := s.kv.Put(ctx, s.tokenKey(collection), []byte(strconv.FormatUint(token, 10))); err != nil {
		return errors.Persistence(err, "TokenStore", "Save", "save token for "+collection)
	}
	return nil
}

// MemoryTokenStore keeps tokens in process memory.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]uint64
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]uint64)}
}

// Load implements TokenStore.
func (s *MemoryTokenStore) Load(_ context.Context, collection string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[collection]
	return t, ok, nil
}

// Save implements TokenStore.
func (s *MemoryTokenStore) Save(_ context.Context, collection string, token uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[collection] = token
	return nil
}
