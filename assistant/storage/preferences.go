package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/theimaginaryfoundation/jarvis/assistant"
	"github.com/theimaginaryfoundation/jarvis/assistant/fileutils"
)

// FilePreferenceStore keeps the table in a JSON file. Every mutation rewrites the file atomically.
type FilePreferenceStore struct {
	path string
	mu   sync.Mutex
}

var _ assistant.PreferenceStore = (*FilePreferenceStore)(nil)

func NewFilePreferenceStore(path string) *FilePreferenceStore {
	return &FilePreferenceStore{path: path}
}

func (s *FilePreferenceStore) Load(context.Context) (*assistant.PreferenceTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FilePreferenceStore) loadLocked() (*assistant.PreferenceTable, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, assistant.ErrPreferencesMissing
	}
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	t := assistant.NewPreferenceTable()
	if err := json.Unmarshal(b, t); err != nil {
		return nil, fmt.Errorf("decode preferences %s: %w", s.path, err)
	}
	if t.Version != assistant.PreferenceTableVersion {
		return nil, fmt.Errorf("preferences %s: version %d, want %d", s.path, t.Version, assistant.PreferenceTableVersion)
	}
	return t, nil
}

func (s *FilePreferenceStore) Replace(_ context.Context, t *assistant.PreferenceTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fileutils.WriteJSONFileAtomic(s.path, t, true)
}

func (s *FilePreferenceStore) Increment(_ context.Context, emotion string, kind assistant.ChoiceKind, id string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.loadLocked()
	if errors.Is(err, assistant.ErrPreferencesMissing) {
		t, err = assistant.NewPreferenceTable(), nil
	}
	if err != nil {
		return err
	}
	t.Add(emotion, kind, id, delta)
	t.UpdatedAt = time.Now().UTC()
	return fileutils.WriteJSONFileAtomic(s.path, t, true)
}

// RedisPreferenceStore keeps one sorted set per (kind, emotion), scored by count, plus a set
// of known emotions per kind and a meta key that marks the table as present.
//
//	{prefix}:meta                  updated_at (RFC3339Nano)
//	{prefix}:emotions:{kind}       set of emotions
//	{prefix}:{kind}:{emotion}      zset id -> score
type RedisPreferenceStore struct {
	client *redis.Client
	prefix string
}

var _ assistant.PreferenceStore = (*RedisPreferenceStore)(nil)

func NewRedisPreferenceStore(client *redis.Client, prefix string) *RedisPreferenceStore {
	if prefix == "" {
		prefix = "jarvis:prefs"
	}
	return &RedisPreferenceStore{client: client, prefix: prefix}
}

func (s *RedisPreferenceStore) metaKey() string { return s.prefix + ":meta" }

func (s *RedisPreferenceStore) emotionsKey(kind assistant.ChoiceKind) string {
	return s.prefix + ":emotions:" + string(kind)
}

func (s *RedisPreferenceStore) scoresKey(kind assistant.ChoiceKind, emotion string) string {
	return s.prefix + ":" + string(kind) + ":" + emotion
}

var choiceKinds = []assistant.ChoiceKind{assistant.ChoiceBook, assistant.ChoicePlaylist}

func (s *RedisPreferenceStore) Load(ctx context.Context) (*assistant.PreferenceTable, error) {
	updated, err := s.client.Get(ctx, s.metaKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, assistant.ErrPreferencesMissing
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.metaKey(), err)
	}
	t := assistant.NewPreferenceTable()
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		t.UpdatedAt = ts
	}
	for _, kind := range choiceKinds {
		emotions, err := s.client.SMembers(ctx, s.emotionsKey(kind)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis smembers: %w", err)
		}
		for _, emotion := range emotions {
			zs, err := s.client.ZRangeWithScores(ctx, s.scoresKey(kind, emotion), 0, -1).Result()
			if err != nil {
				return nil, fmt.Errorf("redis zrange: %w", err)
			}
			for _, z := range zs {
				id, _ := z.Member.(string)
				t.Add(emotion, kind, id, z.Score)
			}
		}
	}
	return t, nil
}

// Replace swaps the whole table in one MULTI/EXEC.
func (s *RedisPreferenceStore) Replace(ctx context.Context, t *assistant.PreferenceTable) error {
	var stale []string
	for _, kind := range choiceKinds {
		emotions, err := s.client.SMembers(ctx, s.emotionsKey(kind)).Result()
		if err != nil {
			return fmt.Errorf("redis smembers: %w", err)
		}
		for _, e := range emotions {
			stale = append(stale, s.scoresKey(kind, e))
		}
		stale = append(stale, s.emotionsKey(kind))
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(stale) > 0 {
			pipe.Del(ctx, stale...)
		}
		for _, kind := range choiceKinds {
			bucket := t.Books
			if kind == assistant.ChoicePlaylist {
				bucket = t.Playlists
			}
			for emotion, scores := range bucket {
				if len(scores) == 0 {
					continue
				}
				members := make([]redis.Z, 0, len(scores))
				for id, v := range scores {
					members = append(members, redis.Z{Score: v, Member: id})
				}
				pipe.ZAdd(ctx, s.scoresKey(kind, emotion), members...)
				pipe.SAdd(ctx, s.emotionsKey(kind), emotion)
			}
		}
		pipe.Set(ctx, s.metaKey(), stamp(t.UpdatedAt), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis replace preferences: %w", err)
	}
	return nil
}

func (s *RedisPreferenceStore) Increment(ctx context.Context, emotion string, kind assistant.ChoiceKind, id string, delta float64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZIncrBy(ctx, s.scoresKey(kind, emotion), delta, id)
		pipe.SAdd(ctx, s.emotionsKey(kind), emotion)
		pipe.Set(ctx, s.metaKey(), stamp(time.Now()), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis increment preference: %w", err)
	}
	return nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}
