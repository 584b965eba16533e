// Package redis persists projection records in Redis hashes.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	goredis "github.com/go-redis/redis/v8"

	"github.com/R3E-Network/habit_ledger/internal/domain"
	"github.com/R3E-Network/habit_ledger/internal/projection"
)

const defaultPrefix = "habit:projection:"

// saveScript writes the record only when its (height, stamp) is not older
// than the stored one.
var saveScript = goredis.NewScript(`
local h = tonumber(redis.call('HGET', KEYS[1], 'height') or '-1')
local s = tonumber(redis.call('HGET', KEYS[1], 'stamp') or '-1')
local nh = tonumber(ARGV[1])
local ns = tonumber(ARGV[2])
if nh < h or (nh == h and ns < s) then
  return 0
end
redis.call('HSET', KEYS[1], 'height', ARGV[1], 'stamp', ARGV[2], 'payload', ARGV[3])
return 1
`)

// Store implements projection.Persister backed by Redis.
type Store struct {
	client *goredis.Client
	prefix string
}

var _ projection.Persister = (*Store)(nil)

// New creates a Store. An empty prefix uses "habit:projection:".
func New(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(kind domain.EntityKind, key string) string {
	return s.prefix + string(kind) + ":" + key
}

// Save stores r unless a newer record is already present.
func (s *Store) Save(ctx context.Context, r projection.Record) error {
	err := saveScript.Run(ctx, s.client, []string{s.key(r.Kind, r.Key)},
		strconv.FormatUint(uint64(r.Marker.Height), 10),
		strconv.FormatInt(r.Marker.Stamp, 10),
		string(r.Payload),
	).Err()
	if err != nil {
		return fmt.Errorf("save %s %s: %w", r.Kind, r.Key, err)
	}
	return nil
}

// LoadAll scans every record under the prefix.
func (s *Store) LoadAll(ctx context.Context) ([]projection.Record, error) {
	var records []projection.Record
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		kind, key, ok := strings.Cut(strings.TrimPrefix(full, s.prefix), ":")
		if !ok {
			continue
		}
		fields, err := s.client.HGetAll(ctx, full).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", full, err)
		}
		r, err := decode(domain.EntityKind(kind), key, fields)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", full, err)
		}
		records = append(records, r)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan projection keys: %w", err)
	}
	return records, nil
}

func decode(kind domain.EntityKind, key string, fields map[string]string) (projection.Record, error) {
	height, err := strconv.ParseUint(fields["height"], 10, 32)
	if err != nil {
		return projection.Record{}, fmt.Errorf("height: %w", err)
	}
	stamp, err := strconv.ParseInt(fields["stamp"], 10, 64)
	if err != nil {
		return projection.Record{}, fmt.Errorf("stamp: %w", err)
	}
	return projection.Record{
		Kind:    kind,
		Key:     key,
		Marker:  projection.Marker{Height: uint32(height), Stamp: stamp},
		Payload: []byte(fields["payload"]),
	}, nil
}
