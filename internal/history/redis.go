package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/banking/fraud-detection-service/internal/pkg/logger"
)

// RedisStore backs a history window with a Redis list so multiple service
// instances share one view of a customer's history. Calls go through a
// circuit breaker: when Redis is unavailable the breaker opens and every
// call fails fast, which evaluators treat as a degraded check rather than
// a fatal error.
type RedisStore struct {
	client     *redis.Client
	keyPrefix  string
	maxEntries int
	maxAge     time.Duration
	ttl        time.Duration
	breaker    *gobreaker.CircuitBreaker
	log        *logger.Logger
}

// NewRedisStore creates a Redis-backed store with the given retention
// policy and key namespace
func NewRedisStore(client *redis.Client, keyPrefix string, maxEntries int, maxAge, ttl time.Duration, log *logger.Logger) *RedisStore {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "history-redis-" + keyPrefix,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("history store breaker state changed",
				logger.StringField("breaker", name),
				logger.StringField("from", from.String()),
				logger.StringField("to", to.String()),
			)
		},
	})

	return &RedisStore{
		client:     client,
		keyPrefix:  keyPrefix,
		maxEntries: maxEntries,
		maxAge:     maxAge,
		ttl:        ttl,
		breaker:    breaker,
		log:        log.Named("redis_history"),
	}
}

func (s *RedisStore) key(customerID string) string {
	return fmt.Sprintf("fraud:history:%s:%s", s.keyPrefix, customerID)
}

// Append stores a record and trims the window
func (s *RedisStore) Append(ctx context.Context, customerID string, rec Record) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}

		key := s.key(customerID)
		pipe := s.client.TxPipeline()
		pipe.RPush(ctx, key, data)
		if s.maxEntries > 0 {
			pipe.LTrim(ctx, key, int64(-s.maxEntries), -1)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		_, err = pipe.Exec(ctx)
		return nil, err
	})
	return err
}

// AppendAndGet stores a record and returns the prior window. The LRANGE
// is queued ahead of the RPUSH inside one MULTI/EXEC transaction, so no
// concurrent append can interleave between the read and the write.
func (s *RedisStore) AppendAndGet(ctx context.Context, customerID string, rec Record) ([]Record, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}

		key := s.key(customerID)
		pipe := s.client.TxPipeline()
		prior := pipe.LRange(ctx, key, 0, -1)
		pipe.RPush(ctx, key, data)
		if s.maxEntries > 0 {
			pipe.LTrim(ctx, key, int64(-s.maxEntries), -1)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}

		raw, err := prior.Result()
		if err != nil {
			return nil, err
		}
		return s.decodeAndPrune(raw), nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]Record), nil
}

// All returns the customer's window, oldest first. Age pruning is applied
// on read; the key TTL bounds overall growth.
func (s *RedisStore) All(ctx context.Context, customerID string) ([]Record, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		raw, err := s.client.LRange(ctx, s.key(customerID), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		return s.decodeAndPrune(raw), nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]Record), nil
}

// decodeAndPrune unmarshals raw list items and applies the age bound
// relative to the newest record
func (s *RedisStore) decodeAndPrune(raw []string) []Record {
	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			s.log.Warn("dropping undecodable history record", logger.ErrorField(err))
			continue
		}
		records = append(records, rec)
	}

	if s.maxAge > 0 && len(records) > 0 {
		cutoff := records[len(records)-1].Timestamp.Add(-s.maxAge)
		kept := records[:0]
		for _, r := range records {
			if r.Timestamp.After(cutoff) {
				kept = append(kept, r)
			}
		}
		records = kept
	}

	return records
}

// Clear drops the customer's window
func (s *RedisStore) Clear(ctx context.Context, customerID string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, s.key(customerID)).Err()
	})
	return err
}
