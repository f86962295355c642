package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyTTL is how long a completed create's result is replayed
	// for the same Idempotency-Key. The client controls key uniqueness,
	// so a long window gives explicit dedup control.
	IdempotencyTTL = 24 * time.Hour

	// processingTTL bounds the reservation held while a create is in
	// flight, so a crashed process cannot wedge the key forever.
	processingTTL = 5 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest indicates an idempotency key collision while the
// original request is still being processed.
var ErrDuplicateRequest = errors.New("duplicate request: idempotency key already exists")

// IdempotencyResult is the cached outcome of a completed create.
type IdempotencyResult struct {
	NotificationID string   `json:"notification_id"`
	Channels       []string `json:"channels,omitempty"`
	StatusCode     int      `json:"status_code"`
	CreatedAt      int64    `json:"created_at"`
}

// IdempotencyService guards notification creation against client retries.
// Keys are scoped per recipient so one recipient's keys can never collide
// with another's.
type IdempotencyService struct {
	client *Client
	logger *zap.Logger
}

// NewIdempotencyService creates a new idempotency service.
func NewIdempotencyService(client *Client, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{
		client: client,
		logger: logger,
	}
}

func (s *IdempotencyService) buildKey(recipientID, idempotencyKey string) string {
	return fmt.Sprintf("idempotency:%s:%s", recipientID, idempotencyKey)
}

// Check retrieves a cached result for an idempotency key.
// Returns (nil, nil) if the key doesn't exist, (result, nil) if found,
// or ErrDuplicateRequest if the key is currently being processed.
func (s *IdempotencyService) Check(ctx context.Context, recipientID, idempotencyKey string) (*IdempotencyResult, error) {
	key := s.buildKey(recipientID, idempotencyKey)

	val, err := s.client.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if val == processingMarker {
		return nil, ErrDuplicateRequest
	}

	var result IdempotencyResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		s.logger.Error("failed to unmarshal idempotency result", zap.Error(err))
		return nil, fmt.Errorf("invalid cached result: %w", err)
	}

	s.logger.Debug("idempotency cache hit",
		zap.String("recipient_id", recipientID),
		zap.String("notification_id", result.NotificationID),
	)

	return &result, nil
}

// Store saves the result of a successfully processed create.
func (s *IdempotencyService) Store(ctx context.Context, recipientID, idempotencyKey string, result *IdempotencyResult) error {
	key := s.buildKey(recipientID, idempotencyKey)

	if result.CreatedAt == 0 {
		result.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.rdb.Set(ctx, key, data, IdempotencyTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Reserve acquires the key with SET NX while the create is in flight.
// Returns true if the lock was acquired.
func (s *IdempotencyService) Reserve(ctx context.Context, recipientID, idempotencyKey string) (bool, error) {
	key := s.buildKey(recipientID, idempotencyKey)

	set, err := s.client.rdb.SetNX(ctx, key, processingMarker, processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	return set, nil
}

// CheckOrReserve checks for an existing result or reserves the key.
// Returns the cached result if found, nil after a successful reservation,
// or ErrDuplicateRequest when a concurrent create holds the key.
func (s *IdempotencyService) CheckOrReserve(ctx context.Context, recipientID, idempotencyKey string) (*IdempotencyResult, error) {
	result, err := s.Check(ctx, recipientID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	reserved, err := s.Reserve(ctx, recipientID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, ErrDuplicateRequest
	}

	return nil, nil
}
