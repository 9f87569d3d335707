package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/metrics"
)

const (
	// IdempotencyTTL covers retries of a selection without a client key.
	IdempotencyTTL = 5 * time.Minute
	// IdempotencyTTLExact applies to client-provided Idempotency-Key values.
	IdempotencyTTLExact = 24 * time.Hour

	// processingTTL bounds the lock held while a selection is in flight.
	processingTTL = 2 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest means the same selection is already being processed.
var ErrDuplicateRequest = errors.New("duplicate request: selection already in progress")

// IdempotencyResult is the cached outcome of a completed selection.
type IdempotencyResult struct {
	PrescriptionID string `json:"prescription_id"`
	PharmacyID     string `json:"pharmacy_id"`
	Status         string `json:"status"`
	StatusCode     int    `json:"status_code"`
	CreatedAt      int64  `json:"created_at"`
}

// IdempotencyService deduplicates pharmacy selection requests arriving at
// the local API, so a retried request replays the first result instead of
// sending a second selection upstream.
type IdempotencyService struct {
	client *Client
	logger *zap.Logger
}

func NewIdempotencyService(client *Client, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{
		client: client,
		logger: logger,
	}
}

func (s *IdempotencyService) buildKey(prescriptionID, idempotencyKey string) string {
	return s.client.key("idempotency", prescriptionID, idempotencyKey)
}

// Check returns the cached result for a key. It returns (nil, nil) when the
// key is unknown and ErrDuplicateRequest while the key is reserved.
func (s *IdempotencyService) Check(ctx context.Context, prescriptionID, idempotencyKey string) (*IdempotencyResult, error) {
	val, err := s.client.rdb.Get(ctx, s.buildKey(prescriptionID, idempotencyKey)).Result()
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

	metrics.RecordIdempotencyHit()
	s.logger.Debug("idempotency cache hit",
		zap.String("prescription_id", prescriptionID),
		zap.String("pharmacy_id", result.PharmacyID),
	)

	return &result, nil
}

// Store saves the result of a completed selection, replacing the reservation.
func (s *IdempotencyService) Store(ctx context.Context, prescriptionID, idempotencyKey string, result *IdempotencyResult, ttl time.Duration) error {
	if result.CreatedAt == 0 {
		result.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.rdb.Set(ctx, s.buildKey(prescriptionID, idempotencyKey), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Reserve takes the key with SET NX. It reports false if the key exists.
func (s *IdempotencyService) Reserve(ctx context.Context, prescriptionID, idempotencyKey string) (bool, error) {
	set, err := s.client.rdb.SetNX(ctx, s.buildKey(prescriptionID, idempotencyKey), processingMarker, processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return set, nil
}

// Release drops a reservation after a failed selection so the caller can retry.
func (s *IdempotencyService) Release(ctx context.Context, prescriptionID, idempotencyKey string) error {
	key := s.buildKey(prescriptionID, idempotencyKey)

	val, err := s.client.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	if val != processingMarker {
		return nil
	}

	if err := s.client.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// CheckOrReserve returns a cached result if one exists, otherwise reserves
// the key and returns (nil, nil).
func (s *IdempotencyService) CheckOrReserve(ctx context.Context, prescriptionID, idempotencyKey string) (*IdempotencyResult, error) {
	result, err := s.Check(ctx, prescriptionID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	reserved, err := s.Reserve(ctx, prescriptionID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, ErrDuplicateRequest
	}
	return nil, nil
}
