package apikit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds the Redis connection used by the QueueService.
type RedisConfig struct {
	Address   string        `yaml:"address" json:"address"`
	Password  string        `yaml:"password" json:"-"`
	Database  int           `yaml:"database" json:"database"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// QueueMessage is the envelope stored in a queue. AuthorizationToken lets the
// consumer call back into the API as RoleQueueWorker.
type QueueMessage[T any] struct {
	Data               T      `json:"data"`
	AuthorizationToken string `json:"authorizationToken"`
}

// MessageRequest is the payload of a notification message.
type MessageRequest struct {
	To   []string    `json:"to"`
	Body MessageBody `json:"body"`
}

// MessageBody identifies a message template and its values.
type MessageBody struct {
	MessageID string            `json:"messageId"`
	Values    map[string]string `json:"values,omitempty"`
}

// QueueService pushes work onto Redis lists for background workers.
type QueueService struct {
	client    redis.UniversalClient
	tokens    *TokenService
	keyPrefix string
	logger    *zap.Logger
}

// QueueOption configures a QueueService.
type QueueOption func(*QueueService)

// WithQueueLogger sets the queue logger.
func WithQueueLogger(logger *zap.Logger) QueueOption {
	return func(q *QueueService) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithKeyPrefix prefixes every queue name with prefix and a colon.
func WithKeyPrefix(prefix string) QueueOption {
	return func(q *QueueService) {
		q.keyPrefix = prefix
	}
}

// NewQueueService connects to Redis and checks the connection.
func NewQueueService(cfg RedisConfig, tokens *TokenService, opts ...QueueOption) (*QueueService, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.Database,
	}
	if cfg.Timeout > 0 {
		options.DialTimeout = cfg.Timeout
		options.ReadTimeout = cfg.Timeout
		options.WriteTimeout = cfg.Timeout
	}
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	opts = append([]QueueOption{WithKeyPrefix(cfg.KeyPrefix)}, opts...)
	return NewQueueServiceWithClient(client, tokens, opts...), nil
}

// NewQueueServiceWithClient wraps an existing Redis client.
func NewQueueServiceWithClient(client redis.UniversalClient, tokens *TokenService, opts ...QueueOption) *QueueService {
	q := &QueueService{
		client: client,
		tokens: tokens,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Client returns the underlying Redis client.
func (q *QueueService) Client() redis.UniversalClient {
	return q.client
}

// Close closes the Redis connection.
func (q *QueueService) Close() error {
	return q.client.Close()
}

func (q *QueueService) key(queue string) string {
	if q.keyPrefix == "" {
		return queue
	}
	return q.keyPrefix + ":" + queue
}

// Enqueue appends data to queue together with a token issued for RoleQueueWorker.
//
// Example:
//
//	err := queues.Enqueue(ctx, "mail", apikit.MessageRequest{
//	    To:   []string{account.Email},
//	    Body: apikit.MessageBody{MessageID: "welcome"},
//	})
func (q *QueueService) Enqueue(ctx context.Context, queue string, data any) error {
	token, err := q.tokens.IssueToken(RoleQueueWorker, RoleQueueWorker)
	if err != nil {
		return fmt.Errorf("failed to issue queue token: %w", err)
	}

	payload, err := json.Marshal(QueueMessage[any]{Data: data, AuthorizationToken: token})
	if err != nil {
		return fmt.Errorf("failed to encode message for queue %s: %w", queue, err)
	}

	if err := q.client.RPush(ctx, q.key(queue), payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue on %s: %w", queue, err)
	}
	q.logger.Debug("message enqueued", zap.String("queue", queue), zap.Int("bytes", len(payload)))
	return nil
}

// Len returns the number of messages waiting in queue.
func (q *QueueService) Len(ctx context.Context, queue string) (int64, error) {
	n, err := q.client.LLen(ctx, q.key(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read length of %s: %w", queue, err)
	}
	return n, nil
}

// Dequeue blocks up to timeout for the next message of queue.
// It returns nil and no error when the timeout expires.
func Dequeue[T any](ctx context.Context, q *QueueService, queue string, timeout time.Duration) (*QueueMessage[T], error) {
	result, err := q.client.BLPop(ctx, timeout, q.key(queue)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue from %s: %w", queue, err)
	}
	// BLPOP answers [key, value].
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected reply from %s: %d elements", queue, len(result))
	}

	var msg QueueMessage[T]
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message from %s: %w", queue, err)
	}
	return &msg, nil
}
