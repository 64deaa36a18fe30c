package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stellarion/api/repositories"
	"go.uber.org/zap"
)

// HTTPSink POSTs the profile as JSON to the remote users endpoint
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink creates a sink posting to url (e.g. http://localhost:3001/api/users)
func NewHTTPSink(url string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSink{url: url, client: client}
}

// Name implements Sink
func (s *HTTPSink) Name() string { return "http" }

// Push implements Sink
func (s *HTTPSink) Push(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env.Profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Queued-At", env.QueuedAt.Format(time.RFC3339Nano))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("mirror request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mirror endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// Publisher is the slice of *amqp.Channel the AMQP sink needs
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes each envelope to a durable RabbitMQ queue
type AMQPSink struct {
	conn      *amqp.Connection
	publisher Publisher
	queue     string
	mu        sync.Mutex
}

// DialAMQPSink connects to RabbitMQ and declares the queue
func DialAMQPSink(url, queue string) (*AMQPSink, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if strings.TrimSpace(queue) == "" {
		return nil, errors.New("rabbitmq queue is required")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &AMQPSink{conn: conn, publisher: ch, queue: queue}, nil
}

// NewAMQPSink wraps an existing publisher; the caller owns its lifecycle
func NewAMQPSink(publisher Publisher, queue string) *AMQPSink {
	return &AMQPSink{publisher: publisher, queue: queue}
}

// Name implements Sink
func (s *AMQPSink) Name() string { return "amqp" }

// Push implements Sink
func (s *AMQPSink) Push(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.publisher.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    env.QueuedAt,
		Type:         "user_profile",
		Headers:      amqp.Table{"user_id": env.Profile.ID},
		Body:         body,
	})
}

// Close closes the underlying connection when the sink dialed it
func (s *AMQPSink) Close() error {
	if s.conn == nil {
		return nil
	}
	if ch, ok := s.publisher.(*amqp.Channel); ok {
		_ = ch.Close()
	}
	return s.conn.Close()
}

// RecordSink upserts the profile into the Postgres system of record
type RecordSink struct {
	repo   repositories.ProfileRepository
	logger *zap.Logger
}

// NewRecordSink creates a sink backed by the profile repository
func NewRecordSink(repo repositories.ProfileRepository, logger *zap.Logger) *RecordSink {
	return &RecordSink{repo: repo, logger: logger}
}

// Name implements Sink
func (s *RecordSink) Name() string { return "postgres" }

// Push implements Sink. A push older than the stored row is skipped, not failed.
func (s *RecordSink) Push(ctx context.Context, env Envelope) error {
	written, err := s.repo.Upsert(ctx, env.Profile, env.QueuedAt)
	if err != nil {
		return err
	}
	if !written {
		s.logger.Debug("stale profile push skipped",
			zap.String("user_id", env.Profile.ID),
			zap.Time("queued_at", env.QueuedAt))
	}
	return nil
}
