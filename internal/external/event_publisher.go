package external

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"transaction-api/internal/config"
	"transaction-api/internal/models"
)

// EventPublisher pushes lifecycle and alert events to RabbitMQ. Publishing
// is best effort: callers log failures and carry on, a broker outage must
// never fail a money movement.
type EventPublisher interface {
	PublishTransactionCreated(ctx context.Context, transaction *models.Transaction) error
	PublishTransactionCompleted(ctx context.Context, transaction *models.Transaction) error
	PublishTransactionFailed(ctx context.Context, transaction *models.Transaction) error
	PublishTransactionReversed(ctx context.Context, transaction *models.Transaction) error
	PublishAuditEvent(ctx context.Context, event *models.AuditEvent) error
	PublishAlert(ctx context.Context, alert *models.Alert) error
	Ping(ctx context.Context) error
	Close() error
}

// TransactionEvent is the wire shape of a lifecycle event.
type TransactionEvent struct {
	EventID       string    `json:"eventId"`
	EventType     string    `json:"eventType"`
	TransactionID string    `json:"transactionId"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	FromAccountID string    `json:"fromAccountId"`
	ToAccountID   string    `json:"toAccountId"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Reference     string    `json:"reference,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type rabbitPublisher struct {
	config  config.RabbitMQConfig
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewEventPublisher connects to the broker and declares the transaction and
// alert topic exchanges.
func NewEventPublisher(cfg config.RabbitMQConfig) (EventPublisher, error) {
	p := &rabbitPublisher{config: cfg}

	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *rabbitPublisher) connect() error {
	conn, err := amqp.Dial(p.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	for _, exchange := range []string{p.config.Exchange, p.config.AlertExchange} {
		if err := channel.ExchangeDeclare(
			exchange, // name
			"topic",  // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		); err != nil {
			channel.Close()
			conn.Close()
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	p.conn = conn
	p.channel = channel
	return nil
}

func (p *rabbitPublisher) reconnect() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	return p.connect()
}

func (p *rabbitPublisher) PublishTransactionCreated(ctx context.Context, transaction *models.Transaction) error {
	return p.publishTransaction(ctx, "created", transaction)
}

func (p *rabbitPublisher) PublishTransactionCompleted(ctx context.Context, transaction *models.Transaction) error {
	return p.publishTransaction(ctx, "completed", transaction)
}

func (p *rabbitPublisher) PublishTransactionFailed(ctx context.Context, transaction *models.Transaction) error {
	return p.publishTransaction(ctx, "failed", transaction)
}

func (p *rabbitPublisher) PublishTransactionReversed(ctx context.Context, transaction *models.Transaction) error {
	return p.publishTransaction(ctx, "reversed", transaction)
}

func (p *rabbitPublisher) publishTransaction(ctx context.Context, eventType string, transaction *models.Transaction) error {
	event := &TransactionEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		TransactionID: transaction.TransactionID,
		Type:          string(transaction.Type),
		Status:        string(transaction.Status),
		FromAccountID: transaction.FromAccountID,
		ToAccountID:   transaction.ToAccountID,
		Amount:        transaction.Amount.String(),
		Currency:      transaction.Currency,
		Reference:     transaction.Reference,
		FailureReason: transaction.FailureReason,
		Timestamp:     time.Now().UTC(),
	}
	return p.publish(ctx, p.config.Exchange, "transaction."+eventType, event)
}

func (p *rabbitPublisher) PublishAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	routingKey := "audit." + strings.ToLower(event.EventType)
	return p.publish(ctx, p.config.Exchange, routingKey, event)
}

func (p *rabbitPublisher) PublishAlert(ctx context.Context, alert *models.Alert) error {
	return p.publish(ctx, p.config.AlertExchange, "alert.triggered", alert)
}

func (p *rabbitPublisher) publish(ctx context.Context, exchange, routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
		MessageId:    uuid.NewString(),
		DeliveryMode: amqp.Persistent,
	}
	if p.config.MessageTTL > 0 {
		publishing.Expiration = fmt.Sprintf("%d", p.config.MessageTTL.Milliseconds())
	}
	if correlationID, ok := ctx.Value("correlation_id").(string); ok {
		publishing.CorrelationId = correlationID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	attempts := p.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var publishErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if p.conn == nil || p.conn.IsClosed() {
			if reconnectErr := p.reconnect(); reconnectErr != nil {
				logrus.WithError(reconnectErr).Warn("Failed to reconnect to RabbitMQ")
				publishErr = reconnectErr
				time.Sleep(p.config.RetryDelay * time.Duration(attempt+1))
				continue
			}
		}

		publishErr = p.channel.PublishWithContext(
			ctx,
			exchange,   // exchange
			routingKey, // routing key
			false,      // mandatory
			false,      // immediate
			publishing, // message
		)
		if publishErr == nil {
			return nil
		}

		if attempt < attempts-1 {
			time.Sleep(p.config.RetryDelay * time.Duration(attempt+1))
		}
	}

	return fmt.Errorf("failed to publish to %s/%s after %d attempts: %w", exchange, routingKey, attempts, publishErr)
}

func (p *rabbitPublisher) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		if err := p.reconnect(); err != nil {
			return fmt.Errorf("rabbitmq connection is down: %w", err)
		}
	}
	return nil
}

func (p *rabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing event publisher: %v", errs)
	}
	return nil
}

// noopPublisher keeps the call sites unconditional when RabbitMQ is
// disabled by configuration.
type noopPublisher struct{}

func NewNoopPublisher() EventPublisher {
	return noopPublisher{}
}

func (noopPublisher) PublishTransactionCreated(context.Context, *models.Transaction) error   { return nil }
func (noopPublisher) PublishTransactionCompleted(context.Context, *models.Transaction) error { return nil }
func (noopPublisher) PublishTransactionFailed(context.Context, *models.Transaction) error    { return nil }
func (noopPublisher) PublishTransactionReversed(context.Context, *models.Transaction) error  { return nil }
func (noopPublisher) PublishAuditEvent(context.Context, *models.AuditEvent) error            { return nil }
func (noopPublisher) PublishAlert(context.Context, *models.Alert) error                      { return nil }
func (noopPublisher) Ping(context.Context) error                                             { return nil }
func (noopPublisher) Close() error                                                           { return nil }
