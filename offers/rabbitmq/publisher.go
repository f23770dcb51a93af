package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/calyxpay/lib-offers/offers/events"
	"github.com/calyxpay/lib-offers/offers/log"
)

const defaultConfirmTimeout = 5 * time.Second

var (
	// ErrNilChannel indicates a nil AMQP channel was provided.
	ErrNilChannel = errors.New("amqp channel is nil")
	// ErrPublishNacked indicates the broker refused the publication.
	ErrPublishNacked = errors.New("publish was nacked by broker")
	// ErrConfirmTimeout indicates the broker did not confirm in time.
	ErrConfirmTimeout = errors.New("publish confirm timed out")
)

// Confirmation resolves to the broker's ack or nack for one publication.
type Confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// ConfirmableChannel is the subset of amqp091.Channel the publisher needs.
// Declared as an interface so tests can substitute a fake broker.
type ConfirmableChannel interface {
	Confirm(noWait bool) error
	PublishWithDeferredConfirmWithContext(
		ctx context.Context,
		exchange, key string,
		mandatory, immediate bool,
		msg amqp.Publishing,
	) (Confirmation, error)
	Close() error
}

// channelAdapter bridges *amqp.Channel to ConfirmableChannel.
type channelAdapter struct {
	*amqp.Channel
}

func (a channelAdapter) PublishWithDeferredConfirmWithContext(
	ctx context.Context,
	exchange, key string,
	mandatory, immediate bool,
	msg amqp.Publishing,
) (Confirmation, error) {
	confirmation, err := a.Channel.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, immediate, msg)
	if err != nil {
		return nil, err
	}

	return confirmation, nil
}

// NewChannel wraps a real AMQP channel for use with NewPublisher.
func NewChannel(ch *amqp.Channel) ConfirmableChannel {
	return channelAdapter{Channel: ch}
}

// Publisher delivers events to an exchange with publisher confirms enabled.
type Publisher struct {
	ch             ConfirmableChannel
	exchange       string
	routingKey     string
	confirmTimeout time.Duration
	logger         log.Logger
	mu             sync.Mutex
}

// Compile-time assertion: *Publisher implements events.Publisher.
var _ events.Publisher = (*Publisher)(nil)

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets a structured logger for the publisher.
func WithLogger(logger log.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithConfirmTimeout sets how long Publish waits for a broker confirm.
func WithConfirmTimeout(timeout time.Duration) Option {
	return func(p *Publisher) {
		if timeout > 0 {
			p.confirmTimeout = timeout
		}
	}
}

// NewPublisher puts the channel into confirm mode and wraps it.
func NewPublisher(ch ConfirmableChannel, exchange, routingKey string, opts ...Option) (*Publisher, error) {
	if ch == nil {
		return nil, ErrNilChannel
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}

	publisher := &Publisher{
		ch:             ch,
		exchange:       exchange,
		routingKey:     routingKey,
		confirmTimeout: defaultConfirmTimeout,
		logger:         log.NewNop(),
	}

	for _, opt := range opts {
		opt(publisher)
	}

	return publisher, nil
}

// Publish delivers one event and waits for the broker confirm.
func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	confirmation, err := p.ch.PublishWithDeferredConfirmWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID.String(),
			Type:         event.Type,
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	acked, err := confirmation.WaitContext(confirmCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrConfirmTimeout, p.confirmTimeout)
		}

		return fmt.Errorf("wait confirm: %w", err)
	}

	if !acked {
		return ErrPublishNacked
	}

	p.logger.Log(ctx, log.LevelDebug, "event published",
		log.String("type", event.Type),
		log.String("event_id", event.ID.String()))

	return nil
}

// Close closes the underlying channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ch.Close()
}
