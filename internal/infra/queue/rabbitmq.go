package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

// RabbitNoteEventQueue реализует очередь событий заметок через AMQP.
type RabbitNoteEventQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

var _ domain.NoteEventQueue = (*RabbitNoteEventQueue)(nil)

// NewRabbitNoteEventQueue подключается к брокеру и объявляет очередь.
func NewRabbitNoteEventQueue(amqpURL, queue string) (*RabbitNoteEventQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitNoteEventQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Publish публикует событие в очередь.
func (q *RabbitNoteEventQueue) Publish(ctx context.Context, event domain.NoteEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Pop блокирующе читает событие из очереди.
func (q *RabbitNoteEventQueue) Pop(ctx context.Context) (domain.NoteEvent, error) {
	deliveries, err := q.consumeChannel()
	if err != nil {
		return domain.NoteEvent{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return domain.NoteEvent{}, ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return domain.NoteEvent{}, errors.New("amqp queue: канал доставки закрыт")
			}
			var event domain.NoteEvent
			if err := json.Unmarshal(msg.Body, &event); err != nil {
				_ = msg.Nack(false, false)
				return domain.NoteEvent{}, fmt.Errorf("decode event: %w", err)
			}
			if err := msg.Ack(false); err != nil {
				return domain.NoteEvent{}, fmt.Errorf("ack event: %w", err)
			}
			return event, nil
		}
	}
}

// Close закрывает канал и соединение.
func (q *RabbitNoteEventQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}

func (q *RabbitNoteEventQueue) consumeChannel() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume queue: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}
