package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/racedesk/apiserver/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQClient publishes events to a topic exchange, routed by channel
// name. Subscribers consume from a queue named "<channel>.<group>" bound
// to that routing key, so each consumer group sees every event once.
type RabbitMQClient struct {
	conn     *amqp.Connection
	exchange string
	group    string
	durable  bool
	autoDel  bool
	prefetch int

	// pubMu serialises publishes on the shared channel.
	pubMu sync.Mutex
	pubCh *amqp.Channel
}

func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("RABBITMQ_URL is required")
	}
	if strings.TrimSpace(cfg.Exchange) == "" {
		return nil, errors.New("RABBITMQ_EXCHANGE is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	r := &RabbitMQClient{
		conn:     conn,
		exchange: cfg.Exchange,
		group:    cfg.ConsumerGroup,
		durable:  cfg.QueueDurable,
		autoDel:  cfg.QueueAutoDelete,
		prefetch: cfg.PrefetchCount,
	}

	r.pubCh, err = r.openChannel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return r, nil
}

// openChannel opens a channel with the events exchange declared on it.
func (r *RabbitMQClient) openChannel() (*amqp.Channel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(r.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", r.exchange, err)
	}
	return ch, nil
}

func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	headers := make(amqp.Table, len(attrs))
	for key, value := range attrs {
		headers[key] = value
	}
	mode := amqp.Transient
	if r.durable {
		mode = amqp.Persistent
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: mode,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Type:         attrs[AttrEventType],
		Headers:      headers,
		Body:         data,
	}

	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	if err := r.pubCh.PublishWithContext(ctx, r.exchange, channel, false, false, msg); err != nil {
		return "", fmt.Errorf("publish to %s/%s: %w", r.exchange, channel, err)
	}
	return msg.MessageId, nil
}

// Subscribe consumes the group queue of channel until ctx is done. A
// failed delivery is requeued once; a redelivery that fails again is
// dropped.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	ch, err := r.openChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if r.prefetch > 0 {
		if err := ch.Qos(r.prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch: %w", err)
		}
	}

	queue := channel + "." + r.group
	if _, err := ch.QueueDeclare(queue, r.durable, r.autoDel, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, channel, r.exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s to %s: %w", queue, r.exchange, err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "racedesk-"+uuid.NewString(), false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("consumer of %s closed by broker", queue)
			}
			err := handler(ctx, Message{ID: d.MessageId, Data: d.Body, Attributes: tableToAttributes(d.Headers)})
			if err != nil {
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (r *RabbitMQClient) Close() error {
	_ = r.pubCh.Close()
	return r.conn.Close()
}

func tableToAttributes(headers amqp.Table) map[string]string {
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		if b, ok := value.([]byte); ok {
			attrs[key] = string(b)
			continue
		}
		attrs[key] = fmt.Sprint(value)
	}
	return attrs
}
