// Package amqp notifies the kitchen of order changes over RabbitMQ. Messages
// go to a topic exchange with routing key kitchen.<status>.<table id>.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kilianp07/tablebot/core/events"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/infra/logger"
	"github.com/kilianp07/tablebot/internal/eventbus"
)

const (
	defaultExchange       = "orders_topic"
	defaultConfirmTimeout = 5 * time.Second
	confirmBuffer         = 16
)

// Config describes the RabbitMQ connection.
type Config struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
	// ConfirmTimeoutMS bounds the wait for a publisher confirm.
	ConfirmTimeoutMS int `json:"confirm_timeout_ms"`
}

// OrderMessage is the document the kitchen receives.
type OrderMessage struct {
	OrderID        string           `json:"order_id"`
	TableID        string           `json:"table_id"`
	WaiterID       string           `json:"waiter_id,omitempty"`
	Status         string           `json:"status"`
	PreviousStatus string           `json:"previous_status"`
	Items          []model.LineItem `json:"items"`
	TotalPrice     float64          `json:"total_price"`
	At             time.Time        `json:"at"`
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// KitchenPublisher publishes order messages with publisher confirms.
type KitchenPublisher struct {
	conn     *amqp.Connection
	ch       channel
	acks     <-chan amqp.Confirmation
	exchange string
	tag      uint64 // last delivery tag; the broker numbers confirms from 1
	timeout  time.Duration
	log      logger.Logger

	mu sync.Mutex
}

// Dial connects to RabbitMQ, declares the exchange and enables publisher
// confirms.
func Dial(cfg Config) (*KitchenPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp: url required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp: channel: %w", err)
	}
	p := newKitchenPublisher(ch, cfg)
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp: declare exchange %s: %w", p.exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp: confirm mode: %w", err)
	}
	p.conn = conn
	p.acks = ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer))
	return p, nil
}

func newKitchenPublisher(ch channel, cfg Config) *KitchenPublisher {
	p := &KitchenPublisher{
		ch:       ch,
		exchange: cfg.Exchange,
		timeout:  time.Duration(cfg.ConfirmTimeoutMS) * time.Millisecond,
		log:      logger.New("kitchen"),
	}
	if p.exchange == "" {
		p.exchange = defaultExchange
	}
	if p.timeout <= 0 {
		p.timeout = defaultConfirmTimeout
	}
	return p
}

// StatusKey is the routing segment for the statuses the kitchen cares
// about. ok is false for other statuses.
func StatusKey(s model.OrderStatus) (key string, ok bool) {
	switch s {
	case model.OrderSubmitted:
		return "submitted", true
	case model.OrderInProgress:
		return "sent", true
	case model.OrderCompleted:
		return "completed", true
	case model.OrderCancelled:
		return "cancelled", true
	default:
		return "", false
	}
}

// RoutingKey returns kitchen.<status>.<table id>.
func RoutingKey(status, tableID string) string {
	return "kitchen." + status + "." + tableID
}

// PublishOrder sends ev to the kitchen. Events for statuses the kitchen
// ignores are skipped and report false.
func (p *KitchenPublisher) PublishOrder(ctx context.Context, ev events.OrderEvent) (bool, error) {
	status, ok := StatusKey(ev.Order.Status)
	if !ok {
		return false, nil
	}
	body, err := json.Marshal(OrderMessage{
		OrderID:        ev.Order.ID,
		TableID:        ev.Order.TableID,
		WaiterID:       ev.Order.WaiterID,
		Status:         ev.Order.Status.String(),
		PreviousStatus: ev.Previous.String(),
		Items:          ev.Order.Items,
		TotalPrice:     ev.Order.TotalPrice,
		At:             ev.At,
	})
	if err != nil {
		return false, err
	}
	key := RoutingKey(status, ev.Order.TableID)

	p.mu.Lock()
	defer p.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		MessageId:    ev.Order.ID + ":" + status,
		Body:         body,
	})
	if err != nil {
		return false, fmt.Errorf("amqp: publish %s: %w", key, err)
	}
	p.tag++
	if p.acks == nil {
		return true, nil
	}
	return p.awaitConfirm(ctx, key, p.tag)
}

// awaitConfirm waits for the confirm of delivery tag. Confirms for earlier
// publishes whose wait already timed out are discarded.
func (p *KitchenPublisher) awaitConfirm(ctx context.Context, key string, tag uint64) (bool, error) {
	for {
		select {
		case conf, open := <-p.acks:
			if !open {
				return false, errors.New("amqp: channel closed before confirm")
			}
			if conf.DeliveryTag < tag {
				p.log.Debugf("discarding late confirm %d", conf.DeliveryTag)
				continue
			}
			if !conf.Ack {
				return false, fmt.Errorf("amqp: broker nacked %s", key)
			}
			return true, nil
		case <-ctx.Done():
			return false, fmt.Errorf("amqp: confirm %s: %w", key, ctx.Err())
		}
	}
}

// Close closes the channel and the connection.
func (p *KitchenPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// OrderPublisher is satisfied by KitchenPublisher.
type OrderPublisher interface {
	PublishOrder(ctx context.Context, ev events.OrderEvent) (bool, error)
}

// StartKitchenNotifier forwards order events from the bus to pub until ctx
// is canceled or the bus is closed.
func StartKitchenNotifier(ctx context.Context, bus *eventbus.TypedBus[events.Event], pub OrderPublisher, log logger.Logger) {
	if bus == nil || pub == nil {
		return
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				oe, isOrder := ev.(events.OrderEvent)
				if !isOrder {
					continue
				}
				sent, err := pub.PublishOrder(ctx, oe)
				if err != nil {
					log.Errorf("notify kitchen of order %s: %v", oe.Order.ID, err)
					continue
				}
				if sent {
					log.Debugf("kitchen notified: order %s %s", oe.Order.ID, oe.Order.Status)
				}
			}
		}
	}()
}
