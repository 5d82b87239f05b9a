package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/snaplink/snaplink/internal/model"
	"github.com/snaplink/snaplink/internal/observability"
)

// Producer decouples the redirect path from the queue: events go into
// a bounded buffer and a background goroutine publishes them. When the
// buffer is full the event is dropped, never the redirect.
type Producer struct {
	channel *amqp.Channel
	queue   string
	events  chan *model.ClickEvent
	logger  *slog.Logger
	metrics *observability.Metrics

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewProducer starts the publishing loop. metrics may be nil.
func NewProducer(channel *amqp.Channel, queue string, buffer int, logger *slog.Logger, metrics *observability.Metrics) *Producer {
	p := &Producer{
		channel: channel,
		queue:   queue,
		events:  make(chan *model.ClickEvent, buffer),
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Publish enqueues an event for delivery. It never blocks; a full
// buffer drops the event with a log line and a counter bump.
func (p *Producer) Publish(event *model.ClickEvent) {
	select {
	case p.events <- event:
		p.observe("enqueued")
	default:
		p.logger.Warn("analytics buffer full, dropping click event",
			slog.String("code", event.Code))
		p.observe("dropped")
	}
}

// Close drains buffered events and stops the publishing loop.
func (p *Producer) Close() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Producer) run() {
	defer p.wg.Done()
	for {
		select {
		case event := <-p.events:
			p.publish(event)
		case <-p.done:
			for {
				select {
				case event := <-p.events:
					p.publish(event)
				default:
					return
				}
			}
		}
	}
}

func (p *Producer) publish(event *model.ClickEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to serialize click event",
			slog.String("code", event.Code), slog.String("error", err.Error()))
		p.observe("dropped")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = p.channel.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		p.logger.Error("failed to publish click event",
			slog.String("code", event.Code), slog.String("error", err.Error()))
		p.observe("failed")
		return
	}
	p.observe("published")
}

func (p *Producer) observe(stage string) {
	if p.metrics == nil {
		return
	}
	p.metrics.AnalyticsEvents.WithLabelValues(stage).Inc()
}
