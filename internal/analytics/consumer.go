package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/snaplink/snaplink/internal/model"
	"github.com/snaplink/snaplink/internal/repository"
)

// linkChecker tells the consumer whether a code still refers to a link.
type linkChecker interface {
	ExistsCode(ctx context.Context, code string) (bool, error)
}

// Consumer reads click events off the queue and folds them into the
// daily aggregates. Delivery is at-least-once; the merge is additive
// and tolerates replays.
type Consumer struct {
	channel *amqp.Channel
	queue   string
	store   *repository.AnalyticsRepository
	links   linkChecker
	logger  *slog.Logger
	now     func() time.Time
}

func NewConsumer(channel *amqp.Channel, queue string, store *repository.AnalyticsRepository, links linkChecker, logger *slog.Logger) *Consumer {
	return &Consumer{
		channel: channel,
		queue:   queue,
		store:   store,
		links:   links,
		logger:  logger,
		now:     time.Now,
	}
}

// Run consumes until the context is cancelled or the delivery stream
// closes. Events for unknown codes are dropped; transient store
// failures requeue the delivery.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.channel.Qos(16, 0, false); err != nil {
		return err
	}
	deliveries, err := c.channel.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.logger.Info("consuming click events", slog.String("queue", c.queue))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(ctx, delivery)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) {
	var event model.ClickEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		c.logger.Warn("dropping undecodable click event", slog.String("error", err.Error()))
		_ = delivery.Nack(false, false)
		return
	}

	exists, err := c.links.ExistsCode(ctx, event.Code)
	if err != nil {
		c.logger.Error("link lookup failed, requeueing event",
			slog.String("code", event.Code), slog.String("error", err.Error()))
		_ = delivery.Nack(false, true)
		return
	}
	if !exists {
		c.logger.Warn("dropping click event for unknown code", slog.String("code", event.Code))
		_ = delivery.Ack(false)
		return
	}

	date, err := time.Parse("2006-01-02", event.AccessDate)
	if err != nil {
		c.logger.Warn("dropping click event with bad access date",
			slog.String("code", event.Code), slog.String("access_date", event.AccessDate))
		_ = delivery.Nack(false, false)
		return
	}

	err = c.store.Apply(ctx, event.Code, date, func(a *model.DailyAnalytics) {
		MergeEvent(a, &event, c.now())
	})
	if err != nil {
		c.logger.Error("failed to merge click event, requeueing",
			slog.String("code", event.Code), slog.String("error", err.Error()))
		_ = delivery.Nack(false, true)
		return
	}
	_ = delivery.Ack(false)
}
