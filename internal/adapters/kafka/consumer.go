package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

// MessageHandler processes one message. An error for which retriable is true
// is retried in place, blocking the partition; any other error is logged and
// the message is acknowledged.
type MessageHandler interface {
	Handle(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type Consumer struct {
	group     sarama.ConsumerGroup
	handler   MessageHandler
	retriable func(error) bool
}

func NewConsumer(brokers []string, groupID string, cfg *sarama.Config, handler MessageHandler, retriable func(error) bool) (*Consumer, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	g, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "kafka consumer group")
	}
	return &Consumer{group: g, handler: handler, retriable: retriable}, nil
}

// Run consumes topics until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, topics []string) error {
	h := NewGroupHandler(c.handler, c.retriable)
	for {
		if err := c.group.Consume(ctx, topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

// GroupHandler is the sarama.ConsumerGroupHandler driving a MessageHandler.
type GroupHandler struct {
	handler   MessageHandler
	retriable func(error) bool
	minWait   time.Duration
	maxWait   time.Duration
}

func NewGroupHandler(h MessageHandler, retriable func(error) bool) *GroupHandler {
	if retriable == nil {
		retriable = func(error) bool { return false }
	}
	return &GroupHandler{handler: h, retriable: retriable, minWait: 200 * time.Millisecond, maxWait: 30 * time.Second}
}

func (h *GroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *GroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *GroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !h.process(sess.Context(), message) {
				return nil // session ended mid-retry; message stays unacked
			}
			sess.MarkMessage(message, "")
		}
	}
}

// process handles msg, retrying retriable failures with capped backoff.
// It returns false only when ctx ends first.
func (h *GroupHandler) process(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	wait := h.minWait
	for attempt := 1; ; attempt++ {
		err := h.handler.Handle(ctx, msg)
		if err == nil {
			return true
		}
		lg := log.With().Str("topic", msg.Topic).Int32("partition", msg.Partition).Int64("offset", msg.Offset).Logger()
		if !h.retriable(err) {
			lg.Warn().Err(err).Msg("message dropped")
			return true
		}
		lg.Error().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("message failed, retrying")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		wait = min(wait*2, h.maxWait)
	}
}
