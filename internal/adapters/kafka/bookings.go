package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"staysearch/internal/app"
	"staysearch/internal/domain"
)

type BookingApplier interface {
	ApplyBooking(ctx context.Context, e app.BookingEvent) error
}

// BookingHandler applies booking confirmed/cancelled events to the schedule.
// Events that can never apply are copied to the dead-letter topic when one is
// configured.
type BookingHandler struct {
	apply     BookingApplier
	dlq       *Producer
	dlqTopic  string
	retriable func(error) bool
}

func NewBookingHandler(apply BookingApplier, dlq *Producer, dlqTopic string) *BookingHandler {
	return &BookingHandler{apply: apply, dlq: dlq, dlqTopic: dlqTopic, retriable: app.Retriable}
}

func (h *BookingHandler) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev app.BookingEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		ve := &domain.ValidationError{}
		ve.Add("body", domain.ReasonInvalid, err.Error())
		return h.deadLetter(ctx, msg, ve)
	}
	err := h.apply.ApplyBooking(ctx, ev)
	if err == nil {
		log.Info().Str("type", ev.Type).Str("booking_ref", ev.BookingRef).Int64("unit_id", ev.UnitID).Msg("booking applied")
		return nil
	}
	if h.retriable(err) {
		return err
	}
	return h.deadLetter(ctx, msg, err)
}

// deadLetter parks msg and returns cause so the consumer logs and acks it.
// A failed park is retriable so the event is not lost.
func (h *BookingHandler) deadLetter(ctx context.Context, msg *sarama.ConsumerMessage, cause error) error {
	if h.dlq == nil || h.dlqTopic == "" {
		return cause
	}
	headers := map[string]string{
		"error":         cause.Error(),
		"source-topic":  msg.Topic,
		"source-offset": strconv.FormatInt(msg.Offset, 10),
	}
	if err := h.dlq.Publish(ctx, h.dlqTopic, string(msg.Key), msg.Value, headers); err != nil {
		return domain.Unavailable(err, "dead-letter after: "+cause.Error())
	}
	return cause
}
