package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/bizagent/internal/domain"
	"github.com/soyeahso/bizagent/internal/hooks"
	"github.com/soyeahso/bizagent/internal/logging"
)

// HandlerName identifies the publisher in the hook manager.
const HandlerName = "events.publisher"

// Message is the broker payload for a settled transaction.
type Message struct {
	ID             string              `json:"id"`
	Event          string              `json:"event"`
	UserID         string              `json:"userId"`
	ConfirmationID string              `json:"confirmationId"`
	Transaction    *domain.Transaction `json:"transaction,omitempty"`
	OccurredAt     time.Time           `json:"occurredAt"`
}

// MessageFromPayload builds a Message from a hook payload.
func MessageFromPayload(p hooks.Payload, now time.Time) Message {
	msg := Message{
		ID:         uuid.NewString(),
		Event:      p.Event,
		OccurredAt: now.UTC(),
	}
	msg.UserID, _ = p.Data["userId"].(string)
	msg.ConfirmationID, _ = p.Data["confirmationId"].(string)
	switch tx := p.Data["transaction"].(type) {
	case domain.Transaction:
		msg.Transaction = &tx
	case *domain.Transaction:
		msg.Transaction = tx
	}
	return msg
}

// Register publishes every completed and cancelled transaction through pub.
// A failed publish is logged by the hook manager and never fails the
// confirmation.
func Register(hm *hooks.Manager, pub Publisher, log *logging.Logger) {
	log = log.Sub("events")
	handler := func(ctx context.Context, p hooks.Payload) error {
		msg := MessageFromPayload(p, time.Now())
		if err := pub.Publish(context.WithoutCancel(ctx), msg); err != nil {
			return err
		}
		log.Debug().Str("event", msg.Event).Str("messageId", msg.ID).Msg("transaction event published")
		return nil
	}
	for _, event := range []string{hooks.EventTransactionDone, hooks.EventTransactionCanceled} {
		hm.On(event, HandlerName, handler)
	}
}
