package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bunkmate/referral-service/pkg/eventbus"
	"github.com/bunkmate/referral-service/pkg/logger"
)

const eventSource = "referral-service.notify"

// Notification channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
)

// Templates rendered by the downstream notification worker.
const (
	TemplateReferralInvite    = "referral_invite"
	TemplateReferralConverted = "referral_converted"
	TemplateRewardApproved    = "reward_approved"
	TemplateRewardPaid        = "reward_paid"
	TemplatePayoutCompleted   = "payout_completed"
	TemplatePayoutFailed      = "payout_failed"
)

// Message is the payload published on notifications.send.
type Message struct {
	UserID   uuid.UUID              `json:"user_id"`
	Channel  string                 `json:"channel"`
	Template string                 `json:"template"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

// Sink publishes notification requests onto the event bus. Delivery is
// fire-and-forget: a failed publish is logged and swallowed so domain state
// transitions never block on notifications.
type Sink struct {
	bus eventbus.Publisher
}

// NewSink creates a notification sink. A nil publisher disables delivery,
// which is how tests and event-bus-less deployments run.
func NewSink(bus eventbus.Publisher) *Sink {
	return &Sink{bus: bus}
}

// Send requests a notification for the user. Errors are never returned.
func (s *Sink) Send(ctx context.Context, userID uuid.UUID, channel, template string, payload map[string]interface{}) {
	if s == nil || s.bus == nil {
		return
	}

	event, err := eventbus.NewEvent(eventbus.SubjectNotificationSend, eventSource, Message{
		UserID:   userID,
		Channel:  channel,
		Template: template,
		Payload:  payload,
	})
	if err == nil {
		err = s.bus.Publish(ctx, eventbus.SubjectNotificationSend, event)
	}
	if err != nil {
		logger.WarnContext(ctx, "failed to publish notification",
			zap.String("user_id", userID.String()),
			zap.String("template", template),
			zap.Error(err),
		)
	}
}
