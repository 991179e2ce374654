package mqtt

import (
	"context"
	"encoding/json"

	"github.com/kilianp07/bloodlink/core/dispatch"
)

type publisher interface {
	Publish(topic, key string, payload []byte) error
}

// BroadcastEscalation publishes escalations for operators on a shared topic.
type BroadcastEscalation struct {
	Pub   publisher
	Topic string
}

func (b BroadcastEscalation) Escalate(ctx context.Context, e dispatch.Escalation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	topic := b.Topic
	if topic == "" {
		topic = DefaultEscalationTopic
	}
	return b.Pub.Publish(topic, "escalation", payload)
}

var _ dispatch.EscalationSink = BroadcastEscalation{}
