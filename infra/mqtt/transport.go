package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/bloodlink/core/fanout"
	coremqtt "github.com/kilianp07/bloodlink/core/mqtt"
)

// AlertTransport delivers fanout alerts over MQTT. An alert counts as
// delivered once the donor's device publishes a receipt.
type AlertTransport struct {
	Client coremqtt.Client
	// ReceiptTimeout bounds the wait for a receipt; the send context
	// deadline applies when it is shorter.
	ReceiptTimeout time.Duration
}

// Send publishes the alert and waits for its receipt. A missing receipt is
// reported as fanout.ErrDeliveryUnknown since the message may still reach
// the device.
func (t AlertTransport) Send(ctx context.Context, to fanout.Recipient, s fanout.Summary) error {
	id, err := t.Client.SendAlert(to.DonorID, s)
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	timeout := t.ReceiptTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	ok, err := t.Client.WaitForReceipt(id, timeout)
	if err != nil {
		return errors.Join(fanout.ErrDeliveryUnknown, err)
	}
	if !ok {
		return fanout.ErrDeliveryUnknown
	}
	return nil
}

var _ fanout.Transport = AlertTransport{}
