package mqtt

import "time"

// Client sends donor alerts over MQTT and waits for the delivery receipt
// published by the donor's device.
type Client interface {
	// SendAlert publishes payload to the donor specific topic and returns
	// the notification identifier used to track the receipt.
	SendAlert(donorID string, payload any) (notificationID string, err error)

	// WaitForReceipt waits for a receipt for the provided notification
	// identifier or until the timeout expires.
	WaitForReceipt(notificationID string, timeout time.Duration) (bool, error)
}
