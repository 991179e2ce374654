package mqtt

import "errors"

// ErrReceiptTimeout is returned when no receipt is received before the timeout.
var ErrReceiptTimeout = errors.New("timeout waiting for receipt")
