package events

import "time"

// NotificationEvent reports the delivery outcome of one alert.
type NotificationEvent struct {
	RequestID string
	DonorID   string
	WaveSeq   int
	Outcome   string
	Err       error
	Latency   time.Duration
}

// ResponseEvent reports an arbitrated donor response.
type ResponseEvent struct {
	RequestID string
	DonorID   string
	Decision  string
	Result    string
	Time      time.Time
}
