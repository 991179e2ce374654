package model

import "time"

// Match is a ranked candidate for a specific request. It is derived on every
// ranking pass and never stored.
type Match struct {
	Donor     Donor
	RequestID string
	// Score is the great-circle distance to the hospital in kilometres.
	Score             float64
	Rank              int
	SinceLastDonation time.Duration
}
