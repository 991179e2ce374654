// Package events defines the dispatch related events emitted on the event bus.
//
// Available event types:
//   - StatusEvent: a request changed lifecycle state
//   - WaveEvent: a candidate wave was released
//   - NotificationEvent: per-donor alert outcome
//   - ResponseEvent: arbitrated donor response
//   - EscalationEvent: a matching round found no candidates
package events
