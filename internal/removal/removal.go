// Package removal derives the visibility stage of messages from a shared
// countdown. State and Tick are pure; Scheduler applies their results to a
// message store and Timer invokes it periodically.
package removal

import (
	"time"

	"github.com/meerkat-chat/meerkat/internal/message"
)

// Disabled is the countdown value that turns removal off.
const Disabled = -1

// DefaultDegradeFraction is the share of the countdown after which a message
// is shown degraded.
const DefaultDegradeFraction = 0.5

// Policy holds the removal thresholds.
type Policy struct {
	DegradeFraction float64
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{DegradeFraction: DefaultDegradeFraction}
}

func (p Policy) fraction() float64 {
	if p.DegradeFraction <= 0 || p.DegradeFraction > 1 {
		return DefaultDegradeFraction
	}
	return p.DegradeFraction
}

// State returns the stage of a message of the given age under countdown
// seconds. Any negative countdown disables removal.
func (p Policy) State(age time.Duration, countdown int) message.RemovalState {
	if countdown < 0 {
		return message.Active
	}
	limit := time.Duration(countdown) * time.Second
	if age > limit {
		return message.Removed
	}
	if age > time.Duration(float64(limit)*p.fraction()) {
		return message.Degraded
	}
	return message.Active
}

// Tick recomputes the removal state of every message at now. The input is
// not modified. Removed messages stay removed.
func (p Policy) Tick(countdown int, msgs []message.Message, now time.Time) []message.Message {
	out := make([]message.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.RemovalState == message.Removed {
			continue
		}
		out[i].RemovalState = p.State(now.Sub(m.CreatedAt), countdown)
	}
	return out
}

// Tick applies the default policy.
func Tick(countdown int, msgs []message.Message, now time.Time) []message.Message {
	return DefaultPolicy().Tick(countdown, msgs, now)
}

// Visible drops removed messages from a rendered projection.
func Visible(msgs []message.Message) []message.Message {
	out := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.RemovalState == message.Removed {
			continue
		}
		out = append(out, m)
	}
	return out
}
