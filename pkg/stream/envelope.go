package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/beacon/pkg/analytics"
)

// Envelope is the message value on the events topic
type Envelope struct {
	Kind        string                      `json:"kind"`
	Visit       *analytics.VisitRecord      `json:"visit,omitempty"`
	Interaction *analytics.InteractionEvent `json:"interaction,omitempty"`
	ProducedAt  time.Time                   `json:"produced_at"`
}

// Decode parses an envelope and checks it carries the row its kind names
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	switch env.Kind {
	case analytics.KindVisit:
		if env.Visit == nil {
			return Envelope{}, fmt.Errorf("visit envelope without visit")
		}
	case analytics.KindInteraction:
		if env.Interaction == nil {
			return Envelope{}, fmt.Errorf("interaction envelope without interaction")
		}
	default:
		return Envelope{}, fmt.Errorf("unknown envelope kind %q", env.Kind)
	}
	return env, nil
}
