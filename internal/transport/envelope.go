// Package transport carries the wire message shape required by the election
// core's cluster collaborator contract: a qualifier, sender address,
// correlation id and a typed payload. Encoding of the payload itself is a
// transport concern (per the spec, not constrained beyond the field set),
// so this package only fixes it to JSON.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Envelope is the message every cluster collaborator sends and receives.
type Envelope struct {
	Qualifier     string          `json:"qualifier"`
	Sender        string          `json:"sender"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
}

// New builds an envelope carrying a fresh correlation id, for requests that
// start a new round trip.
func New(qualifier, sender string, payload interface{}) (Envelope, error) {
	return build(qualifier, sender, uuid.NewString(), payload)
}

// Reply builds an envelope that echoes the correlation id of req, for
// responses and for replies sent out-of-band via Send.
func Reply(req Envelope, qualifier, sender string, payload interface{}) (Envelope, error) {
	return build(qualifier, sender, req.CorrelationID, payload)
}

func build(qualifier, sender, correlationID string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("transport: encode payload: %w", err)
	}

	return Envelope{
		Qualifier:     qualifier,
		Sender:        sender,
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("transport: decode payload for %q: %w", e.Qualifier, err)
	}
	return nil
}
