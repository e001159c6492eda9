// Package source delivers candidate addresses to the batch runner.
//
// A Source hands out items in batches and is told which ones were stored.
// Items that are never acknowledged are redelivered by the backing system
// (queue visibility timeout, Lambda partial batch failure); the file source
// is single pass and ignores acknowledgements.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/optimode/deliverkit/types"
)

// ErrUnknownKind is returned when a configured source kind has no
// implementation.
var ErrUnknownKind = errors.New("source: unknown kind")

// Item is one delivered candidate.
type Item struct {
	Candidate types.Candidate
	// Receipt identifies the delivery for Ack: an SQS receipt handle or a
	// Lambda message id. Empty for file items.
	Receipt string
}

// Source yields candidates. Next returns io.EOF once nothing more will be
// delivered; it may return fewer than max items before that.
type Source interface {
	Next(ctx context.Context, max int) ([]Item, error)
	Ack(ctx context.Context, item Item) error
}

// messageBody is the JSON form of a queued candidate. A body that is not a
// JSON object is taken as the bare address.
type messageBody struct {
	Address       string `json:"address"`
	Email         string `json:"email"`
	CorrelationID string `json:"correlationId"`
}

// candidateFromBody decodes a queue message body. id is used as the
// correlation id when the body carries none.
func candidateFromBody(body, id string) types.Candidate {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") {
		var m messageBody
		if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
			addr := m.Address
			if addr == "" {
				addr = m.Email
			}
			corr := m.CorrelationID
			if corr == "" {
				corr = id
			}
			return types.Candidate{Address: strings.TrimSpace(addr), CorrelationID: corr}
		}
	}
	return types.Candidate{Address: trimmed, CorrelationID: id}
}
