package source

import (
	"context"
	"io"
	"sync"

	"github.com/aws/aws-lambda-go/events"
)

// LambdaSQS serves the records of one SQS-triggered invocation. Records
// that are never acked are reported back as batch item failures so SQS
// redelivers only those.
type LambdaSQS struct {
	mu      sync.Mutex
	items   []Item
	pos     int
	acked   map[string]bool
	ordered []string
}

// NewLambdaSQS wraps the event of one invocation.
func NewLambdaSQS(event events.SQSEvent) *LambdaSQS {
	l := &LambdaSQS{acked: make(map[string]bool, len(event.Records))}
	for _, r := range event.Records {
		l.items = append(l.items, Item{
			Candidate: candidateFromBody(r.Body, r.MessageId),
			Receipt:   r.MessageId,
		})
		l.ordered = append(l.ordered, r.MessageId)
	}
	return l
}

// Next returns up to max records, then io.EOF.
func (l *LambdaSQS) Next(ctx context.Context, max int) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pos >= len(l.items) {
		return nil, io.EOF
	}
	end := l.pos + max
	if max <= 0 || end > len(l.items) {
		end = len(l.items)
	}
	out := l.items[l.pos:end]
	l.pos = end
	return out, nil
}

// Ack marks the record as processed.
func (l *LambdaSQS) Ack(_ context.Context, item Item) error {
	l.mu.Lock()
	l.acked[item.Receipt] = true
	l.mu.Unlock()
	return nil
}

// Response lists every record that was not acked, in event order.
func (l *LambdaSQS) Response() events.SQSEventResponse {
	l.mu.Lock()
	defer l.mu.Unlock()
	var resp events.SQSEventResponse
	for _, id := range l.ordered {
		if !l.acked[id] {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
		}
	}
	return resp
}
