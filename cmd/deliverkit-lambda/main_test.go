package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimode/deliverkit"
	"github.com/optimode/deliverkit/internal/config"
	"github.com/optimode/deliverkit/internal/storage"
	"github.com/optimode/deliverkit/types"
)

type rejectingStore struct {
	*storage.Memory
	reject string
}

func (s rejectingStore) Upsert(ctx context.Context, res types.VerificationResult) error {
	if res.Address == s.reject {
		return assert.AnError
	}
	return s.Memory.Upsert(ctx, res)
}

func TestHandle(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := config.Default()
	mem := storage.NewMemory()

	h := &handler{
		verifier: deliverkit.New(),
		store:    rejectingStore{Memory: mem, reject: "b@example.com"},
		cfg:      &cfg,
		log:      log,
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	resp, err := h.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: "a@example.com"},
		{MessageId: "m2", Body: "b@example.com"},
		{MessageId: "m3", Body: `{"address":"support@example.org","correlationId":"c3"}`},
	}})
	require.NoError(t, err)

	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "m2", resp.BatchItemFailures[0].ItemIdentifier)
	assert.Equal(t, 2, mem.Len())

	got, err := mem.Get(context.Background(), "support@example.org")
	require.NoError(t, err)
	assert.Equal(t, "c3", got.CorrelationID)
	assert.Equal(t, types.VerdictRisky, got.Verdict)
}
