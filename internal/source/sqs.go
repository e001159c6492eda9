package source

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// maxReceive is the SQS limit on messages per ReceiveMessage call.
const maxReceive = 10

// SQSAPI is the subset of the SQS client the source uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQS pulls candidates from a queue. Acked messages are deleted; the rest
// become visible again after the queue's visibility timeout.
type SQS struct {
	client   SQSAPI
	queueURL string
	wait     int32
}

// NewSQS returns a queue source. wait is the long poll duration in seconds.
func NewSQS(client SQSAPI, queueURL string, wait int32) *SQS {
	return &SQS{client: client, queueURL: queueURL, wait: wait}
}

// NewSQSFromConfig builds the source on a client created from cfg.
func NewSQSFromConfig(cfg aws.Config, queueURL string, wait int32) *SQS {
	return NewSQS(sqs.NewFromConfig(cfg), queueURL, wait)
}

// Next receives up to max messages. It returns io.EOF when the queue yields
// nothing within the wait time.
func (s *SQS) Next(ctx context.Context, max int) ([]Item, error) {
	if max <= 0 {
		max = maxReceive
	}
	var items []Item
	for len(items) < max {
		n := min(max-len(items), maxReceive)
		wait := s.wait
		if len(items) > 0 {
			// Only the first receive long polls.
			wait = 0
		}
		out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.queueURL),
			MaxNumberOfMessages: int32(n),
			WaitTimeSeconds:     wait,
		})
		if err != nil {
			if len(items) > 0 {
				return items, nil
			}
			return nil, fmt.Errorf("receive messages: %w", err)
		}
		if len(out.Messages) == 0 {
			break
		}
		for _, m := range out.Messages {
			items = append(items, Item{
				Candidate: candidateFromBody(aws.ToString(m.Body), aws.ToString(m.MessageId)),
				Receipt:   aws.ToString(m.ReceiptHandle),
			})
		}
	}
	if len(items) == 0 {
		return nil, io.EOF
	}
	return items, nil
}

// Ack deletes the message from the queue.
func (s *SQS) Ack(ctx context.Context, item Item) error {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(item.Receipt),
	})
	if err != nil {
		return fmt.Errorf("delete message %s: %w", item.Candidate.CorrelationID, err)
	}
	return nil
}
