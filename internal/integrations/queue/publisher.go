// Package queue publishes inbound events and outbound actions to SQS.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"studio-assistant/internal/domain"
)

// maxBatchEntries is the SQS limit for SendMessageBatch.
const maxBatchEntries = 10

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

type Publisher struct {
	api         sqsAPI
	inboundURL  string
	outboundURL string
}

// New returns a Publisher. Either queue URL may be empty when the caller only
// publishes to the other one.
func New(api sqsAPI, inboundURL, outboundURL string) (*Publisher, error) {
	if api == nil {
		return nil, errors.New("queue: sqs api must not be nil")
	}
	if strings.TrimSpace(inboundURL) == "" && strings.TrimSpace(outboundURL) == "" {
		return nil, errors.New("queue: at least one queue url must be set")
	}
	return &Publisher{api: api, inboundURL: inboundURL, outboundURL: outboundURL}, nil
}

// PublishInbound sends ev to the inbound FIFO queue. The message group is
// the conversation id and the deduplication id is the event's dedup id, so
// SQS keeps per-conversation order and drops provider retries within its
// deduplication window.
func (p *Publisher) PublishInbound(ctx context.Context, ev domain.InboundEvent) error {
	if p.inboundURL == "" {
		return errors.New("queue: inbound queue url is not configured")
	}
	if ev.ConversationID == "" || ev.DedupID() == "" {
		return errors.New("queue: inbound event needs a conversation id and a dedup id")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("queue: marshal inbound event: %w", err)
	}
	_, err = p.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(p.inboundURL),
		MessageBody:            aws.String(string(body)),
		MessageGroupId:         aws.String(ev.ConversationID),
		MessageDeduplicationId: aws.String(ev.DedupID()),
	})
	if err != nil {
		return fmt.Errorf("queue: send inbound event: %w", err)
	}
	return nil
}

// PublishOutbound sends envelopes to the outbound queue in batches of ten.
// Any entry SQS rejects fails the whole call; the inbound record is then
// retried and the outbound idempotency keys absorb the duplicates.
func (p *Publisher) PublishOutbound(ctx context.Context, envelopes []domain.OutboundEnvelope) error {
	if len(envelopes) == 0 {
		return nil
	}
	if p.outboundURL == "" {
		return errors.New("queue: outbound queue url is not configured")
	}
	for start := 0; start < len(envelopes); start += maxBatchEntries {
		end := min(start+maxBatchEntries, len(envelopes))
		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for i, env := range envelopes[start:end] {
			body, err := json.Marshal(env)
			if err != nil {
				return fmt.Errorf("queue: marshal outbound envelope: %w", err)
			}
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String(strconv.Itoa(start + i)),
				MessageBody: aws.String(string(body)),
			})
		}
		out, err := p.api.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(p.outboundURL),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("queue: send outbound batch: %w", err)
		}
		if len(out.Failed) > 0 {
			f := out.Failed[0]
			return fmt.Errorf("queue: %d outbound entries rejected, first %s: %s",
				len(out.Failed), aws.ToString(f.Code), aws.ToString(f.Message))
		}
	}
	return nil
}
