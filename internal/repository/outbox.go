package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"studio-assistant/internal/domain"
)

// outboxTTL outlives both the inbound claim and the SQS retention period, so
// a redelivered event always finds the actions of its committed turn.
const outboxTTL = 14 * 24 * time.Hour

func outboxSK(eventID string) string {
	return "OUT#" + eventID
}

func (c *Client) outboxPut(conversationID, eventID string, actions []domain.Action) (*types.Put, error) {
	if actions == nil {
		actions = []domain.Action{}
	}
	raw, err := json.Marshal(actions)
	if err != nil {
		return nil, fmt.Errorf("marshal outbox: %w", err)
	}
	item := itemKey(convPK(conversationID), outboxSK(eventID))
	item[attrPayload] = sAttr(string(raw))
	item[attrTTL] = nAttr(ttlValue(outboxTTL))
	return &types.Put{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}, nil
}

// GetOutbox returns the actions committed for eventID in a conversation.
// found is false when no turn was committed for the event.
func (c *Client) GetOutbox(ctx context.Context, conversationID, eventID string) ([]domain.Action, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(convPK(conversationID), outboxSK(eventID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("repository: GetOutbox get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, false, nil
	}
	raw, err := strAttr(out.Item, attrPayload)
	if err != nil {
		return nil, false, fmt.Errorf("repository: GetOutbox: %w", err)
	}
	var actions []domain.Action
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		return nil, false, fmt.Errorf("repository: GetOutbox unmarshal: %w", err)
	}
	return actions, true, nil
}

// cancelledByCondition reports whether a transaction was cancelled because
// the condition of the item at index failed.
func cancelledByCondition(err error, index int) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || index >= len(tce.CancellationReasons) {
		return false
	}
	return aws.ToString(tce.CancellationReasons[index].Code) == "ConditionalCheckFailed"
}
