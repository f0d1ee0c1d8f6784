package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const skSpamBlock = "BLOCK"

func spamPK(scope string) string {
	return "SPAM#" + scope
}

// IncrementSpamCounter atomically adds one to the counter of scope in the
// given time bucket and returns the new count.
func (c *Client) IncrementSpamCounter(ctx context.Context, scope string, bucket int64, ttl time.Duration) (int64, error) {
	b := newUpdateBuilder()
	b.add("count", nAttr(1))
	b.setIfNotExists(attrTTL, nAttr(ttlValue(ttl)))

	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       itemKey(spamPK(scope), "BUCKET#"+strconv.FormatInt(bucket, 10)),
		UpdateExpression:          aws.String(b.expression()),
		ExpressionAttributeNames:  b.names,
		ExpressionAttributeValues: b.values,
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("repository: IncrementSpamCounter update: %w", err)
	}
	if out == nil {
		return 0, fmt.Errorf("repository: IncrementSpamCounter: empty response")
	}
	n, err := int64Attr(out.Attributes, "count")
	if err != nil {
		return 0, fmt.Errorf("repository: IncrementSpamCounter decode: %w", err)
	}
	return n, nil
}

// SpamBlockedUntil returns the unix time the scope is blocked until, or 0.
func (c *Client) SpamBlockedUntil(ctx context.Context, scope string) (int64, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(spamPK(scope), skSpamBlock),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: SpamBlockedUntil get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}
	until, err := optInt64(out.Item, "blocked_until")
	if err != nil {
		return 0, fmt.Errorf("repository: SpamBlockedUntil decode: %w", err)
	}
	return until, nil
}

// BlockSpam blocks scope until the given unix time.
func (c *Client) BlockSpam(ctx context.Context, scope string, until int64) error {
	item := itemKey(spamPK(scope), skSpamBlock)
	item["blocked_until"] = nAttr(until)
	item[attrTTL] = nAttr(until)
	if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("repository: BlockSpam put item: %w", err)
	}
	return nil
}
