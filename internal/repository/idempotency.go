package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"studio-assistant/internal/domain"
)

const skClaim = "CLAIM"

// Sentinel errors re-exported for callers that only depend on the repository.
var (
	ErrAlreadyClaimed = domain.ErrAlreadyClaimed
	ErrNotFound       = domain.ErrNotFound
)

// Claim records key as processed. It returns ErrAlreadyClaimed when an
// unexpired claim for key already exists. Claims older than their ttl are
// treated as absent even before DynamoDB removes them.
func (c *Client) Claim(ctx context.Context, key string, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("repository: Claim: key must not be empty")
	}
	now := nowFunc()
	item := itemKey("IDEMP#"+key, skClaim)
	item["claimed_at"] = nAttr(now.Unix())
	item[attrTTL] = nAttr(now.Add(ttl).Unix())

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR #ttl < :now"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": attrTTL,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": nAttr(now.Unix()),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrAlreadyClaimed
		}
		return fmt.Errorf("repository: Claim put item: %w", err)
	}
	return nil
}

// Release removes a claim so a retried event is processed again.
func (c *Client) Release(ctx context.Context, key string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       itemKey("IDEMP#"+key, skClaim),
	})
	if err != nil {
		return fmt.Errorf("repository: Release delete item: %w", err)
	}
	return nil
}
