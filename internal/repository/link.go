package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"studio-assistant/internal/domain"
)

const skLink = "LINK"

func linkPK(code string) string {
	return "LINK#" + code
}

// PutLinkCode stores a freshly minted link code. Codes are never overwritten.
func (c *Client) PutLinkCode(ctx context.Context, l domain.LinkCode) error {
	item := itemKey(linkPK(l.Code), skLink)
	item[attrTenant] = sAttr(l.TenantID)
	item["web_conversation_id"] = sAttr(l.WebConversationID)
	item["web_user_id"] = sAttr(l.WebUserID)
	if l.PostIntent != "" {
		item[attrPostIntent] = sAttr(l.PostIntent)
	}
	if len(l.PostIntentSlots) > 0 {
		item[attrPostIntentSlots] = mapAttr(l.PostIntentSlots)
	}
	item["expires_at"] = nAttr(l.ExpiresAt)
	item[attrTTL] = nAttr(l.ExpiresAt)

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: PutLinkCode: %w", ErrAlreadyClaimed)
		}
		return fmt.Errorf("repository: PutLinkCode put item: %w", err)
	}
	return nil
}

// ConsumeLinkCode deletes the code and returns what it pointed to. A code can
// be consumed once; a missing or expired code returns ErrNotFound.
func (c *Client) ConsumeLinkCode(ctx context.Context, code string) (domain.LinkCode, error) {
	out, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 itemKey(linkPK(code), skLink),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ReturnValues:        types.ReturnValueAllOld,
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.LinkCode{}, ErrNotFound
		}
		return domain.LinkCode{}, fmt.Errorf("repository: ConsumeLinkCode delete item: %w", err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return domain.LinkCode{}, ErrNotFound
	}
	l, err := itemToLinkCode(code, out.Attributes)
	if err != nil {
		return domain.LinkCode{}, fmt.Errorf("repository: ConsumeLinkCode decode: %w", err)
	}
	if l.ExpiresAt <= nowFunc().Unix() {
		return domain.LinkCode{}, ErrNotFound
	}
	return l, nil
}

func itemToLinkCode(code string, item map[string]types.AttributeValue) (domain.LinkCode, error) {
	l := domain.LinkCode{Code: code}
	var err error
	if l.TenantID, err = strAttr(item, attrTenant); err != nil {
		return l, err
	}
	if l.WebConversationID, err = strAttr(item, "web_conversation_id"); err != nil {
		return l, err
	}
	if l.WebUserID, err = optStr(item, "web_user_id"); err != nil {
		return l, err
	}
	if l.PostIntent, err = optStr(item, attrPostIntent); err != nil {
		return l, err
	}
	if l.PostIntentSlots, err = optMap(item, attrPostIntentSlots); err != nil {
		return l, err
	}
	if l.ExpiresAt, err = int64Attr(item, "expires_at"); err != nil {
		return l, err
	}
	return l, nil
}
