package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"studio-assistant/internal/domain"
)

const (
	skState   = "STATE"
	skPending = "PENDING"
)

// Conversation attribute names.
const (
	attrTenant          = "tenant_id"
	attrChannel         = "channel"
	attrState           = "state_machine_status"
	attrLastIntent      = "last_intent"
	attrLastUserText    = "last_user_text"
	attrLanguage        = "language_code"
	attrMemberID        = "crm_member_id"
	attrVerification    = "crm_verification_level"
	attrVerifiedUntil   = "crm_verified_until"
	attrChallengeType   = "challenge_type"
	attrOTPHash         = "otp_hash"
	attrOTPExpiresAt    = "otp_expires_at"
	attrOTPAttempts     = "otp_attempts_left"
	attrOTPLastSentAt   = "otp_last_sent_at"
	attrOTPEmail        = "otp_email"
	attrLinkCode        = "link_code"
	attrBlockedUntil    = "verification_blocked_until"
	attrPostIntent      = "post_intent"
	attrPostIntentSlots = "post_intent_slots"
	attrOptOut          = "opt_out"
	attrUpdatedAt       = "updated_at"
	attrTTL             = "ttl"
	attrPayload         = "payload"
)

func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// GetConversation loads the conversation record. found is false when the
// conversation has never been persisted.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(convPK(conversationID), skState),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, false, nil
	}
	conv, err := itemToConversation(conversationID, out.Item)
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetConversation decode: %w", err)
	}
	return conv, true, nil
}

// CommitTurn persists everything one turn changed. A plain conversation
// update is a single UpdateItem; anything more (pending operation, linked
// conversation, outbox) goes through one transaction so the records never
// diverge. A second commit for the same event fails with ErrAlreadyClaimed.
func (c *Client) CommitTurn(ctx context.Context, commit domain.TurnCommit) error {
	if commit.ConversationID == "" {
		return fmt.Errorf("repository: CommitTurn: conversation id must not be empty")
	}
	items, err := c.turnItems(commit)
	if err != nil {
		return fmt.Errorf("repository: CommitTurn: %w", err)
	}
	if commit.Linked != nil {
		if commit.Linked.ConversationID == "" || commit.Linked.ConversationID == commit.ConversationID {
			return fmt.Errorf("repository: CommitTurn: invalid linked conversation")
		}
		more, err := c.turnItems(*commit.Linked)
		if err != nil {
			return fmt.Errorf("repository: CommitTurn linked: %w", err)
		}
		items = append(items, more...)
	}
	outboxAt := -1
	if commit.EventID != "" {
		put, err := c.outboxPut(commit.ConversationID, commit.EventID, commit.Outbox)
		if err != nil {
			return fmt.Errorf("repository: CommitTurn: %w", err)
		}
		outboxAt = len(items)
		items = append(items, types.TransactWriteItem{Put: put})
	}

	if len(items) == 1 {
		u := items[0].Update
		_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 u.TableName,
			Key:                       u.Key,
			UpdateExpression:          u.UpdateExpression,
			ExpressionAttributeNames:  u.ExpressionAttributeNames,
			ExpressionAttributeValues: u.ExpressionAttributeValues,
		})
		if err != nil {
			return fmt.Errorf("repository: CommitTurn update: %w", err)
		}
		return nil
	}

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		if outboxAt >= 0 && cancelledByCondition(err, outboxAt) {
			return fmt.Errorf("repository: CommitTurn event %s: %w", commit.EventID, ErrAlreadyClaimed)
		}
		return fmt.Errorf("repository: CommitTurn transact write: %w", err)
	}
	return nil
}

// turnItems returns the conversation update of commit followed by its
// pending operation change, if any.
func (c *Client) turnItems(commit domain.TurnCommit) ([]types.TransactWriteItem, error) {
	b := conversationUpdate(commit)
	items := []types.TransactWriteItem{{
		Update: &types.Update{
			TableName:                 aws.String(c.tableName),
			Key:                       itemKey(convPK(commit.ConversationID), skState),
			UpdateExpression:          aws.String(b.expression()),
			ExpressionAttributeNames:  b.names,
			ExpressionAttributeValues: b.values,
		},
	}}
	switch {
	case commit.PutPending != nil:
		item, err := pendingItem(commit.ConversationID, *commit.PutPending)
		if err != nil {
			return nil, err
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(c.tableName), Item: item},
		})
	case commit.DeletePending:
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{TableName: aws.String(c.tableName), Key: itemKey(convPK(commit.ConversationID), skPending)},
		})
	}
	return items, nil
}

// GetPending loads the staged operation of a conversation. Expired records
// are reported as not found; DynamoDB TTL deletion is lazy.
func (c *Client) GetPending(ctx context.Context, conversationID string) (domain.PendingOperation, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(convPK(conversationID), skPending),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.PendingOperation{}, false, fmt.Errorf("repository: GetPending get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.PendingOperation{}, false, nil
	}
	raw, err := strAttr(out.Item, attrPayload)
	if err != nil {
		return domain.PendingOperation{}, false, fmt.Errorf("repository: GetPending: %w", err)
	}
	var op domain.PendingOperation
	if err := json.Unmarshal([]byte(raw), &op); err != nil {
		return domain.PendingOperation{}, false, fmt.Errorf("repository: GetPending unmarshal: %w", err)
	}
	op.ConversationID = conversationID
	if op.Expired(nowFunc()) {
		return domain.PendingOperation{}, false, nil
	}
	return op, true, nil
}

func pendingItem(conversationID string, op domain.PendingOperation) (map[string]types.AttributeValue, error) {
	raw, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("marshal pending: %w", err)
	}
	item := itemKey(convPK(conversationID), skPending)
	item["kind"] = sAttr(string(op.Kind))
	item[attrPayload] = sAttr(string(raw))
	if op.ExpiresAt > 0 {
		item[attrTTL] = nAttr(op.ExpiresAt)
	}
	return item, nil
}

func conversationUpdate(commit domain.TurnCommit) *updateBuilder {
	u := commit.Update
	b := newUpdateBuilder()
	b.setIfNotExists(attrTenant, sAttr(commit.TenantID))
	b.setIfNotExists(attrChannel, sAttr(string(commit.Channel)))

	applyField(b, attrState, u.State, func(v domain.State) types.AttributeValue { return sAttr(string(v)) })
	applyField(b, attrLastIntent, u.LastIntent, sAttr)
	applyField(b, attrLastUserText, u.LastUserText, sAttr)
	applyField(b, attrLanguage, u.LanguageCode, sAttr)
	applyField(b, attrMemberID, u.CRMMemberID, sAttr)
	applyField(b, attrVerification, u.VerificationLevel, func(v domain.VerificationLevel) types.AttributeValue { return sAttr(string(v)) })
	applyField(b, attrVerifiedUntil, u.VerifiedUntil, nAttr)
	applyField(b, attrChallengeType, u.ChallengeType, sAttr)
	applyField(b, attrOTPHash, u.OTPHash, sAttr)
	applyField(b, attrOTPExpiresAt, u.OTPExpiresAt, nAttr)
	applyField(b, attrOTPAttempts, u.OTPAttemptsLeft, intAttrValue)
	applyField(b, attrOTPLastSentAt, u.OTPLastSentAt, nAttr)
	applyField(b, attrOTPEmail, u.OTPEmail, sAttr)
	applyField(b, attrLinkCode, u.LinkCode, sAttr)
	applyField(b, attrBlockedUntil, u.VerificationBlockedUntil, nAttr)
	applyField(b, attrPostIntent, u.PostIntent, sAttr)
	applyField(b, attrPostIntentSlots, u.PostIntentSlots, mapAttr)
	applyField(b, attrOptOut, u.OptOut, boolAttr)

	b.set(attrUpdatedAt, nAttr(nowFunc().Unix()))
	b.set(attrTTL, nAttr(ttlValue(ttlDuration)))
	return b
}

func itemToConversation(id string, item map[string]types.AttributeValue) (domain.Conversation, error) {
	var (
		conv = domain.Conversation{ID: id}
		err  error
		s    string
	)
	str := func(key string, dst *string) {
		if err == nil {
			*dst, err = optStr(item, key)
		}
	}
	num := func(key string, dst *int64) {
		if err == nil {
			*dst, err = optInt64(item, key)
		}
	}

	str(attrTenant, &conv.TenantID)
	str(attrChannel, &s)
	conv.Channel = domain.Channel(s)
	str(attrState, &s)
	conv.State = domain.State(s)
	str(attrLastIntent, &conv.LastIntent)
	str(attrLastUserText, &conv.LastUserText)
	str(attrLanguage, &conv.LanguageCode)
	str(attrMemberID, &conv.CRMMemberID)
	str(attrVerification, &s)
	conv.VerificationLevel = domain.VerificationLevel(s)
	num(attrVerifiedUntil, &conv.VerifiedUntil)
	str(attrChallengeType, &conv.ChallengeType)
	str(attrOTPHash, &conv.OTPHash)
	num(attrOTPExpiresAt, &conv.OTPExpiresAt)
	var attempts int64
	num(attrOTPAttempts, &attempts)
	conv.OTPAttemptsLeft = int(attempts)
	num(attrOTPLastSentAt, &conv.OTPLastSentAt)
	str(attrOTPEmail, &conv.OTPEmail)
	str(attrLinkCode, &conv.LinkCode)
	num(attrBlockedUntil, &conv.VerificationBlockedUntil)
	str(attrPostIntent, &conv.PostIntent)
	num(attrUpdatedAt, &conv.UpdatedAt)
	num(attrTTL, &conv.TTL)
	if err != nil {
		return domain.Conversation{}, err
	}
	if conv.PostIntentSlots, err = optMap(item, attrPostIntentSlots); err != nil {
		return domain.Conversation{}, err
	}
	if conv.OptOut, err = optBool(item, attrOptOut); err != nil {
		return domain.Conversation{}, err
	}

	if conv.State == "" {
		conv.State = domain.StateAwaitingMessage
	}
	if conv.VerificationLevel == "" {
		conv.VerificationLevel = domain.VerificationNone
	}
	return conv, nil
}
