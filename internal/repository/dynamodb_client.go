package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"studio-assistant/internal/domain"
)

const (
	ttlDuration = 30 * 24 * time.Hour // 30-day conversation retention
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps the single DynamoDB table holding conversations, pending
// operations, idempotency claims, spam counters, link codes and FAQ entries.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

var nowFunc = time.Now

// ttlValue returns a Unix timestamp d in the future.
func ttlValue(d time.Duration) int64 {
	return nowFunc().Add(d).Unix()
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": sAttr(pk),
		"SK": sAttr(sk),
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// updateBuilder assembles an UpdateExpression with placeholder names for
// every attribute, since several attribute names (ttl, count) are reserved.
type updateBuilder struct {
	sets    []string
	removes []string
	adds    []string
	names   map[string]string
	values  map[string]types.AttributeValue
}

func newUpdateBuilder() *updateBuilder {
	return &updateBuilder{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
	}
}

func (b *updateBuilder) name(attr string) string {
	ph := "#a" + strconv.Itoa(len(b.names))
	b.names[ph] = attr
	return ph
}

func (b *updateBuilder) value(v types.AttributeValue) string {
	ph := ":v" + strconv.Itoa(len(b.values))
	b.values[ph] = v
	return ph
}

func (b *updateBuilder) set(attr string, v types.AttributeValue) {
	b.sets = append(b.sets, b.name(attr)+" = "+b.value(v))
}

func (b *updateBuilder) setIfNotExists(attr string, v types.AttributeValue) {
	n := b.name(attr)
	b.sets = append(b.sets, fmt.Sprintf("%s = if_not_exists(%s, %s)", n, n, b.value(v)))
}

func (b *updateBuilder) remove(attr string) {
	b.removes = append(b.removes, b.name(attr))
}

func (b *updateBuilder) add(attr string, v types.AttributeValue) {
	b.adds = append(b.adds, b.name(attr)+" "+b.value(v))
}

func (b *updateBuilder) expression() string {
	var parts []string
	if len(b.sets) > 0 {
		parts = append(parts, "SET "+strings.Join(b.sets, ", "))
	}
	if len(b.removes) > 0 {
		parts = append(parts, "REMOVE "+strings.Join(b.removes, ", "))
	}
	if len(b.adds) > 0 {
		parts = append(parts, "ADD "+strings.Join(b.adds, ", "))
	}
	return strings.Join(parts, " ")
}

// applyField turns one tagged field into a SET or REMOVE clause.
func applyField[T any](b *updateBuilder, attr string, f domain.Field[T], enc func(T) types.AttributeValue) {
	switch {
	case f.IsSet():
		b.set(attr, enc(f.Value()))
	case f.IsClear():
		b.remove(attr)
	}
}

func sAttr(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func nAttr(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func intAttrValue(v int) types.AttributeValue {
	return nAttr(int64(v))
}

func boolAttr(v bool) types.AttributeValue {
	return &types.AttributeValueMemberBOOL{Value: v}
}

func mapAttr(m map[string]string) types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(m))
	for k, v := range m {
		out[k] = sAttr(v)
	}
	return &types.AttributeValueMemberM{Value: out}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

// optStr returns "" when the attribute is absent.
func optStr(item map[string]types.AttributeValue, key string) (string, error) {
	if _, ok := item[key]; !ok {
		return "", nil
	}
	return strAttr(item, key)
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

// optInt64 returns 0 when the attribute is absent.
func optInt64(item map[string]types.AttributeValue, key string) (int64, error) {
	if _, ok := item[key]; !ok {
		return 0, nil
	}
	return int64Attr(item, key)
}

func optBool(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, nil
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a bool", key)
	}
	return b.Value, nil
}

func optMap(item map[string]types.AttributeValue, key string) (map[string]string, error) {
	v, ok := item[key]
	if !ok {
		return nil, nil
	}
	m, ok := v.(*types.AttributeValueMemberM)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not a map", key)
	}
	out := make(map[string]string, len(m.Value))
	for k, raw := range m.Value {
		s, ok := raw.(*types.AttributeValueMemberS)
		if !ok {
			return nil, fmt.Errorf("repository: attribute %q.%q is not a string", key, k)
		}
		out[k] = s.Value
	}
	return out, nil
}
