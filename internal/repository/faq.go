package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// FAQAnswer returns the curated answer for a FAQ key in the given language,
// falling back to the language-neutral entry.
func (c *Client) FAQAnswer(ctx context.Context, tenantID, key, lang string) (string, bool, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "", false, nil
	}
	sks := []string{"KEY#" + key}
	if lang != "" {
		sks = append([]string{"KEY#" + key + "#" + strings.ToLower(lang)}, sks...)
	}
	for _, sk := range sks {
		out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(c.tableName),
			Key:       itemKey("FAQ#"+tenantID, sk),
		})
		if err != nil {
			return "", false, fmt.Errorf("repository: FAQAnswer get item: %w", err)
		}
		if out == nil || len(out.Item) == 0 {
			continue
		}
		answer, err := strAttr(out.Item, "answer")
		if err != nil {
			return "", false, fmt.Errorf("repository: FAQAnswer decode: %w", err)
		}
		return answer, true, nil
	}
	return "", false, nil
}
