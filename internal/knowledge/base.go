// Package knowledge answers studio questions: curated FAQ entries first, then
// a generative answer grounded in the tenant's studio description.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"studio-assistant/internal/domain"
	"studio-assistant/internal/integrations/openai"
	"studio-assistant/internal/integrations/paramstore"
)

const (
	defaultMaxQuestion = 500
	maxHistoryMessages = 6
)

type faqStore interface {
	FAQAnswer(ctx context.Context, tenantID, key, lang string) (string, bool, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, schema openai.Schema) (string, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

// Base implements the router's knowledge-base collaborator. Studio context is
// read from tenants/<id>/knowledge through params, which is expected to cache.
type Base struct {
	faq         faqStore
	llm         LLMClient
	params      paramstore.Getter
	model       string
	maxQuestion int
}

func NewBase(faq faqStore, llm LLMClient, params paramstore.Getter, model string) (*Base, error) {
	if faq == nil {
		return nil, errors.New("knowledge: faq store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("knowledge: llm client must not be nil")
	}
	if params == nil {
		return nil, errors.New("knowledge: param getter must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("knowledge: model must not be empty")
	}
	return &Base{faq: faq, llm: llm, params: params, model: model, maxQuestion: defaultMaxQuestion}, nil
}

func (b *Base) AnswerByKey(ctx context.Context, tenantID, key, lang string) (string, bool, error) {
	return b.faq.FAQAnswer(ctx, tenantID, key, lang)
}

// AnswerAI returns ok=false for questions it will not answer: too long,
// flagged by moderation, or judged out of scope for the studio.
func (b *Base) AnswerAI(ctx context.Context, tenantID, question string, history []domain.ChatMessage, lang string) (string, bool, error) {
	question = strings.TrimSpace(question)
	if question == "" || len([]rune(question)) > b.maxQuestion {
		return "", false, nil
	}

	flagged, err := b.llm.Moderate(ctx, question)
	if err != nil {
		return "", false, fmt.Errorf("knowledge: moderation: %w", err)
	}
	if flagged {
		return "", false, nil
	}

	studio, err := b.params.GetParameter(ctx, "tenants/"+tenantID+"/knowledge")
	if err != nil {
		return "", false, fmt.Errorf("knowledge: load studio context: %w", err)
	}

	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	raw, err := b.llm.Chat(ctx, b.model, buildPromptMessages(studio, lang, question, history), scopedAnswerSchema)
	if err != nil {
		return "", false, err
	}
	decision, err := parseScopedAnswer(raw)
	if err != nil {
		return "", false, err
	}
	if !decision.InScope {
		return "", false, nil
	}
	return decision.Answer, true, nil
}
