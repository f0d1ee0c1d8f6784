package usecase

import (
	"context"

	"studio-assistant/internal/domain"
	"studio-assistant/internal/tenant"
)

type ConversationStore interface {
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, bool, error)
	GetPending(ctx context.Context, conversationID string) (domain.PendingOperation, bool, error)
	CommitTurn(ctx context.Context, commit domain.TurnCommit) error
	PutLinkCode(ctx context.Context, l domain.LinkCode) error
	ConsumeLinkCode(ctx context.Context, code string) (domain.LinkCode, error)
}

type TenantConfigs interface {
	Get(ctx context.Context, tenantID string) (tenant.Config, error)
}

type Classifier interface {
	Classify(ctx context.Context, text, lang string) (domain.Classification, error)
}

type KnowledgeBase interface {
	AnswerByKey(ctx context.Context, tenantID, key, lang string) (string, bool, error)
	AnswerAI(ctx context.Context, tenantID, question string, history []domain.ChatMessage, lang string) (string, bool, error)
}

type CRM interface {
	FindMemberByPhone(ctx context.Context, tenantID, phone string) (domain.Member, bool, error)
	ListClasses(ctx context.Context, tenantID string, filter domain.ClassFilter) ([]domain.ClassOption, error)
	Reserve(ctx context.Context, tenantID, classID, memberID, idempotencyKey string) (domain.ReserveResult, error)
	Balance(ctx context.Context, tenantID, memberID string) (domain.Balance, error)
	Contracts(ctx context.Context, tenantID, memberID string) ([]domain.Contract, error)
	SetMarketingConsent(ctx context.Context, tenantID, memberID string, consent bool, idempotencyKey string) error
}

type Mailer interface {
	SendOTP(ctx context.Context, to, code, lang string) error
}

// Secrets mints and verifies one-time codes. *hashing.Hasher satisfies it.
type Secrets interface {
	NewOTP() (string, error)
	HashOTP(conversationID, code string) string
	VerifyOTP(conversationID, code, storedHash string) bool
	NewLinkCode() (string, error)
	VerifyLinkCode(code string) bool
}
