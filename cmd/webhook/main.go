package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"

	"studio-assistant/handler"
	"studio-assistant/internal/bootstrap"
	"studio-assistant/internal/integrations/queue"
	"studio-assistant/internal/ratelimit"
)

func main() {
	ctx := context.Background()

	common, err := bootstrap.Load(ctx)
	if err != nil {
		bootstrap.Fatal("failed to initialise", err)
	}
	inboundQueueURL := bootstrap.MustEnv("INBOUND_QUEUE_URL")
	publicBaseURL := bootstrap.MustEnv("PUBLIC_WEBHOOK_BASE_URL")

	publisher, err := queue.New(awssqs.NewFromConfig(common.AWS), inboundQueueURL, "")
	if err != nil {
		bootstrap.Fatal("failed to create queue publisher", err)
	}
	spam, err := ratelimit.NewSpamGuard(common.Store)
	if err != nil {
		bootstrap.Fatal("failed to create spam guard", err)
	}

	h, err := handler.NewWebhookHandler(handler.WebhookDeps{
		Tenants:       common.Tenants,
		Params:        common.Params,
		Spam:          spam,
		Publisher:     publisher,
		IDs:           common.Hasher,
		PublicBaseURL: publicBaseURL,
	})
	if err != nil {
		bootstrap.Fatal("failed to create webhook handler", err)
	}

	lambda.Start(h.Handle)
}
