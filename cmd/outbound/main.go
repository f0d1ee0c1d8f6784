package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"studio-assistant/handler"
	"studio-assistant/internal/bootstrap"
	"studio-assistant/internal/dispatch"
	"studio-assistant/internal/integrations/channel"
	"studio-assistant/internal/integrations/rest"
	"studio-assistant/internal/integrations/ticketing"
	"studio-assistant/internal/ratelimit"
)

func main() {
	ctx := context.Background()

	common, err := bootstrap.Load(ctx)
	if err != nil {
		bootstrap.Fatal("failed to initialise", err)
	}
	ticketingBaseURL := bootstrap.MustEnv("TICKETING_BASE_URL")
	senderTTL := bootstrap.EnvDuration("SENDER_CACHE_TTL", 15*time.Minute)

	ticketAPI, err := rest.New("ticketing", ticketingBaseURL, rest.ParamToken(common.Params, "ticketing-token"), rest.WithRetryPolicy(common.Policy))
	if err != nil {
		bootstrap.Fatal("failed to create ticketing transport", err)
	}
	tickets, err := ticketing.New(ticketAPI)
	if err != nil {
		bootstrap.Fatal("failed to create ticketing client", err)
	}

	senders, err := channel.NewRegistry(common.Tenants, channel.ProviderFactory(common.Params), senderTTL)
	if err != nil {
		bootstrap.Fatal("failed to create sender registry", err)
	}

	dispatcher, err := dispatch.NewOutboundDispatcher(dispatch.OutboundDeps{
		Claims:        common.Store,
		Senders:       senders,
		Tickets:       tickets,
		Conversations: common.Store,
		Tenants:       common.Tenants,
		Buckets:       ratelimit.NewBuckets(),
		Resetters:     []dispatch.Resetter{common.Tenants, common.Params},
	})
	if err != nil {
		bootstrap.Fatal("failed to create outbound dispatcher", err)
	}

	h, err := handler.NewSQSHandler(dispatcher)
	if err != nil {
		bootstrap.Fatal("failed to create handler", err)
	}

	lambda.Start(h.Handle)
}
