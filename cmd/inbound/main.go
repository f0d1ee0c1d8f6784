package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"

	"studio-assistant/handler"
	"studio-assistant/internal/bootstrap"
	"studio-assistant/internal/dispatch"
	"studio-assistant/internal/integrations/crm"
	"studio-assistant/internal/integrations/mailer"
	"studio-assistant/internal/integrations/openai"
	"studio-assistant/internal/integrations/queue"
	"studio-assistant/internal/integrations/rest"
	"studio-assistant/internal/knowledge"
	"studio-assistant/internal/usecase"
)

func main() {
	ctx := context.Background()

	common, err := bootstrap.Load(ctx)
	if err != nil {
		bootstrap.Fatal("failed to initialise", err)
	}
	outboundQueueURL := bootstrap.MustEnv("OUTBOUND_QUEUE_URL")
	crmBaseURL := bootstrap.MustEnv("CRM_BASE_URL")
	mailFrom := bootstrap.MustEnv("MAIL_FROM_ADDRESS")
	mailFromName := bootstrap.EnvOr("MAIL_FROM_NAME", "Studio")
	classifierModel := bootstrap.EnvOr("CLASSIFIER_MODEL", "gpt-4o-mini")
	answerModel := bootstrap.EnvOr("ANSWER_MODEL", "gpt-4o-mini")

	// ---- Collaborators ----
	llm, err := openai.NewClient(common.Params, openai.WithRetryPolicy(common.Policy))
	if err != nil {
		bootstrap.Fatal("failed to create OpenAI client", err)
	}
	classifier, err := openai.NewClassifier(llm, classifierModel)
	if err != nil {
		bootstrap.Fatal("failed to create classifier", err)
	}
	kb, err := knowledge.NewBase(common.Store, llm, common.Params, answerModel)
	if err != nil {
		bootstrap.Fatal("failed to create knowledge base", err)
	}

	crmAPI, err := rest.New("crm", crmBaseURL, rest.ParamToken(common.Params, "crm-token"), rest.WithRetryPolicy(common.Policy))
	if err != nil {
		bootstrap.Fatal("failed to create CRM transport", err)
	}
	crmClient, err := crm.New(crmAPI)
	if err != nil {
		bootstrap.Fatal("failed to create CRM client", err)
	}

	mail, err := mailer.NewSendGridMailer(rest.ParamToken(common.Params, "sendgrid-token"), mailFromName, mailFrom, mailer.WithRetryPolicy(common.Policy))
	if err != nil {
		bootstrap.Fatal("failed to create mailer", err)
	}

	// ---- Core ----
	challenge, err := usecase.NewChallengeEngine(crmClient, mail, common.Store, common.Hasher)
	if err != nil {
		bootstrap.Fatal("failed to create challenge engine", err)
	}
	router, err := usecase.NewRouter(usecase.Deps{
		Store:      common.Store,
		Tenants:    common.Tenants,
		Classifier: classifier,
		Knowledge:  kb,
		CRM:        crmClient,
		Challenge:  challenge,
		Secrets:    common.Hasher,
	})
	if err != nil {
		bootstrap.Fatal("failed to create router", err)
	}

	publisher, err := queue.New(awssqs.NewFromConfig(common.AWS), "", outboundQueueURL)
	if err != nil {
		bootstrap.Fatal("failed to create queue publisher", err)
	}
	dispatcher, err := dispatch.NewInboundDispatcher(common.Store, router, publisher, common.Hasher, common.Tenants, common.Params)
	if err != nil {
		bootstrap.Fatal("failed to create inbound dispatcher", err)
	}

	h, err := handler.NewSQSHandler(dispatcher)
	if err != nil {
		bootstrap.Fatal("failed to create handler", err)
	}

	lambda.Start(h.Handle)
}
