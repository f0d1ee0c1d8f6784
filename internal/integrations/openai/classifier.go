package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"studio-assistant/internal/domain"
)

const classificationSchema = `{
	"type":"object",
	"additionalProperties":false,
	"properties":{
		"intent":{"type":"string","enum":["faq","booking","balance","contract","ticket","marketing_optout","marketing_optin","clarify"]},
		"confidence":{"type":"number","minimum":0,"maximum":1},
		"slots":{
			"type":"object",
			"additionalProperties":false,
			"properties":{
				"class_type":{"type":"string"},
				"date":{"type":"string"},
				"faq_key":{"type":"string"},
				"language":{"type":"string"}
			},
			"required":["class_type","date","faq_key","language"]
		}
	},
	"required":["intent","confidence","slots"]
}`

var compiledClassification = jsonschema.MustCompileString("classification.json", classificationSchema)

type chatter interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, schema Schema) (string, error)
}

// Classifier maps a user message to an intent with a confidence score.
type Classifier struct {
	llm   chatter
	model string
}

func NewClassifier(llm chatter, model string) (*Classifier, error) {
	if llm == nil {
		return nil, errors.New("openai: chat client must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	return &Classifier{llm: llm, model: model}, nil
}

func (c *Classifier) Classify(ctx context.Context, text, lang string) (domain.Classification, error) {
	raw, err := c.llm.Chat(ctx, c.model, []domain.ChatMessage{
		{Role: "system", Content: classifierPrompt(lang)},
		{Role: "user", Content: text},
	}, Schema{Name: "classification", Body: json.RawMessage(classificationSchema)})
	if err != nil {
		return domain.Classification{}, err
	}
	return parseClassification(raw)
}

type classificationResponse struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Slots      map[string]string `json:"slots"`
}

// parseClassification validates raw against the classification schema before
// decoding it, so a model that drifts from the contract is an error and not a
// guess.
func parseClassification(raw string) (domain.Classification, error) {
	var doc any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &doc); err != nil {
		return domain.Classification{}, fmt.Errorf("openai: decode classification: %w", err)
	}
	if err := compiledClassification.Validate(doc); err != nil {
		return domain.Classification{}, fmt.Errorf("openai: classification schema: %w", err)
	}
	var out classificationResponse
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return domain.Classification{}, fmt.Errorf("openai: decode classification: %w", err)
	}
	slots := make(map[string]string, len(out.Slots))
	for k, v := range out.Slots {
		if v = strings.TrimSpace(v); v != "" {
			slots[k] = v
		}
	}
	return domain.Classification{Intent: out.Intent, Confidence: out.Confidence, Slots: slots}, nil
}

func classifierPrompt(lang string) string {
	return strings.Join([]string{
		"Role:",
		"You route messages sent to a fitness and yoga studio assistant.",
		"",
		"Task:",
		"Pick exactly one intent for the user message and rate your confidence between 0 and 1.",
		"",
		"Intents:",
		"- faq: questions about the studio (prices, opening hours, address, class descriptions, rules)",
		"- booking: the user wants to book a class or see which classes are available",
		"- balance: remaining entries or pass validity",
		"- contract: membership contracts",
		"- ticket: a complaint or a request for a human",
		"- marketing_optout: the user no longer wants marketing messages",
		"- marketing_optin: the user wants marketing messages",
		"- clarify: anything else, or when unsure",
		"",
		"Slots (empty string when unknown):",
		"- class_type: the kind of class mentioned, lower case",
		"- date: the requested day as YYYY-MM-DD if stated explicitly",
		"- faq_key: a short snake_case topic for faq questions, e.g. opening_hours, prices, address",
		"- language: ISO 639-1 code of the message language",
		"",
		"The conversation language so far is " + lang + ".",
		"Return JSON only.",
	}, "\n")
}
