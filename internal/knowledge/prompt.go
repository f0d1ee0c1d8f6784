package knowledge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"studio-assistant/internal/domain"
	"studio-assistant/internal/integrations/openai"
)

var scopedAnswerSchema = openai.Schema{
	Name: "scoped_answer",
	Body: json.RawMessage(`{
		"type":"object",
		"additionalProperties":false,
		"properties":{
			"in_scope":{"type":"boolean"},
			"answer":{"type":"string"}
		},
		"required":["in_scope","answer"]
	}`),
}

type scopedAnswerResponse struct {
	InScope bool   `json:"in_scope"`
	Answer  string `json:"answer"`
}

var languageNames = map[string]string{
	"pl": "Polish",
	"en": "English",
}

func buildPromptMessages(studio, lang, question string, history []domain.ChatMessage) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: buildPolicyPrompt(lang)},
		{Role: "system", Content: "Studio Context:\n" + normalizePromptInput(studio)},
	}
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" || (m.Role != "user" && m.Role != "assistant") {
			continue
		}
		messages = append(messages, domain.ChatMessage{Role: m.Role, Content: content})
	}
	return append(messages, domain.ChatMessage{Role: "user", Content: question})
}

func buildPolicyPrompt(lang string) string {
	name, ok := languageNames[lang]
	if !ok {
		name = languageNames["en"]
	}
	return strings.Join([]string{
		"Role:",
		"You are the front desk assistant of a fitness and yoga studio.",
		"",
		"Task:",
		"Decide whether the current question is about the studio.",
		"If it is, answer using only the studio context in this request.",
		"If it is not, return out of scope.",
		"",
		"Behavior Rules:",
		"1) Answer only the current question; earlier messages are context.",
		"2) Keep answers short enough for a chat message.",
		"3) Never invent prices, times or policies missing from the studio context.",
		"4) If the studio context does not cover the question, return in_scope=false.",
		"5) Answer in " + name + ".",
		"",
		"Output Contract:",
		"Return JSON only with keys in_scope (boolean) and answer (string). " +
			"If out of scope, return in_scope=false and answer=\"\".",
	}, "\n")
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

func parseScopedAnswer(raw string) (scopedAnswerResponse, error) {
	var out scopedAnswerResponse
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return scopedAnswerResponse{}, fmt.Errorf("knowledge: decode scoped answer: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return scopedAnswerResponse{}, errors.New("knowledge: decode scoped answer: multiple JSON values")
		}
		return scopedAnswerResponse{}, fmt.Errorf("knowledge: decode scoped answer trailing data: %w", err)
	}
	out.Answer = strings.TrimSpace(out.Answer)
	if out.InScope && out.Answer == "" {
		return scopedAnswerResponse{}, errors.New("knowledge: scoped answer missing answer for in-scope question")
	}
	return out, nil
}
