// Package handler adapts Lambda events to the webhook ingress and the two
// queue dispatchers.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"studio-assistant/internal/dispatch"
	"studio-assistant/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}

func header(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorSecurityViolation:
		return http.StatusForbidden
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorResult(ctx context.Context, corrID string, err error) events.APIGatewayProxyResponse {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		ue = &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected", Err: err}
	}
	status := statusFor(ue.Code)
	if status >= 500 || ue.Code == usecase.ErrorSecurityViolation {
		slog.ErrorContext(ctx, "webhook rejected", "correlation_id", corrID, "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
	} else {
		slog.WarnContext(ctx, "webhook rejected", "correlation_id", corrID, "code", ue.Code, "reason", ue.Reason)
	}
	return jsonResponse(status, corrID, errorResponse{Error: string(ue.Code), Reason: ue.Reason})
}

func jsonResponse(status int, corrID string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}

type batchProcessor interface {
	Process(ctx context.Context, records []dispatch.Record) []string
}

// SQSHandler feeds an SQS batch to a dispatcher and reports the records to
// redeliver as partial batch failures.
type SQSHandler struct {
	processor batchProcessor
}

func NewSQSHandler(p batchProcessor) (*SQSHandler, error) {
	if p == nil {
		return nil, errors.New("handler: processor must not be nil")
	}
	return &SQSHandler{processor: p}, nil
}

func (h *SQSHandler) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	records := make([]dispatch.Record, 0, len(ev.Records))
	for _, m := range ev.Records {
		records = append(records, dispatch.Record{
			MessageID: m.MessageId,
			Body:      m.Body,
			GroupID:   m.Attributes["MessageGroupId"],
			Sequence:  m.Attributes["SequenceNumber"],
		})
	}

	var resp events.SQSEventResponse
	for _, id := range h.processor.Process(ctx, records) {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return resp, nil
}
