package handler

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
)

// Handle serves an API Gateway proxy event through the same router as the
// HTTP server.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	resp, err := h.lambda.ProxyWithContext(ctx, event)
	if err != nil {
		h.logger.WithError(err).Warn("malformed proxy event")
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusBadRequest,
			MultiValueHeaders: map[string][]string{
				"Content-Type": {"application/json"},
			},
			Body: `{"error":"VALIDATION_ERROR","reason":"invalid_event"}`,
		}, nil
	}
	return resp, nil
}
