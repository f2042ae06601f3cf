package openai

import (
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// apiError maps a go-openai error onto wrap, keeping the HTTP status for the
// retry classifier.
func apiError(service string, err error, wrap error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return domain.NewStatusError(service, reqErr.HTTPStatusCode, fmt.Errorf("%s: %w", detail, wrap))
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.NewStatusError(service, apiErr.HTTPStatusCode, fmt.Errorf("%s: %w", apiErr.Message, wrap))
	}

	// context errors stay visible to callers and the classifier
	return fmt.Errorf("%s request failed: %w: %w", service, wrap, err)
}

// extractDetail reads the "detail" field some compatible providers return instead of "error".
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
