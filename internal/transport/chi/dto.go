package chi

import (
	dompre "github.com/kailas-cloud/ragdex/internal/domain/predefined"
	"github.com/kailas-cloud/ragdex/internal/usecase/ask"
)

// ErrorCode is the machine-readable error kind of an API error.
type ErrorCode string

// API error codes.
const (
	CodeBadRequest      ErrorCode = "bad_request"
	CodeUnauthorized    ErrorCode = "unauthorized"
	CodeNotFound        ErrorCode = "not_found"
	CodeUnknownProvider ErrorCode = "unknown_provider"
	CodeRateLimited     ErrorCode = "rate_limited"
	CodeTimeout         ErrorCode = "timeout"
	CodeInternalError   ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type askRequest struct {
	Question    string   `json:"question"`
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
}

func (r askRequest) toDomain() ask.Request {
	return ask.Request{
		Question:    r.Question,
		Provider:    r.Provider,
		Model:       r.Model,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
		TopK:        r.TopK,
	}
}

type predefinedAnswer struct {
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	Keywords   []string `json:"keywords"`
	Confidence float64  `json:"confidence"`
}

type predefinedList struct {
	Items []predefinedAnswer `json:"items"`
	Total int                `json:"total"`
}

func predefinedToDTO(a dompre.Answer) predefinedAnswer {
	kw := a.Keywords()
	if kw == nil {
		kw = []string{}
	}
	return predefinedAnswer{
		Question:   a.Question(),
		Answer:     a.Text(),
		Keywords:   kw,
		Confidence: a.Confidence(),
	}
}

func predefinedListToDTO(answers []dompre.Answer) predefinedList {
	items := make([]predefinedAnswer, len(answers))
	for i, a := range answers {
		items[i] = predefinedToDTO(a)
	}
	return predefinedList{Items: items, Total: len(items)}
}

type namespaceInvalidated struct {
	Namespace string `json:"namespace"`
	Deleted   int    `json:"deleted"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type sseToken struct {
	Text string `json:"text"`
}

type sseError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
