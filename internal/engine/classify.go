package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/narrator/internal/core"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
	maxErrorBody      = 4096
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "service returned non-OK status: %s, body: %s"
)

// serviceErrorResponse is the structured error body used by the self-hosted
// service and, loosely, by the cloud APIs.
type serviceErrorResponse struct {
	Detail    any    `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// ClassifyHTTPStatus maps a non-2xx response to an engine error kind.
func ClassifyHTTPStatus(code int, body string) error {
	lower := strings.ToLower(body)

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return core.ErrAuth
	case code == http.StatusPaymentRequired:
		return core.ErrQuota
	case code == http.StatusTooManyRequests && (strings.Contains(lower, "quota") || strings.Contains(lower, "credits")):
		return core.ErrQuota
	case IsRetryableHTTPStatus(code):
		return core.ErrTransient
	case code == http.StatusNotFound && strings.Contains(lower, "voice"):
		return core.ErrUnsupportedVoice
	case (code == http.StatusBadRequest || code == http.StatusUnprocessableEntity) && strings.Contains(lower, "voice"):
		return core.ErrUnsupportedVoice
	default:
		return core.ErrRejected
	}
}

// classifyTransport maps a failed round trip. Cancellation by the caller is
// returned unchanged. Local engines report every other fault, timeouts
// included, as a resource failure; networked faults are transient.
func (b base) classifyTransport(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return err
	}

	if b.capability == core.CapabilityLocal {
		return b.fail(core.ErrResource, err)
	}

	return b.fail(core.ErrTransient, err)
}

// httpCaller performs JSON requests and classifies their failures.
type httpCaller struct {
	client *http.Client
	base
}

func newHTTPCaller(b base, timeout time.Duration) httpCaller {
	return httpCaller{base: b, client: &http.Client{Timeout: timeout}}
}

// postJSON sends payload and returns the successful response body and content type.
func (c httpCaller) postJSON(ctx context.Context, url string, headers map[string]string, payload any) ([]byte, string, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)

	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", c.classifyTransport(ctx, fmt.Errorf("request to %s failed: %w", url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", c.parseErrorResponse(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", c.classifyTransport(ctx, fmt.Errorf("failed to read audio data: %w", err))
	}

	return data, resp.Header.Get(headerContentType), nil
}

// parseErrorResponse decodes a structured JSON error when possible and falls
// back to the raw body, then classifies the status.
func (c httpCaller) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	kind := ClassifyHTTPStatus(resp.StatusCode, string(body))

	var errorResp serviceErrorResponse

	decodeErr := json.Unmarshal(body, &errorResp)
	if decodeErr == nil && errorResp.Detail != nil {
		return c.fail(kind, fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, fmt.Sprint(errorResp.Detail), errorResp.ErrorCode))
	}

	return c.fail(kind, fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, strings.TrimSpace(string(body))))
}
