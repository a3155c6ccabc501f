// Copyright 2024 Gran Dzilam Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package upstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Kind is the closed set of terminal failure categories callers branch on
type Kind string

const (
	// KindInvalidPromptOrFormat means the provider rejected the request as malformed
	KindInvalidPromptOrFormat Kind = "INVALID_PROMPT_OR_FORMAT"
	// KindAuth means the API key was rejected
	KindAuth Kind = "OPENAI_AUTH"
	// KindQuota means billing or rate quota is exhausted
	KindQuota Kind = "OPENAI_QUOTA"
	// KindUpstream covers every other failure, local timeouts and network errors included
	KindUpstream Kind = "OPENAI_UPSTREAM"
)

const (
	// StatusTimeout is the synthetic status reported when an attempt times out
	StatusTimeout = http.StatusGatewayTimeout
	// StatusNetwork is the synthetic status reported when no response was received
	StatusNetwork = http.StatusBadGateway
)

// Error is the single terminal error surfaced by Do
type Error struct {
	Kind    Kind
	Status  int
	Type    string
	Code    string
	Message string
	Err     error

	retryable bool
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "upstream %s (status %d): %s", e.Kind, e.Status, e.Message)
	if e.Type != "" {
		fmt.Fprintf(&b, " [type=%s]", e.Type)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [code=%s]", e.Code)
	}
	return b.String()
}

// Unwrap returns the local cause, if any
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed
func (e *Error) Retryable() bool {
	return e.retryable
}

// ErrorCode returns the caller-facing error code
func (e *Error) ErrorCode() string {
	return string(e.Kind)
}

// HTTPStatus maps the error to the status the API answers with
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidPromptOrFormat:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindQuota:
		if e.Status == http.StatusPaymentRequired {
			return http.StatusPaymentRequired
		}
		return http.StatusTooManyRequests
	default:
		if e.Status == http.StatusGatewayTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
}

// IsRetryableStatus reports whether an HTTP status warrants another attempt: 408 and every 5xx
func IsRetryableStatus(status int) bool {
	return status == http.StatusRequestTimeout || (status >= 500 && status <= 599)
}

// errorEnvelope is the provider's error body: {"error": {"message", "type", "code"}}.
// Some gateways send "error" as a plain string.
type errorEnvelope struct {
	Error json.RawMessage `json:"error"`
}

type errorDetail struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Code    json.RawMessage `json:"code"`
}

// classify maps a non-2xx response to the taxonomy. It never fails: an
// unreadable body degrades to a status-derived message.
func classify(status int, body []byte) *Error {
	detail := parseErrorBody(body)

	message := strings.TrimSpace(detail.Message)
	if message == "" {
		message = fmt.Sprintf("upstream responded with status %d", status)
	}

	e := &Error{
		Status:    status,
		Type:      detail.Type,
		Code:      rawCode(detail.Code),
		Message:   message,
		retryable: IsRetryableStatus(status),
	}

	switch {
	case status == http.StatusBadRequest && detail.Type == "invalid_request_error":
		e.Kind = KindInvalidPromptOrFormat
	case status == http.StatusUnauthorized:
		e.Kind = KindAuth
	case status == http.StatusPaymentRequired || status == http.StatusTooManyRequests:
		e.Kind = KindQuota
	default:
		e.Kind = KindUpstream
	}

	return e
}

func parseErrorBody(body []byte) errorDetail {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return errorDetail{}
	}

	var detail errorDetail
	if err := json.Unmarshal(envelope.Error, &detail); err == nil {
		return detail
	}

	var message string
	if err := json.Unmarshal(envelope.Error, &message); err == nil {
		return errorDetail{Message: message}
	}

	return errorDetail{}
}

// rawCode renders a code that may be a string, a number or null
func rawCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strconv.Quote(string(raw))
}

func timeoutError(cause error) *Error {
	return &Error{
		Kind:      KindUpstream,
		Status:    StatusTimeout,
		Message:   "upstream request timed out",
		Err:       cause,
		retryable: true,
	}
}

func networkError(cause error) *Error {
	return &Error{
		Kind:      KindUpstream,
		Status:    StatusNetwork,
		Message:   "upstream request failed before a response was received",
		Err:       cause,
		retryable: true,
	}
}
