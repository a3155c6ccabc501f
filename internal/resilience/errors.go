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

package resilience

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// RequestIDKey is the gin context key under which the request ID is stored
const RequestIDKey = "request_id"

// ErrorResponse is the JSON envelope every failed API call returns
type ErrorResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorCode represents stable, caller-facing error codes
type ErrorCode string

const (
	// Client errors (4xx)
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrorCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrorCodeRateLimited  ErrorCode = "RATE_LIMITED"

	// Upstream AI provider errors
	ErrorCodeInvalidPrompt  ErrorCode = "INVALID_PROMPT_OR_FORMAT"
	ErrorCodeUpstreamAuth   ErrorCode = "OPENAI_AUTH"
	ErrorCodeUpstreamQuota  ErrorCode = "OPENAI_QUOTA"
	ErrorCodeUpstreamFailed ErrorCode = "OPENAI_UPSTREAM"

	// Server errors (5xx)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// userMessages are the localized messages shown for codes whose underlying
// error text must not reach the caller.
var userMessages = map[ErrorCode]string{
	ErrorCodeInvalidPrompt:  "No pudimos procesar tu solicitud. Revisa el texto e inténtalo de nuevo.",
	ErrorCodeUpstreamAuth:   "El servicio de inteligencia artificial no está disponible en este momento.",
	ErrorCodeUpstreamQuota:  "El servicio de inteligencia artificial alcanzó su límite de uso. Inténtalo más tarde.",
	ErrorCodeUpstreamFailed: "El servicio de inteligencia artificial no respondió a tiempo. Inténtalo de nuevo.",
	ErrorCodeRateLimited:    "Demasiadas solicitudes. Espera un momento e inténtalo de nuevo.",
	ErrorCodeUnauthorized:   "No autorizado.",
	ErrorCodeNotFound:       "El recurso solicitado no existe.",
	ErrorCodeInternalError:  "Ocurrió un error inesperado. Inténtalo de nuevo.",
}

// CodedError is implemented by errors that already know their caller-facing code and status
type CodedError interface {
	error
	ErrorCode() string
	HTTPStatus() int
}

// ServiceError represents an error with additional context for proper handling
type ServiceError struct {
	Message    string
	Code       ErrorCode
	StatusCode int
	Internal   error
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Internal
}

// ToErrorResponse converts a ServiceError to an ErrorResponse
func (e *ServiceError) ToErrorResponse(requestID string) ErrorResponse {
	return ErrorResponse{
		OK:        false,
		Error:     string(e.Code),
		Message:   e.Message,
		RequestID: requestID,
	}
}

// NewServiceError creates a new ServiceError with the given parameters
func NewServiceError(message string, code ErrorCode, statusCode int, internal error) *ServiceError {
	return &ServiceError{
		Message:    message,
		Code:       code,
		StatusCode: statusCode,
		Internal:   internal,
	}
}

// NewBadRequestError creates a new invalid input error; message is shown to the caller
func NewBadRequestError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeInvalidInput, http.StatusBadRequest, internal)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeNotFound, http.StatusNotFound, internal)
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(internal error) *ServiceError {
	return NewServiceError(UserMessage(ErrorCodeUnauthorized), ErrorCodeUnauthorized, http.StatusUnauthorized, internal)
}

// NewRateLimitedError creates a new too many requests error
func NewRateLimitedError() *ServiceError {
	return NewServiceError(UserMessage(ErrorCodeRateLimited), ErrorCodeRateLimited, http.StatusTooManyRequests, nil)
}

// NewInternalError creates a new internal server error
func NewInternalError(internal error) *ServiceError {
	return NewServiceError(UserMessage(ErrorCodeInternalError), ErrorCodeInternalError, http.StatusInternalServerError, internal)
}

// UserMessage returns the localized message for a code
func UserMessage(code ErrorCode) string {
	if msg, ok := userMessages[code]; ok {
		return msg
	}
	return userMessages[ErrorCodeInternalError]
}

// FromUpstream translates an error that carries its own code, such as a failed
// AI provider call, into a ServiceError with the localized message for that
// code. The upstream text is kept only as the internal cause. It returns nil
// when err carries no code.
func FromUpstream(err error) *ServiceError {
	var coded CodedError
	if !errors.As(err, &coded) {
		return nil
	}
	code := ErrorCode(coded.ErrorCode())
	return NewServiceError(UserMessage(code), code, coded.HTTPStatus(), err)
}

// ErrorHandler provides utilities for handling and formatting errors
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler with the given logger
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{logger: logger}
}

// WrapError converts any error into a ServiceError. Errors that carry their own
// code keep it; everything else becomes INTERNAL_ERROR with a generic message.
func (eh *ErrorHandler) WrapError(err error, operation string) *ServiceError {
	if err == nil {
		return nil
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}

	if serviceErr = FromUpstream(err); serviceErr != nil {
		eh.logger.Warn("Dependency call failed",
			zap.String("operation", operation),
			zap.String("error_code", string(serviceErr.Code)),
			zap.Int("status_code", serviceErr.StatusCode),
			zap.Error(err))
		return serviceErr
	}

	eh.logger.Error("Error occurred during operation",
		zap.String("operation", operation),
		zap.Error(err))

	return NewInternalError(fmt.Errorf("%s: %w", operation, err))
}

// WriteErrorResponse writes an error envelope to an HTTP response writer
func (eh *ErrorHandler) WriteErrorResponse(w http.ResponseWriter, err error, requestID string) {
	serviceErr := eh.WrapError(err, "processing request")
	if serviceErr == nil {
		serviceErr = NewInternalError(nil)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(serviceErr.StatusCode)

	if err := json.NewEncoder(w).Encode(serviceErr.ToErrorResponse(requestID)); err != nil {
		eh.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

// LogError logs an error with appropriate context
func (eh *ErrorHandler) LogError(err error, operation string, fields ...zap.Field) {
	if err == nil || eh == nil || eh.logger == nil {
		return
	}

	logFields := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}
	logFields = append(logFields, fields...)

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		logFields = append(logFields,
			zap.String("error_code", string(serviceErr.Code)),
			zap.Int("status_code", serviceErr.StatusCode))
	}

	eh.logger.Error("Operation failed", logFields...)
}

