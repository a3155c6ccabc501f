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

// Package chat answers visitor questions about Gran Dzilam through the AI provider.
package chat

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/your-org/gran-dzilam/internal/finance"
	"github.com/your-org/gran-dzilam/internal/resilience"
	"github.com/your-org/gran-dzilam/internal/upstream"
)

const (
	// MaxMessageLength is the longest message, in characters, the assistant accepts
	MaxMessageLength = 1000
	// MaxHistory is how many previous turns are forwarded with each message
	MaxHistory = 10
	// DefaultModel is used when no model is configured
	DefaultModel = "gpt-4o-mini"
)

// Message is one turn of the conversation as sent by the browser
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SettingsSource provides the current financing ranges for the system prompt
type SettingsSource interface {
	Get(ctx context.Context) (finance.Settings, error)
}

// Config holds chat completion parameters
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxAttempts int
}

// Service produces assistant replies
type Service struct {
	client   *upstream.Client
	cfg      Config
	settings SettingsSource
	logger   *zap.Logger
}

// NewService creates a chat service. settings may be nil, in which case the
// default financing ranges are quoted.
func NewService(client *upstream.Client, cfg Config, settings SettingsSource, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Service{
		client:   client,
		cfg:      cfg,
		settings: settings,
		logger:   logger,
	}
}

// SanitizeHistory keeps user and assistant turns only, trims them, drops
// empty ones, caps each at MaxMessageLength characters and keeps the last MaxHistory.
func SanitizeHistory(history []Message) []Message {
	clean := make([]Message, 0, len(history))
	for _, msg := range history {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			continue
		}
		content := truncateRunes(strings.TrimSpace(msg.Content), MaxMessageLength)
		if content == "" {
			continue
		}
		clean = append(clean, Message{Role: role, Content: content})
	}

	if len(clean) > MaxHistory {
		clean = clean[len(clean)-MaxHistory:]
	}
	return clean
}

// BuildSystemPrompt returns the assistant persona with the financing ranges in force
func BuildSystemPrompt(settings finance.Settings) string {
	eff := settings.Effective()

	var b strings.Builder
	b.WriteString("Eres el asistente virtual de Gran Dzilam, un desarrollo de lotes residenciales en la costa de Yucatán. ")
	b.WriteString("Responde siempre en español, con un tono cordial y profesional, en no más de tres párrafos cortos. ")
	b.WriteString("Ayuda a los visitantes a conocer el desarrollo, sus etapas, amenidades y opciones de financiamiento. ")
	fmt.Fprintf(&b, "El enganche va del %d%% al %d%% del valor del lote y el plazo de %d a %d meses. ",
		eff.MinEnganche, eff.MaxEnganche, eff.MinMeses, eff.MaxMeses)
	if eff.InteresAnual > 0 {
		fmt.Fprintf(&b, "Al saldo a financiar se le aplica un interés de %.2f%%. ", eff.InteresAnual)
	} else {
		b.WriteString("El financiamiento directo es sin intereses. ")
	}
	b.WriteString("No inventes precios ni disponibilidad de lotes específicos; invita al visitante a consultar el mapa de lotes o a dejar sus datos para que un asesor lo contacte. ")
	b.WriteString("Si te preguntan algo ajeno a Gran Dzilam, redirige amablemente la conversación.")
	return b.String()
}

// Reply sends the message with the sanitized history and returns the assistant's answer
func (s *Service) Reply(ctx context.Context, message string, history []Message) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", resilience.NewBadRequestError("El mensaje es obligatorio.", nil)
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return "", resilience.NewBadRequestError(
			fmt.Sprintf("El mensaje no puede exceder %d caracteres.", MaxMessageLength), nil)
	}

	history = SanitizeHistory(history)

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: BuildSystemPrompt(s.currentSettings(ctx)),
	})
	for _, msg := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})

	start := time.Now()
	resp, err := upstream.Do[openai.ChatCompletionResponse](ctx, s.client, upstream.Request{
		URL:    strings.TrimRight(s.cfg.Endpoint, "/") + "/chat/completions",
		APIKey: s.cfg.APIKey,
		Body: openai.ChatCompletionRequest{
			Model:       s.cfg.Model,
			Messages:    messages,
			MaxTokens:   s.cfg.MaxTokens,
			Temperature: float32(s.cfg.Temperature),
		},
		Timeout:     s.cfg.Timeout,
		MaxAttempts: s.cfg.MaxAttempts,
	})
	if err != nil {
		return "", err
	}

	var reply string
	if len(resp.Choices) > 0 {
		reply = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	if reply == "" {
		return "", &upstream.Error{
			Kind:    upstream.KindUpstream,
			Status:  http.StatusOK,
			Message: "empty chat completion",
		}
	}

	s.logger.Info("Chat reply generated",
		zap.Int("history_turns", len(history)),
		zap.Int("reply_chars", utf8.RuneCountInString(reply)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)))

	return reply, nil
}

func (s *Service) currentSettings(ctx context.Context) finance.Settings {
	if s.settings == nil {
		return finance.DefaultSettings()
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.logger.Warn("Falling back to default finance settings", zap.Error(err))
		return finance.DefaultSettings()
	}
	return settings
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
