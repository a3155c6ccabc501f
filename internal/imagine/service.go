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

// Package imagine renders a visitor's described house over the reference lot
// image through the AI provider's image generation tool.
package imagine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/your-org/gran-dzilam/internal/metrics"
	"github.com/your-org/gran-dzilam/internal/resilience"
	"github.com/your-org/gran-dzilam/internal/upstream"
)

const (
	// MaxDescriptionLength is the longest description, in characters, accepted
	MaxDescriptionLength = 600
	// DefaultSize is used when the request names no size
	DefaultSize = openai.CreateImageSize1024x1024
	// DefaultModel is used when no model is configured
	DefaultModel = "gpt-4.1-mini"
	// DefaultCacheTTL is used when no TTL is configured
	DefaultCacheTTL = 24 * time.Hour
)

// Sizes are the image sizes the generator accepts
var Sizes = []string{
	openai.CreateImageSize1024x1024,
	openai.CreateImageSize1792x1024,
	openai.CreateImageSize1024x1792,
}

// Input is a design request
type Input struct {
	Descripcion string `json:"descripcion"`
	Size        string `json:"size"`
}

// Result is a generated (or cached) design
type Result struct {
	ImageURL string `json:"imageUrl"`
	Cached   bool   `json:"cached"`
}

// Config holds image generation parameters
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	CacheTTL    time.Duration
}

// Service generates designs
type Service struct {
	client  *upstream.Client
	assets  *Assets
	cache   Cache
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	group   singleflight.Group
}

// NewService creates an imagine service. A nil cache gets a MemoryCache.
func NewService(client *upstream.Client, assets *Assets, cache Cache, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Service{
		client:  client,
		assets:  assets,
		cache:   cache,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// CacheKey identifies a rendered prompt at a size
func CacheKey(prompt, size string) string {
	sum := sha256.Sum256([]byte(prompt + "|" + size))
	return hex.EncodeToString(sum[:])
}

// ValidateInput trims the description, applies the default size and checks both
func ValidateInput(in Input) (Input, error) {
	in.Descripcion = strings.TrimSpace(in.Descripcion)
	in.Size = strings.TrimSpace(in.Size)

	if in.Descripcion == "" {
		return in, resilience.NewBadRequestError("La descripción es obligatoria.", nil)
	}
	if utf8.RuneCountInString(in.Descripcion) > MaxDescriptionLength {
		return in, resilience.NewBadRequestError(
			fmt.Sprintf("La descripción no puede exceder %d caracteres.", MaxDescriptionLength), nil)
	}

	if in.Size == "" {
		in.Size = DefaultSize
	}
	for _, size := range Sizes {
		if in.Size == size {
			return in, nil
		}
	}
	return in, resilience.NewBadRequestError(
		fmt.Sprintf("Tamaño no soportado. Usa uno de: %s.", strings.Join(Sizes, ", ")), nil)
}

// Generate returns a design for the input, from cache when the same prompt
// and size were rendered before. Concurrent identical requests share one call;
// a waiter that gives up does not affect the others.
func (s *Service) Generate(ctx context.Context, in Input) (Result, error) {
	in, err := ValidateInput(in)
	if err != nil {
		return Result{}, err
	}

	template, imageURI, err := s.assets.Load()
	if err != nil {
		return Result{}, resilience.NewInternalError(err)
	}

	prompt := RenderPrompt(template, in.Descripcion, in.Size)
	key := CacheKey(prompt, in.Size)

	if url, ok := s.lookup(ctx, key); ok {
		return Result{ImageURL: url, Cached: true}, nil
	}

	// The shared call outlives any single waiter; per-attempt timeouts bound it.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		url, err := s.generate(shared, prompt, imageURI, in.Size)
		if err != nil {
			return "", err
		}
		if err := s.cache.Set(shared, key, url, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("Failed to cache generated design", zap.String("cache_key", key), zap.Error(err))
		}
		return url, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return Result{ImageURL: res.Val.(string)}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Service) lookup(ctx context.Context, key string) (string, bool) {
	url, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Design cache lookup failed", zap.String("cache_key", key), zap.Error(err))
		return "", false
	}
	s.metrics.RecordCacheLookup(ok)
	return url, ok
}

func (s *Service) generate(ctx context.Context, prompt, imageURI, size string) (string, error) {
	start := time.Now()

	resp, err := upstream.Do[generationResponse](ctx, s.client, upstream.Request{
		URL:         strings.TrimRight(s.cfg.Endpoint, "/") + "/responses",
		APIKey:      s.cfg.APIKey,
		Body:        newGenerationRequest(s.cfg.Model, prompt, imageURI, size),
		Timeout:     s.cfg.Timeout,
		MaxAttempts: s.cfg.MaxAttempts,
	})
	if err != nil {
		return "", err
	}

	url := resp.imageURL()
	if url == "" {
		return "", &upstream.Error{
			Kind:    upstream.KindUpstream,
			Status:  http.StatusOK,
			Message: "image generation returned no image",
		}
	}

	s.logger.Info("Design generated",
		zap.String("size", size),
		zap.Bool("inline", strings.HasPrefix(url, "data:")),
		zap.Duration("elapsed", time.Since(start)))

	return url, nil
}
