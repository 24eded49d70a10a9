package reportgen

import (
	"context"
	"encoding/hex"
	"log/slog"
	"strings"

	"golang.org/x/crypto/blake2b"

	"medgate/internal/reportgen/providers"
	dErrors "medgate/pkg/domain-errors"
	"medgate/pkg/requestcontext"
)

const maxIdempotencyKeyLen = 128

// Service validates report requests, plans providers and caches results.
type Service struct {
	catalog      *Catalog
	orchestrator *Orchestrator
	cache        Cache
	logger       *slog.Logger
	metrics      *Metrics
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithCache enables Idempotency-Key handling.
func WithCache(c Cache) ServiceOption {
	return func(s *Service) {
		s.cache = c
	}
}

func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithServiceMetrics(m *Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates the report service.
func NewService(catalog *Catalog, orchestrator *Orchestrator, opts ...ServiceOption) *Service {
	s := &Service{
		catalog:      catalog,
		orchestrator: orchestrator,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateReport produces a report for in. Only a blank transcription fails;
// unknown hints are dropped and provider failures yield the manual-review
// fallback. A repeated idempotency key from the same caller returns the cached
// result without calling any provider.
func (s *Service) GenerateReport(ctx context.Context, in Input, idempotencyKey string) (Result, error) {
	if strings.TrimSpace(in.TranscriptionText) == "" {
		return Result{}, dErrors.New(dErrors.CodeValidation, "transcriptionText is required")
	}
	s.normalize(ctx, &in)

	cacheKey := ""
	if s.cache != nil {
		cacheKey = idempotencyCacheKey(requestcontext.UserID(ctx), idempotencyKey)
	}
	if cacheKey != "" {
		res, ok, err := s.cache.Get(ctx, cacheKey)
		if err != nil {
			s.logger.WarnContext(ctx, "idempotency cache lookup failed",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		s.metrics.IncCache(ok)
		if ok {
			return res, nil
		}
	}

	res := s.orchestrator.Generate(ctx, in, s.catalog.Plan(in))

	// A fallback caused by the caller going away must not answer its retry.
	if cacheKey != "" && ctx.Err() == nil {
		if err := s.cache.Set(context.WithoutCancel(ctx), cacheKey, res); err != nil {
			s.logger.WarnContext(ctx, "idempotency cache store failed",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
	}
	return res, nil
}

// normalize lowercases the processing mode and drops hints the gateway does
// not understand, so they fall back to the default cloud ranking.
func (s *Service) normalize(ctx context.Context, in *Input) {
	in.ProcessingMode = strings.ToLower(strings.TrimSpace(in.ProcessingMode))
	switch in.ProcessingMode {
	case "", ModeLocal, ModeCloud:
	default:
		s.logger.WarnContext(ctx, "ignoring unknown processing mode",
			"processing_mode", in.ProcessingMode,
			"request_id", requestcontext.RequestID(ctx),
		)
		in.ProcessingMode = ""
	}

	in.PreferredProvider = strings.TrimSpace(in.PreferredProvider)
	if in.PreferredProvider != "" {
		if _, ok := providers.ParseKind(in.PreferredProvider); !ok {
			s.logger.WarnContext(ctx, "ignoring unknown preferred provider",
				"provider", in.PreferredProvider,
				"request_id", requestcontext.RequestID(ctx),
			)
			in.PreferredProvider = ""
		}
	}
}

// idempotencyCacheKey scopes key to the caller. Keys longer than
// maxIdempotencyKeyLen are replaced by their BLAKE2b-256 digest.
func idempotencyCacheKey(userID, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if len(key) > maxIdempotencyKeyLen {
		sum := blake2b.Sum256([]byte(key))
		key = "h:" + hex.EncodeToString(sum[:])
	}
	return userID + ":" + key
}
