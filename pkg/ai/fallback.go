package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Breaker tuning. A half-open breaker admits halfOpenRequests concurrent trial calls,
// one per classification chunk running in parallel (150 messages in chunks of 50).
var (
	halfOpenRequests uint32 = 3
	breakerTimeout          = 30 * time.Second
)

// defaultOrder is the provider priority for "auto": hosted models first, local last
var defaultOrder = []ProviderType{ProviderGemini, ProviderOpenAI, ProviderOllama}

type guardedProvider struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
}

// FallbackService implements Classifier by trying providers in priority order.
// Each provider sits behind its own circuit breaker.
type FallbackService struct {
	providers map[ProviderType]*guardedProvider
	preferred func() ProviderType
	logger    *logrus.Logger
}

// NewFallbackService creates a fallback service over the given providers.
// preferred may be nil, which means ProviderAuto.
func NewFallbackService(logger *logrus.Logger, preferred func() ProviderType, providers ...Provider) *FallbackService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if preferred == nil {
		preferred = func() ProviderType { return ProviderAuto }
	}

	f := &FallbackService{
		providers: make(map[ProviderType]*guardedProvider, len(providers)),
		preferred: preferred,
		logger:    logger,
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		name := p.Name()
		f.providers[ProviderType(name)] = &guardedProvider{
			provider: p,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        "ai-" + name,
				MaxRequests: halfOpenRequests,
				Interval:    60 * time.Second,
				Timeout:     breakerTimeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= 3
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					logger.WithFields(logrus.Fields{
						"breaker": name,
						"from":    from.String(),
						"to":      to.String(),
					}).Warn("[AI] Circuit breaker state changed")
				},
			}),
		}
	}
	return f
}

// Available lists configured providers in the order they would be tried
func (f *FallbackService) Available() []ProviderType {
	ordered := f.ordered()
	names := make([]ProviderType, 0, len(ordered))
	for _, p := range ordered {
		names = append(names, ProviderType(p.provider.Name()))
	}
	return names
}

func (f *FallbackService) ordered() []*guardedProvider {
	order := make([]ProviderType, 0, len(defaultOrder)+1)
	if first := f.preferred(); first != "" && first != ProviderAuto {
		order = append(order, first)
	}
	for _, name := range defaultOrder {
		if len(order) > 0 && order[0] == name {
			continue
		}
		order = append(order, name)
	}

	out := make([]*guardedProvider, 0, len(order))
	for _, name := range order {
		if p, ok := f.providers[name]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Classify generates and parses a classification with the first provider that succeeds.
// Unparseable output counts as a provider failure.
func (f *FallbackService) Classify(ctx context.Context, req ClassificationRequest) ([]ClassifiedMessage, error) {
	schema := req.Schema
	if schema == nil {
		schema = ClassificationSchema()
	}

	providers := f.ordered()
	if len(providers) == 0 {
		return nil, fmt.Errorf("no AI provider available for classification")
	}

	var errs []error
	for _, p := range providers {
		name := p.provider.Name()
		result, err := p.breaker.Execute(func() (interface{}, error) {
			text, err := p.provider.Generate(ctx, req.SystemInstructions, req.Prompt, schema)
			if err != nil {
				return nil, err
			}
			return ParseClassification(text)
		})
		if err == nil {
			f.logger.WithField("provider", name).Debug("[AI] Classification successful")
			return result.([]ClassifiedMessage), nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("classification aborted: %w", ctxErr)
		}

		entry := f.logger.WithError(err).WithField("provider", name)
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			entry.Debug("[AI] Provider circuit open, skipping")
		case isQuotaError(err):
			entry.Warn("[AI] Provider quota exhausted, falling back")
		case isConnectionError(err):
			entry.Warn("[AI] Provider connection failed, falling back")
		default:
			entry.Warn("[AI] Provider error, falling back")
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}

	return nil, fmt.Errorf("all AI providers failed: %w", errors.Join(errs...))
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	connectionIndicators := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"eof",
	}
	for _, indicator := range connectionIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	quotaIndicators := []string{
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
		"resource_exhausted",
	}
	for _, indicator := range quotaIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}
