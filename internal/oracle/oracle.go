package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ghgmatch/core/internal/domain"
	ghgerrors "github.com/ghgmatch/core/internal/errors"
)

// maxMalformedRetries bounds the correction-prompt loop for schema
// violations on decide(). convert_unit() makes a single retry of its own.
const maxMalformedRetries = 3

// RateLimiter paces outgoing LLM calls; satisfied by
// *scheduler.RateLimiter's process-wide token bucket. A nil RateLimiter
// disables pacing (used in tests).
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Oracle is C4: it classifies rows against candidates and performs unit
// conversion, enforcing the JSON-schema contract and retry policy around a
// raw chat-completion Client. Every outgoing call, including correction and
// transport retries, first acquires a token from rateLimiter so pacing
// holds across every LLM call a job makes, not just once per row.
type Oracle struct {
	client       *Client
	rateLimiter  RateLimiter
	transportCfg ghgerrors.RetryConfig
	breaker      *ghgerrors.CircuitBreaker
}

// New builds an Oracle around an already-configured chat client and the
// shared rate limiter gating it. rateLimiter may be nil to disable pacing.
func New(client *Client, rateLimiter RateLimiter) *Oracle {
	return &Oracle{
		client:       client,
		rateLimiter:  rateLimiter,
		transportCfg: ghgerrors.DefaultRetryConfig(),
		breaker:      ghgerrors.NewCircuitBreaker("llm-oracle"),
	}
}

// Decide classifies an input+candidates tuple. allowDecompose=false omits
// the decompose option from the prompt and rejects it on parse, for
// component sub-calls which must never recurse.
func (o *Oracle) Decide(ctx context.Context, input domain.InputRow, candidates domain.CandidateSet, allowDecompose bool) (domain.Decision, error) {
	prompt := buildDecisionPrompt(input, candidates, allowDecompose)

	raw, err := o.completeWithTransportRetry(ctx, decisionSystemPrompt, prompt)
	if err != nil {
		return domain.Decision{}, ghgerrors.NewRowError(ghgerrors.KindLLMTransport, err)
	}

	decision, err := parseDecision(raw, candidates, allowDecompose)
	if err == nil {
		return decision, nil
	}

	for attempt := 0; attempt < maxMalformedRetries; attempt++ {
		correction := buildCorrectionPrompt(raw, err)
		raw, err = o.completeWithTransportRetry(ctx, decisionSystemPrompt, correction)
		if err != nil {
			return domain.Decision{}, ghgerrors.NewRowError(ghgerrors.KindLLMTransport, err)
		}
		decision, err = parseDecision(raw, candidates, allowDecompose)
		if err == nil {
			return decision, nil
		}
	}

	if decision.Type == domain.DecisionDecompose {
		return domain.Decision{}, ghgerrors.NewRowError(ghgerrors.KindDecompositionInvalid, err)
	}
	return domain.Decision{}, ghgerrors.NewRowError(ghgerrors.KindLLMMalformed, err)
}

// parseDecision parses and validates one raw response, returning a
// best-effort Decision even on validation failure so the caller can tell
// decompose-shaped failures (which map to DecompositionInvalid) apart from
// everything else (which maps to LLMMalformed).
func parseDecision(raw string, candidates domain.CandidateSet, allowDecompose bool) (domain.Decision, error) {
	var resp decisionResponse
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &resp); err != nil {
		return domain.Decision{}, fmt.Errorf("parse decision response: %w", err)
	}
	decision, err := toDecision(resp, candidates, allowDecompose)
	if err != nil {
		return domain.Decision{Type: decisionTypeOf(resp, allowDecompose)}, err
	}
	return decision, nil
}

// decisionTypeOf reports the decision type a failed parse was attempting,
// so the caller can route decompose-shaped failures to DecompositionInvalid.
// A "decompose" type returned while allowDecompose is false is itself a
// malformed response, not a decompose attempt, so it's reported as unknown.
func decisionTypeOf(resp decisionResponse, allowDecompose bool) domain.DecisionType {
	switch resp.Type {
	case "match":
		return domain.DecisionMatch
	case "ambiguous":
		return domain.DecisionAmbiguous
	case "decompose":
		if !allowDecompose {
			return ""
		}
		return domain.DecisionDecompose
	default:
		return ""
	}
}

// ConvertUnit returns q such that "1 from_unit of description equals q
// to_unit". One retry on a rejected response, then UnitConversionFailed.
func (o *Oracle) ConvertUnit(ctx context.Context, description, fromUnit, toUnit string) (float64, error) {
	prompt := buildConversionPrompt(description, fromUnit, toUnit)

	raw, err := o.completeWithTransportRetry(ctx, conversionSystemPrompt, prompt)
	if err != nil {
		return 0, ghgerrors.NewRowError(ghgerrors.KindLLMTransport, err)
	}

	q, err := parseConversion(raw)
	if err == nil {
		return q, nil
	}

	raw, err = o.completeWithTransportRetry(ctx, conversionSystemPrompt, buildCorrectionPrompt(raw, err))
	if err != nil {
		return 0, ghgerrors.NewRowError(ghgerrors.KindLLMTransport, err)
	}
	q, err = parseConversion(raw)
	if err != nil {
		return 0, ghgerrors.NewRowError(ghgerrors.KindUnitConversionFailed, err)
	}
	return q, nil
}

func parseConversion(raw string) (float64, error) {
	var resp conversionResponse
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &resp); err != nil {
		return 0, fmt.Errorf("parse conversion response: %w", err)
	}
	return validateConversion(resp)
}

// completeWithTransportRetry runs one chat completion through the circuit
// breaker and the transport retry policy (exponential backoff, up to 5
// retries after the first attempt) — only network errors, timeouts and 5xx/429 responses count as
// retryable transport errors; a malformed response envelope surfaces
// immediately since retrying it would not change the outcome.
func (o *Oracle) completeWithTransportRetry(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return ghgerrors.CircuitExecuteWithResult(o.breaker, func() (string, error) {
		delay := o.transportCfg.InitialDelay
		var lastErr error

		for attempt := 0; attempt <= o.transportCfg.MaxRetries; attempt++ {
			if o.rateLimiter != nil {
				if err := o.rateLimiter.Wait(ctx); err != nil {
					return "", err
				}
			}

			resp, err := o.client.complete(ctx, systemPrompt, userPrompt)
			if err == nil {
				return resp, nil
			}

			var te *transportError
			if !errors.As(err, &te) {
				return "", err
			}
			lastErr = err

			if attempt >= o.transportCfg.MaxRetries {
				break
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * o.transportCfg.Multiplier)
			if delay > o.transportCfg.MaxDelay {
				delay = o.transportCfg.MaxDelay
			}
		}
		return "", fmt.Errorf("failed after %d retries: %w", o.transportCfg.MaxRetries, lastErr)
	})
}

// RequestTimeoutDefault is the fallback per-call LLM timeout when config
// does not specify one.
const RequestTimeoutDefault = 60 * time.Second
