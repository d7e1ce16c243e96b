// Package generator abstracts the model backends that turn an assembled
// instruction into a response. Adapters cover the Anthropic, OpenAI and
// Google APIs, plus a scripted in-process generator for tests and dry runs.
// Adapters are stateless per request: one instruction in, one response out,
// with no conversation history carried between calls.
package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Provider names accepted by New.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderStatic    = "static"
)

// DefaultMaxTokens caps the response when neither the config nor the request
// sets a limit.
const DefaultMaxTokens = 8192

// Request is one generation call: the fully assembled instruction, an
// optional per-call model override and the response token budget.
type Request struct {
	Instruction string
	Model       string
	MaxTokens   int
}

// Generator produces a response for an assembled instruction.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Provider() string
}

// Config selects and tunes a backend.
type Config struct {
	Provider  string
	Model     string
	MaxTokens int
}

// New builds the generator for cfg.Provider. An empty provider defaults to
// Anthropic, matching the rest of the configuration surface.
func New(ctx context.Context, cfg Config) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderAnthropic:
		return NewAnthropic(cfg), nil
	case ProviderOpenAI:
		return NewOpenAI(cfg)
	case ProviderGoogle:
		return NewGoogle(ctx, cfg)
	case ProviderStatic:
		return NewStatic(), nil
	default:
		return nil, errors.Errorf("unknown generator provider %q (want %s, %s, %s or %s)",
			cfg.Provider, ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderStatic)
	}
}

// Func adapts a plain function to the Generator interface.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

func (f Func) Provider() string { return "func" }

// TimeoutError reports that a backend did not answer inside its window. The
// invocation is rejected rather than retried: a second identical call is as
// likely to stall again.
type TimeoutError struct {
	Provider string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s generator timed out after %s", e.Provider, e.Timeout)
}

// UnavailableError reports a backend failure unrelated to the instruction
// content: auth, network, quota.
type UnavailableError struct {
	Provider string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s generator unavailable: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// budget resolves the effective token cap for a request.
func budget(reqTokens, cfgTokens int) int {
	if reqTokens > 0 {
		return reqTokens
	}
	if cfgTokens > 0 {
		return cfgTokens
	}
	return DefaultMaxTokens
}

// pick resolves the effective model for a request.
func pick(reqModel, cfgModel string) string {
	if reqModel != "" {
		return reqModel
	}
	return cfgModel
}
