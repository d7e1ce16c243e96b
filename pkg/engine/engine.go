// Package engine orchestrates one invocation end to end: match the task to a
// definition, gate it on required inputs, assemble the instruction, call the
// generator and validate the response against the definition's output
// contract. Every submit runs against the catalog snapshot taken at entry,
// so concurrent reloads never shift the ground under an in-flight request.
package engine

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/skillgate/skillgate/pkg/assembler"
	"github.com/skillgate/skillgate/pkg/catalog"
	"github.com/skillgate/skillgate/pkg/contract"
	"github.com/skillgate/skillgate/pkg/definition"
	"github.com/skillgate/skillgate/pkg/gate"
	"github.com/skillgate/skillgate/pkg/generator"
	"github.com/skillgate/skillgate/pkg/logger"
	"github.com/skillgate/skillgate/pkg/matcher"
	"github.com/skillgate/skillgate/pkg/telemetry"
)

// ErrNotReady is returned by Submit before the first successful corpus load.
var ErrNotReady = errors.New("no catalog loaded; load or reload a corpus first")

// Config tunes the pipeline.
type Config struct {
	Matcher matcher.Config
	// GeneratorTimeout bounds each individual generate call. On timeout the
	// invocation is rejected, not retried: a second identical call is as
	// likely to stall again.
	GeneratorTimeout time.Duration
	// MaxAttempts is the total generate budget per invocation, counting the
	// first attempt. Only contract violations consume retries.
	MaxAttempts int
	// MaxTokens caps each generated response.
	MaxTokens int
}

// DefaultConfig returns the stock tuning: two retries on top of the first
// attempt, one minute per generate call.
func DefaultConfig() Config {
	return Config{
		Matcher:          matcher.DefaultConfig(),
		GeneratorTimeout: 60 * time.Second,
		MaxAttempts:      3,
		MaxTokens:        generator.DefaultMaxTokens,
	}
}

// Validate checks the config for values that would break the pipeline.
func (c Config) Validate() error {
	if c.GeneratorTimeout <= 0 {
		return errors.Errorf("generator timeout must be positive, got %s", c.GeneratorTimeout)
	}
	if c.MaxAttempts < 1 {
		return errors.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	return c.Matcher.Validate()
}

// Request is one task submission.
type Request struct {
	TaskText    string                  `json:"task_text"`
	Attachments []definition.Attachment `json:"attachments,omitempty"`
}

// Entry is the journal record for one finished submit.
type Entry struct {
	InvocationID string
	TaskText     string
	Definition   string
	Kind         Kind
	Status       Status
	Attempts     int
	Reason       string
	Violations   []contract.Violation
	Elapsed      time.Duration
	CreatedAt    time.Time
}

// Recorder persists finished invocations. Implementations must be safe for
// concurrent use; recording failures are logged, never surfaced to callers.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Engine runs the resolution pipeline. Safe for concurrent use.
type Engine struct {
	store   *catalog.Store
	gen     generator.Generator
	cfg     Config
	matcher *matcher.Matcher
	journal Recorder
	tracer  trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default tuning.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithJournal enables invocation journaling.
func WithJournal(rec Recorder) Option {
	return func(e *Engine) { e.journal = rec }
}

// WithTracer overrides the tracer used for pipeline spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New creates an engine serving from store and generating through gen.
func New(store *catalog.Store, gen generator.Generator, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		gen:    gen,
		cfg:    DefaultConfig(),
		tracer: telemetry.Tracer(""),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.matcher = matcher.New(e.cfg.Matcher)
	return e
}

// Store exposes the catalog store for deployment wrappers (watcher, server).
func (e *Engine) Store() *catalog.Store {
	return e.store
}

// Reload loads the corpus from fsys and swaps it in. A failed reload leaves
// the serving catalog untouched and reports every violation found.
func (e *Engine) Reload(ctx context.Context, fsys fs.FS) (*catalog.Catalog, error) {
	return e.store.Reload(ctx, fsys)
}

// Submit runs one task through the pipeline. First-class outcomes, including
// rejections, come back as a Result; the error return is reserved for caller
// cancellation and an unloaded catalog.
func (e *Engine) Submit(ctx context.Context, req Request) (*Result, error) {
	snap := e.store.Snapshot()
	if snap == nil {
		return nil, ErrNotReady
	}

	inv := newInvocation()
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "engine.submit", trace.WithAttributes(
		attribute.String("invocation.id", inv.ID),
		attribute.Int64("catalog.generation", int64(snap.Generation())),
	))
	defer span.End()

	ctx = logger.WithLogger(ctx, logger.G(ctx).WithFields(logrus.Fields{
		"invocation_id":      inv.ID,
		"catalog_generation": snap.Generation(),
	}))

	res, err := e.run(ctx, snap, inv, req)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("result.kind", string(res.Kind)),
		attribute.String("invocation.status", string(res.Invocation.Status)),
		attribute.Int("invocation.attempts", res.Invocation.Attempts),
	)
	e.record(ctx, req, res, time.Since(start))
	return res, nil
}

func (e *Engine) run(ctx context.Context, snap *catalog.Catalog, inv *Invocation, req Request) (*Result, error) {
	log := logger.G(ctx)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		names = append(names, a.Name)
	}

	_, matchSpan := e.tracer.Start(ctx, "engine.match")
	outcome := e.matcher.Match(snap, req.TaskText, names)
	matchSpan.SetAttributes(
		attribute.String("decision", string(outcome.Decision)),
		attribute.Int("best_score", outcome.BestScore),
	)
	matchSpan.End()

	switch outcome.Decision {
	case matcher.NoMatch:
		inv.to(StatusRejected)
		log.WithField("best_score", outcome.BestScore).Info("no definition matched")
		return failure(inv, &matcher.NoMatchError{Floor: e.cfg.Matcher.Floor, BestScore: outcome.BestScore}), nil
	case matcher.Ambiguous:
		log.WithField("candidates", len(outcome.Candidates)).Info("match ambiguous, asking caller to pick")
		return &Result{Kind: KindNeedsDisambiguation, Invocation: *inv, Candidates: outcome.Candidates}, nil
	}

	def := outcome.Best
	inv.Definition = def.ID
	inv.to(StatusGated)
	log = log.WithField("definition", def.ID)
	ctx = logger.WithLogger(ctx, log)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, gateSpan := e.tracer.Start(ctx, "engine.gate")
	gres := gate.Check(def, req.Attachments)
	gateSpan.SetAttributes(attribute.Int("missing", len(gres.Missing)))
	gateSpan.End()

	if len(gres.Unknown) > 0 {
		log.WithField("attachments", gres.Unknown).Warn("attachments match no declared input")
	}
	if !gres.Ready() {
		inv.to(StatusAwaitingInput)
		log.WithField("missing", gate.Describe(gres.Missing)).Info("required inputs missing, asking instead of guessing")
		return &Result{Kind: KindNeedsInput, Invocation: *inv, Missing: gres.Missing}, nil
	}
	inv.to(StatusReady)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, asmSpan := e.tracer.Start(ctx, "engine.assemble")
	payload, err := assembler.Assemble(def, gres.Bound, gres.Present)
	asmSpan.End()
	if err != nil {
		inv.to(StatusRejected)
		return failure(inv, errors.Wrap(err, "assembling instruction")), nil
	}
	inv.to(StatusAssembled)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.generateAndValidate(ctx, inv, def, payload)
}

// generateAndValidate runs the bounded generate-validate loop. Only contract
// violations are retried, each time with the payload extended by a targeted
// fix-up instruction; generator timeouts and failures reject immediately.
func (e *Engine) generateAndValidate(ctx context.Context, inv *Invocation, def *definition.Definition, payload string) (*Result, error) {
	log := logger.G(ctx)
	instruction := payload
	var response string

	attempt := func() error {
		inv.Attempts++
		genCtx, cancel := context.WithTimeout(ctx, e.cfg.GeneratorTimeout)
		defer cancel()

		genCtx, span := e.tracer.Start(genCtx, "engine.generate", trace.WithAttributes(
			attribute.Int("attempt", inv.Attempts),
			attribute.String("provider", e.gen.Provider()),
		))
		defer span.End()

		out, err := e.gen.Generate(genCtx, generator.Request{
			Instruction: instruction,
			MaxTokens:   e.cfg.MaxTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if genCtx.Err() == context.DeadlineExceeded {
				return &generator.TimeoutError{Provider: e.gen.Provider(), Timeout: e.cfg.GeneratorTimeout}
			}
			return &generator.UnavailableError{Provider: e.gen.Provider(), Err: err}
		}

		if violations := def.Contract().Validate(out); len(violations) > 0 {
			instruction = payload + "\n\n" + contract.RetryInstruction(violations)
			return &contract.ViolationError{Violations: violations}
		}
		response = out
		return nil
	}

	err := retry.Do(attempt,
		retry.RetryIf(func(err error) bool {
			var verr *contract.ViolationError
			return errors.As(err, &verr)
		}),
		retry.Attempts(uint(e.cfg.MaxAttempts)),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(0),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			inv.to(StatusRetryRequested)
			log.WithError(err).WithFields(logrus.Fields{
				"attempt":      n + 1,
				"max_attempts": e.cfg.MaxAttempts,
			}).Warn("response violated its contract, regenerating with targeted instruction")
		}),
	)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		inv.to(StatusRejected)

		var verr *contract.ViolationError
		if errors.As(err, &verr) {
			res := failure(inv, verr)
			res.Violations = verr.Violations
			res.Reason = fmt.Sprintf("response violated its output contract after %d attempt(s)", inv.Attempts)
			log.WithField("violations", len(verr.Violations)).Info("retry budget exhausted, invocation rejected")
			return res, nil
		}

		log.WithError(err).Warn("generator failed, invocation rejected")
		return failure(inv, err), nil
	}

	inv.to(StatusValidated)
	log.WithField("attempts", inv.Attempts).Info("response validated")
	return &Result{Kind: KindSuccess, Invocation: *inv, Response: response}, nil
}

// record writes the journal entry for a finished submit, when a journal is
// configured. Journal trouble never fails the invocation.
func (e *Engine) record(ctx context.Context, req Request, res *Result, elapsed time.Duration) {
	if e.journal == nil {
		return
	}
	entry := Entry{
		InvocationID: res.Invocation.ID,
		TaskText:     req.TaskText,
		Definition:   res.Invocation.Definition,
		Kind:         res.Kind,
		Status:       res.Invocation.Status,
		Attempts:     res.Invocation.Attempts,
		Reason:       res.Reason,
		Violations:   res.Violations,
		Elapsed:      elapsed,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.journal.Record(ctx, entry); err != nil {
		logger.G(ctx).WithError(err).Warn("journal record failed")
	}
}
