package engine

import (
	"context"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillgate/skillgate/pkg/catalog"
	"github.com/skillgate/skillgate/pkg/contract"
	"github.com/skillgate/skillgate/pkg/definition"
	"github.com/skillgate/skillgate/pkg/generator"
	"github.com/skillgate/skillgate/pkg/matcher"
)

func doc(frontmatter, body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte("---\n" + frontmatter + "---\n" + body + "\n")}
}

func engineFS() fstest.MapFS {
	return fstest.MapFS{
		"report.md": doc(`id: report
description: Draft a status report from raw notes
triggers:
  invocations: [report]
  keywords: [status, report]
inputs:
  required:
    - name: notes
      purpose: raw notes the report is built from
output:
  sections:
    - heading: Summary
      required: true
    - heading: Details
      required: true
  forbidden:
    - name: no-secrets
      description: credential material must never appear
      pattern: 'password\s*=\s*\S+'
guardrails:
  - Only state facts present in the notes.
`, "Draft a status report from these notes:\n\n{{.notes}}"),
		"alpha-notes.md": doc(`id: alpha-notes
description: Turn a meeting transcript into notes for team alpha
triggers:
  keywords: [meeting, notes]
`, "Alpha notes body"),
		"beta-notes.md": doc(`id: beta-notes
description: Turn a meeting transcript into notes for team beta
triggers:
  keywords: [meeting, notes]
`, "Beta notes body"),
	}
}

func testStore(t *testing.T) *catalog.Store {
	t.Helper()
	store := catalog.NewStore()
	_, err := store.Reload(context.Background(), engineFS())
	require.NoError(t, err)
	return store
}

func notesAttachment() []definition.Attachment {
	return []definition.Attachment{{Name: "notes", Content: "deployed v2, fixed the login bug"}}
}

const goodResponse = "## Summary\n\nShipped v2.\n\n## Details\n\nThe login bug is fixed.\n"
const missingDetails = "## Summary\n\nShipped v2, details to follow.\n"

type captureRecorder struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (r *captureRecorder) Record(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *captureRecorder) all() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func TestSubmit_BeforeFirstLoad(t *testing.T) {
	eng := New(catalog.NewStore(), generator.NewStatic())

	_, err := eng.Submit(context.Background(), Request{TaskText: "report"})
	require.ErrorIs(t, err, ErrNotReady)
}

func TestSubmit_Success(t *testing.T) {
	gen := generator.NewStatic(goodResponse)
	eng := New(testStore(t), gen)

	res, err := eng.Submit(context.Background(), Request{
		TaskText:    "report",
		Attachments: notesAttachment(),
	})
	require.NoError(t, err)

	assert.Equal(t, KindSuccess, res.Kind)
	assert.Equal(t, goodResponse, res.Response)
	assert.Equal(t, StatusValidated, res.Invocation.Status)
	assert.Equal(t, "report", res.Invocation.Definition)
	assert.Equal(t, 1, res.Invocation.Attempts)
	assert.NotEmpty(t, res.Invocation.ID)

	reqs := gen.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Instruction, "deployed v2, fixed the login bug")
	assert.Contains(t, reqs[0].Instruction, "Hard constraints, non-negotiable:")
}

func TestSubmit_MissingInputStopsBeforeGeneration(t *testing.T) {
	gen := generator.NewStatic(goodResponse)
	eng := New(testStore(t), gen)

	res, err := eng.Submit(context.Background(), Request{TaskText: "report"})
	require.NoError(t, err)

	assert.Equal(t, KindNeedsInput, res.Kind)
	assert.Equal(t, StatusAwaitingInput, res.Invocation.Status)
	require.Len(t, res.Missing, 1)
	assert.Equal(t, "notes", res.Missing[0].Name)
	assert.Equal(t, "raw notes the report is built from", res.Missing[0].Purpose)
	assert.Empty(t, gen.Requests(), "gate failure must not reach the generator")
}

func TestSubmit_AmbiguousReturnsCandidates(t *testing.T) {
	eng := New(testStore(t), generator.NewStatic())

	res, err := eng.Submit(context.Background(), Request{TaskText: "turn the meeting into notes"})
	require.NoError(t, err)

	assert.Equal(t, KindNeedsDisambiguation, res.Kind)
	assert.Equal(t, StatusUnresolved, res.Invocation.Status)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "alpha-notes", res.Candidates[0].ID, "ties break by id")
	assert.Equal(t, "beta-notes", res.Candidates[1].ID)
	assert.NotEmpty(t, res.Candidates[0].Description)
}

func TestSubmit_NoMatch(t *testing.T) {
	eng := New(testStore(t), generator.NewStatic())

	res, err := eng.Submit(context.Background(), Request{TaskText: "fold the laundry"})
	require.NoError(t, err)

	assert.Equal(t, KindFailure, res.Kind)
	assert.Equal(t, StatusRejected, res.Invocation.Status)

	var nmErr *matcher.NoMatchError
	require.ErrorAs(t, res.Err, &nmErr)
	assert.Contains(t, res.Reason, "below the confidence floor")
}

// A response missing a declared section triggers exactly one targeted
// regeneration naming the failed section, and the second, fixed response
// passes.
func TestSubmit_RetriesContractViolationOnce(t *testing.T) {
	gen := generator.NewStatic(missingDetails, goodResponse)
	eng := New(testStore(t), gen)

	res, err := eng.Submit(context.Background(), Request{
		TaskText:    "report",
		Attachments: notesAttachment(),
	})
	require.NoError(t, err)

	assert.Equal(t, KindSuccess, res.Kind)
	assert.Equal(t, StatusValidated, res.Invocation.Status)
	assert.Equal(t, 2, res.Invocation.Attempts)

	reqs := gen.Requests()
	require.Len(t, reqs, 2)
	assert.NotContains(t, reqs[0].Instruction, "violated its output contract")
	assert.Contains(t, reqs[1].Instruction, "Your previous response violated its output contract")
	assert.Contains(t, reqs[1].Instruction, "missing section: Details")
	assert.Contains(t, reqs[1].Instruction, "Draft a status report", "retry keeps the original payload")
}

func TestSubmit_RejectsWhenRetryBudgetExhausted(t *testing.T) {
	gen := generator.NewStatic(missingDetails, missingDetails, missingDetails)
	eng := New(testStore(t), gen)

	res, err := eng.Submit(context.Background(), Request{
		TaskText:    "report",
		Attachments: notesAttachment(),
	})
	require.NoError(t, err)

	assert.Equal(t, KindFailure, res.Kind)
	assert.Equal(t, StatusRejected, res.Invocation.Status)
	assert.Equal(t, 3, res.Invocation.Attempts)
	assert.Contains(t, res.Reason, "after 3 attempt(s)")

	require.NotEmpty(t, res.Violations)
	assert.Equal(t, contract.ViolationMissingSection, res.Violations[0].Kind)
	assert.Equal(t, "Details", res.Violations[0].Subject)

	var verr *contract.ViolationError
	require.ErrorAs(t, res.Err, &verr)
	assert.Len(t, gen.Requests(), 3)
}

// The retry instruction names the fired predicate but never echoes the
// matched content; it may be exactly the secret the predicate guards.
func TestSubmit_ForbiddenContentRetryNeverEchoesMatch(t *testing.T) {
	leaking := "## Summary\n\nUse password = hunter2 to log in.\n\n## Details\n\nDone.\n"
	gen := generator.NewStatic(leaking, goodResponse)
	eng := New(testStore(t), gen)

	res, err := eng.Submit(context.Background(), Request{
		TaskText:    "report",
		Attachments: notesAttachment(),
	})
	require.NoError(t, err)
	assert.Equal(t, KindSuccess, res.Kind)

	reqs := gen.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].Instruction, "no-secrets")
	assert.Contains(t, reqs[1].Instruction, "credential material must never appear")
	assert.NotContains(t, reqs[1].Instruction, "hunter2")
}

func TestSubmit_GeneratorTimeoutRejectsWithoutRetry(t *testing.T) {
	stalled := generator.Func(func(ctx context.Context, _ generator.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	cfg := DefaultConfig()
	cfg.GeneratorTimeout = 20 * time.Millisecond
	eng := New(testStore(t), stalled, WithConfig(cfg))

	res, err := eng.Submit(context.Background(), Request{
		TaskText:    "report",
		Attachments: notesAttachment(),
	})
	require.NoError(t, err)

	assert.Equal(t, KindFailure, res.Kind)
	assert.Equal(t, StatusRejected, res.Invocation.Status)
	assert.Equal(t, 1, res.Invocation.Attempts, "timeouts are not retried")

	var tErr *generator.TimeoutError
	require.ErrorAs(t, res.Err, &tErr)
	assert.Equal(t, 20*time.Millisecond, tErr.Timeout)
}

func TestSubmit_GeneratorUnavailableRejects(t *testing.T) {
	down := generator.Func(func(context.Context, generator.Request) (string, error) {
		return "", errors.New("connection refused")
	})
	eng := New(testStore(t), down)

	res, err := eng.Submit(context.Background(), Request{
		TaskText:    "report",
		Attachments: notesAttachment(),
	})
	require.NoError(t, err)

	assert.Equal(t, KindFailure, res.Kind)
	assert.Equal(t, 1, res.Invocation.Attempts)

	var uErr *generator.UnavailableError
	require.ErrorAs(t, res.Err, &uErr)
	assert.Contains(t, uErr.Error(), "connection refused")
}

func TestSubmit_CancelledBeforeStart(t *testing.T) {
	eng := New(testStore(t), generator.NewStatic(goodResponse))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Submit(ctx, Request{TaskText: "report", Attachments: notesAttachment()})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSubmit_CancelledMidGeneration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	abandoned := generator.Func(func(genCtx context.Context, _ generator.Request) (string, error) {
		cancel()
		<-genCtx.Done()
		return "", genCtx.Err()
	})
	eng := New(testStore(t), abandoned)

	res, err := eng.Submit(ctx, Request{TaskText: "report", Attachments: notesAttachment()})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res, "cancellation is an error, not an outcome")
}

func TestSubmit_RecordsEveryOutcomeToJournal(t *testing.T) {
	rec := &captureRecorder{}
	gen := generator.NewStatic(goodResponse)
	eng := New(testStore(t), gen, WithJournal(rec))
	ctx := context.Background()

	success, err := eng.Submit(ctx, Request{TaskText: "report", Attachments: notesAttachment()})
	require.NoError(t, err)
	_, err = eng.Submit(ctx, Request{TaskText: "report"})
	require.NoError(t, err)

	entries := rec.all()
	require.Len(t, entries, 2)

	assert.Equal(t, success.Invocation.ID, entries[0].InvocationID)
	assert.Equal(t, KindSuccess, entries[0].Kind)
	assert.Equal(t, StatusValidated, entries[0].Status)
	assert.Equal(t, "report", entries[0].Definition)
	assert.Equal(t, 1, entries[0].Attempts)
	assert.False(t, entries[0].CreatedAt.IsZero())

	assert.Equal(t, KindNeedsInput, entries[1].Kind)
	assert.Equal(t, StatusAwaitingInput, entries[1].Status)
}

func TestSubmit_JournalFailureIsNotFatal(t *testing.T) {
	rec := &captureRecorder{err: errors.New("disk full")}
	eng := New(testStore(t), generator.NewStatic(goodResponse), WithJournal(rec))

	res, err := eng.Submit(context.Background(), Request{
		TaskText:    "report",
		Attachments: notesAttachment(),
	})
	require.NoError(t, err)
	assert.Equal(t, KindSuccess, res.Kind)
}

func TestReload_NextSubmitSeesNewCorpus(t *testing.T) {
	store := testStore(t)
	eng := New(store, generator.NewStatic(goodResponse, goodResponse))
	ctx := context.Background()

	res, err := eng.Submit(ctx, Request{TaskText: "summarize the sprint"})
	require.NoError(t, err)
	assert.Equal(t, KindFailure, res.Kind)

	fsys := engineFS()
	fsys["sprint.md"] = doc(`id: sprint-summary
description: Summarize the sprint for stakeholders
triggers:
  invocations: [sprint]
  keywords: [summarize, sprint]
`, "Summarize the sprint.")
	_, err = eng.Reload(ctx, fsys)
	require.NoError(t, err)

	res, err = eng.Submit(ctx, Request{TaskText: "summarize the sprint"})
	require.NoError(t, err)
	assert.Equal(t, KindSuccess, res.Kind)
	assert.Equal(t, "sprint-summary", res.Invocation.Definition)
}
