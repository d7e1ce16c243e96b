//go:build property
// +build property

package matcher

import (
	"context"
	"reflect"
	"testing"
	"testing/fstest"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/skillgate/skillgate/pkg/catalog"
)

// Matching must be a pure function of the snapshot and inputs: repeated calls
// with arbitrary task text and attachment names return identical outcomes.
func TestMatch_DeterminismProperty(t *testing.T) {
	fsys := fstest.MapFS{
		"commit-message.md": doc(`id: commit-message
description: Draft a conventional commit message from a staged diff
triggers:
  invocations: [commit]
  keywords: [commit, message, staged]
inputs:
  required:
    - name: diff
      purpose: staged diff the message must describe
`, "{{.diff}}"),
		"code-review.md": doc(`id: code-review
description: Review a change and point out problems
triggers:
  invocations: [review]
  keywords: [review, feedback, code]
inputs:
  required:
    - name: diff
      purpose: the change under review
`, "{{.diff}}"),
	}
	cat, err := catalog.Load(context.Background(), fsys)
	require.NoError(t, err)

	m := New(DefaultConfig())

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated matches are identical", prop.ForAll(
		func(task string, attachments []string) bool {
			first := m.Match(cat, task, attachments)
			second := m.Match(cat, task, attachments)
			return reflect.DeepEqual(first, second)
		},
		gen.AnyString(),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("attachment order never changes the outcome", prop.ForAll(
		func(task string, attachments []string) bool {
			reversed := make([]string, len(attachments))
			for i, a := range attachments {
				reversed[len(attachments)-1-i] = a
			}
			return reflect.DeepEqual(m.Match(cat, task, attachments), m.Match(cat, task, reversed))
		},
		gen.AnyString(),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
