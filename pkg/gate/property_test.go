//go:build property
// +build property

package gate

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/skillgate/skillgate/pkg/definition"
)

// The gate's contract: Missing is exactly requiredInputs minus the supplied
// non-empty attachments, for any attachment set whatsoever.
func TestCheck_SetDifferenceProperty(t *testing.T) {
	def, err := definition.Compile(definition.Metadata{
		ID:          "triage",
		Description: "Triage a failure report",
		Inputs: definition.Inputs{
			Required: []definition.Slot{
				{Name: "report", Purpose: "the failure report"},
				{Name: "log", Purpose: "the error log"},
				{Name: "env", Purpose: "the runtime environment"},
			},
			Optional: []definition.Slot{
				{Name: "hint", Purpose: "a suspected cause"},
			},
		},
	}, "{{.report}} {{.log}} {{.env}}", "triage.md")
	require.NoError(t, err)

	slotNames := []string{"report", "log", "env", "hint", "other"}

	genAttachments := gen.SliceOf(gopter.CombineGens(
		gen.IntRange(0, len(slotNames)-1),
		gen.AnyString(),
	).Map(func(values []interface{}) definition.Attachment {
		return definition.Attachment{
			Name:    slotNames[values[0].(int)],
			Content: values[1].(string),
		}
	}))

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("missing list is the required set-difference", prop.ForAll(
		func(atts []definition.Attachment) bool {
			res := Check(def, atts)

			// Last attachment per name wins; usable means non-empty after trim.
			usable := make(map[string]bool)
			for _, a := range atts {
				usable[a.Name] = strings.TrimSpace(a.Content) != ""
			}

			want := []string{}
			for _, slot := range def.Inputs.Required {
				if !usable[slot.Name] {
					want = append(want, slot.Name)
				}
			}

			got := res.MissingNames()
			if len(got) != len(want) {
				return false
			}
			for i := range want {
				if got[i] != want[i] {
					return false
				}
			}
			return res.Ready() == (len(want) == 0)
		},
		genAttachments,
	))

	properties.Property("every declared slot gets a presence flag", prop.ForAll(
		func(atts []definition.Attachment) bool {
			res := Check(def, atts)
			for _, slot := range def.Slots() {
				if _, ok := res.Present[slot.Name]; !ok {
					return false
				}
			}
			return true
		},
		genAttachments,
	))

	properties.TestingRun(t)
}
