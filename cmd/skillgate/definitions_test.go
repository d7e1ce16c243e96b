package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testListOutput(format OutputFormat) *DefinitionListOutput {
	return &DefinitionListOutput{
		Generation:  3,
		Fingerprint: "sha256:abcdef",
		Format:      format,
		Definitions: []DefinitionRowOutput{
			{
				ID:          "commit-message",
				Description: "Draft a conventional commit message from a staged diff",
				Invocations: []string{"commit"},
				Keywords:    []string{"commit", "message"},
				Required:    []string{"diff"},
				Path:        "commit-message.md",
			},
			{
				ID:          "release-notes",
				Description: "Summarize merged changes into release notes",
				Keywords:    []string{"release", "changelog"},
				Path:        "release-notes.md",
			},
		},
	}
}

func TestDefinitionListOutput_RenderTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, testListOutput(TableFormat).Render(&buf))

	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4, "header, separator, and one line per definition")

	assert.Contains(t, lines[0], "ID")
	assert.Contains(t, lines[0], "Description")
	assert.Contains(t, out, "commit-message")
	assert.Contains(t, out, "commit,message")
	assert.Contains(t, out, "diff")
	assert.Contains(t, out, "release-notes")
}

func TestDefinitionListOutput_RenderTableTruncatesDescriptions(t *testing.T) {
	output := testListOutput(TableFormat)
	output.Definitions[0].Description = strings.Repeat("summarize the incident timeline ", 5)

	var buf bytes.Buffer
	require.NoError(t, output.Render(&buf))

	assert.Contains(t, buf.String(), "...")
	assert.NotContains(t, buf.String(), output.Definitions[0].Description)
}

func TestDefinitionListOutput_RenderJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, testListOutput(JSONFormat).Render(&buf))

	var decoded struct {
		Generation  uint64                `json:"generation"`
		Fingerprint string                `json:"fingerprint"`
		Definitions []DefinitionRowOutput `json:"definitions"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	assert.Equal(t, uint64(3), decoded.Generation)
	assert.Equal(t, "sha256:abcdef", decoded.Fingerprint)
	require.Len(t, decoded.Definitions, 2)
	assert.Equal(t, "commit-message", decoded.Definitions[0].ID)
	assert.Equal(t, []string{"diff"}, decoded.Definitions[0].Required)
}
