package definition

import "strings"

// Attachment is an artifact supplied by the caller, tagged with the input
// slot name it fills. Kind is a free-form descriptor (diff, log, text) used
// for diagnostics only.
type Attachment struct {
	Name    string `json:"name"`
	Kind    string `json:"kind,omitempty"`
	Content string `json:"content"`
}

// Empty reports whether the attachment carries no usable content. A
// whitespace-only diff or log has the same evidential value as a missing
// one, so empty attachments count as not supplied.
func (a Attachment) Empty() bool {
	return strings.TrimSpace(a.Content) == ""
}

// Size returns the content length in bytes.
func (a Attachment) Size() int {
	return len(a.Content)
}
