// Package catalog loads definition documents into an immutable, indexed
// catalog and serves it behind an atomically swapped snapshot. A load is all
// or nothing: one malformed definition rejects the whole corpus, and every
// violation is reported in a single pass so authors fix the corpus once.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/skillgate/skillgate/pkg/definition"
)

// Catalog is the immutable per-generation collection of definitions, indexed
// by id and by denormalized trigger signals. Safe for unlimited concurrent
// readers; a reload builds a whole new Catalog and swaps the Store pointer.
type Catalog struct {
	generation  uint64
	fingerprint string

	defs        map[string]*definition.Definition
	ids         []string
	invocations map[string]string
	keywords    map[string][]string
}

// Generation returns the monotonically increasing load generation. The first
// catalog a Store serves has generation 1.
func (c *Catalog) Generation() uint64 {
	return c.generation
}

// Fingerprint is a sha256 over the canonical serialization of every
// definition. Reloading an unchanged corpus yields an identical fingerprint.
func (c *Catalog) Fingerprint() string {
	return c.fingerprint
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// Definition looks a definition up by id.
func (c *Catalog) Definition(id string) (*definition.Definition, bool) {
	d, ok := c.defs[id]
	return d, ok
}

// Definitions returns all definitions in id-lexical order.
func (c *Catalog) Definitions() []*definition.Definition {
	out := make([]*definition.Definition, len(c.ids))
	for i, id := range c.ids {
		out[i] = c.defs[id]
	}
	return out
}

// IDs returns all definition ids in lexical order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// ByInvocation resolves an explicit invocation name (case-insensitive).
func (c *Catalog) ByInvocation(name string) (*definition.Definition, bool) {
	id, ok := c.invocations[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	return c.defs[id], true
}

// Keywords returns the deduplicated, lowercased declared keywords of a
// definition, or nil when it declares none.
func (c *Catalog) Keywords(id string) []string {
	return c.keywords[id]
}

// build assembles the indexes from compiled definitions. Cross-definition
// invariants (unique ids, unique invocation names) are the loader's job;
// build assumes they hold.
func build(defs []*definition.Definition, generation uint64) *Catalog {
	c := &Catalog{
		generation:  generation,
		defs:        make(map[string]*definition.Definition, len(defs)),
		ids:         make([]string, 0, len(defs)),
		invocations: make(map[string]string),
		keywords:    make(map[string][]string, len(defs)),
	}

	for _, d := range defs {
		c.defs[d.ID] = d
		c.ids = append(c.ids, d.ID)

		for _, name := range d.Triggers.Invocations {
			c.invocations[strings.ToLower(strings.TrimSpace(name))] = d.ID
		}

		seen := make(map[string]bool, len(d.Triggers.Keywords))
		var lowered []string
		for _, kw := range d.Triggers.Keywords {
			k := strings.ToLower(strings.TrimSpace(kw))
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			lowered = append(lowered, k)
		}
		if len(lowered) > 0 {
			c.keywords[d.ID] = lowered
		}
	}

	sort.Strings(c.ids)
	c.fingerprint = fingerprint(c)
	return c
}

func fingerprint(c *Catalog) string {
	h := sha256.New()
	for _, id := range c.ids {
		d := c.defs[id]
		fmt.Fprintf(h, "%s\n", d.ID)
		raw, err := json.Marshal(d.Metadata)
		if err == nil {
			h.Write(raw)
		}
		h.Write([]byte{0})
		io.WriteString(h, d.Body)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
