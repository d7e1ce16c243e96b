// Package contract declares and validates output contracts: the ordered
// section outline a generated response must carry and the forbidden-content
// predicates it must not trip. Contracts are compiled once at corpus load
// time; validation of a response is pure and allocation-light.
package contract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"github.com/google/cel-go/cel"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Section is one named section of the declared response outline.
type Section struct {
	Heading  string `mapstructure:"heading" json:"heading" yaml:"heading" jsonschema:"required,description=Markdown heading text identifying this section"`
	Required bool   `mapstructure:"required" json:"required" yaml:"required" jsonschema:"description=Whether the response must contain this section"`
}

// Predicate is one forbidden-content rule. Exactly one of Pattern (Go
// regexp), Glob (matched against whitespace-delimited tokens) or CEL (a
// boolean expression over the string variable `response`) must be set; the
// predicate fires when its rule matches the response.
type Predicate struct {
	Name        string `mapstructure:"name" json:"name" yaml:"name" jsonschema:"required,description=Stable identifier for the rule"`
	Description string `mapstructure:"description" json:"description,omitempty" yaml:"description,omitempty" jsonschema:"description=Human-readable statement of what must not appear"`
	Pattern     string `mapstructure:"pattern" json:"pattern,omitempty" yaml:"pattern,omitempty" jsonschema:"description=Go regular expression"`
	Glob        string `mapstructure:"glob" json:"glob,omitempty" yaml:"glob,omitempty" jsonschema:"description=Glob matched against each whitespace-delimited token"`
	CEL         string `mapstructure:"cel" json:"cel,omitempty" yaml:"cel,omitempty" jsonschema:"description=CEL boolean expression over the variable 'response'"`
}

// Spec is the declared (file-format) form of an output contract.
type Spec struct {
	Sections  []Section   `mapstructure:"sections" json:"sections,omitempty" yaml:"sections,omitempty"`
	Forbidden []Predicate `mapstructure:"forbidden" json:"forbidden,omitempty" yaml:"forbidden,omitempty"`
}

// Empty reports whether the contract declares nothing to validate.
func (s Spec) Empty() bool {
	return len(s.Sections) == 0 && len(s.Forbidden) == 0
}

// Contract is the compiled form of a Spec. Safe for concurrent use.
type Contract struct {
	spec      Spec
	forbidden []compiledPredicate
}

type compiledPredicate struct {
	spec Predicate
	re   *regexp.Regexp
	gl   glob.Glob
	prg  cel.Program
}

// celEnv is shared across all predicate compilations; every predicate sees
// the single string variable `response`.
func celEnv() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("response", cel.StringType))
}

// Compile validates a Spec and compiles its predicates. All problems are
// collected into one multierror so corpus authors see everything at once.
func Compile(spec Spec) (*Contract, error) {
	var merr *multierror.Error

	seen := make(map[string]int, len(spec.Sections))
	for i, sec := range spec.Sections {
		heading := strings.TrimSpace(sec.Heading)
		if heading == "" {
			merr = multierror.Append(merr, errors.Errorf("section %d: heading must not be empty", i))
			continue
		}
		key := strings.ToLower(heading)
		if prev, dup := seen[key]; dup {
			merr = multierror.Append(merr, errors.Errorf("section %d: heading %q duplicates section %d", i, heading, prev))
			continue
		}
		seen[key] = i
	}

	var env *cel.Env
	names := make(map[string]bool, len(spec.Forbidden))
	compiled := make([]compiledPredicate, 0, len(spec.Forbidden))
	for i, pred := range spec.Forbidden {
		if pred.Name == "" {
			merr = multierror.Append(merr, errors.Errorf("forbidden predicate %d: name must not be empty", i))
			continue
		}
		if names[pred.Name] {
			merr = multierror.Append(merr, errors.Errorf("forbidden predicate %q: duplicate name", pred.Name))
			continue
		}
		names[pred.Name] = true

		cp := compiledPredicate{spec: pred}
		rules := 0
		if pred.Pattern != "" {
			rules++
			re, err := regexp.Compile(pred.Pattern)
			if err != nil {
				merr = multierror.Append(merr, errors.Wrapf(err, "forbidden predicate %q: invalid pattern", pred.Name))
				continue
			}
			cp.re = re
		}
		if pred.Glob != "" {
			rules++
			gl, err := glob.Compile(pred.Glob)
			if err != nil {
				merr = multierror.Append(merr, errors.Wrapf(err, "forbidden predicate %q: invalid glob", pred.Name))
				continue
			}
			cp.gl = gl
		}
		if pred.CEL != "" {
			rules++
			if env == nil {
				var err error
				env, err = celEnv()
				if err != nil {
					return nil, errors.Wrap(err, "creating CEL environment")
				}
			}
			ast, issues := env.Compile(pred.CEL)
			if issues != nil && issues.Err() != nil {
				merr = multierror.Append(merr, errors.Wrapf(issues.Err(), "forbidden predicate %q: invalid CEL expression", pred.Name))
				continue
			}
			prg, err := env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				merr = multierror.Append(merr, errors.Wrapf(err, "forbidden predicate %q: CEL program", pred.Name))
				continue
			}
			cp.prg = prg
		}
		if rules != 1 {
			merr = multierror.Append(merr, errors.Errorf("forbidden predicate %q: exactly one of pattern, glob or cel must be set", pred.Name))
			continue
		}
		compiled = append(compiled, cp)
	}

	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &Contract{spec: spec, forbidden: compiled}, nil
}

// Spec returns the declared form this contract was compiled from.
func (c *Contract) Spec() Spec {
	return c.spec
}

// scan reports whether the predicate fires against the response, and the
// 1-based line of the first hit when one can be located.
func (p compiledPredicate) scan(response string) (bool, int) {
	switch {
	case p.re != nil:
		loc := p.re.FindStringIndex(response)
		if loc == nil {
			return false, 0
		}
		return true, 1 + strings.Count(response[:loc[0]], "\n")
	case p.gl != nil:
		for i, line := range strings.Split(response, "\n") {
			for _, token := range strings.Fields(line) {
				if p.gl.Match(token) {
					return true, i + 1
				}
			}
		}
		return false, 0
	case p.prg != nil:
		out, _, err := p.prg.Eval(map[string]any{"response": response})
		if err != nil {
			// Fail closed: a predicate the author managed to compile but
			// that cannot be evaluated must not silently pass content.
			return true, 0
		}
		fired, ok := out.Value().(bool)
		if !ok {
			return true, 0
		}
		return fired, 0
	}
	return false, 0
}

// String renders a predicate for diagnostics without echoing matched content.
func (p Predicate) String() string {
	if p.Description != "" {
		return fmt.Sprintf("%s (%s)", p.Name, p.Description)
	}
	return p.Name
}
