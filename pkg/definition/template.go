package definition

import (
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/pkg/errors"
)

// PresencePrefix is the prefix of presence flags in body templates: for a
// declared slot "ticket", {{.has_ticket}} is true when the caller supplied a
// non-empty attachment for it. Conditional blocks keyed on presence flags are
// how templates include or omit optional-input sections wholesale.
const PresencePrefix = "has_"

func parseBody(id, body string) (*template.Template, error) {
	return template.New(id).Option("missingkey=error").Parse(body)
}

// analyzeTemplate walks the parse tree and rejects placeholders that could
// be unresolved at assembly time: references to undeclared slots, and
// references to optional slots outside an {{if .has_<slot>}} block. Catching
// these at load turns a runtime failure into a corpus validation error.
func analyzeTemplate(tmpl *template.Template, required, optional []Slot) []error {
	if tmpl.Tree == nil || tmpl.Tree.Root == nil {
		return nil
	}

	a := &templateAnalysis{
		tree:     tmpl.Tree,
		required: make(map[string]bool, len(required)),
		optional: make(map[string]bool, len(optional)),
	}
	for _, s := range required {
		a.required[s.Name] = true
	}
	for _, s := range optional {
		a.optional[s.Name] = true
	}

	a.walkList(tmpl.Tree.Root, nil)
	return a.errs
}

type templateAnalysis struct {
	tree     *parse.Tree
	required map[string]bool
	optional map[string]bool
	errs     []error
}

func (a *templateAnalysis) walkList(list *parse.ListNode, guards map[string]bool) {
	if list == nil {
		return
	}
	for _, n := range list.Nodes {
		a.walkNode(n, guards)
	}
}

func (a *templateAnalysis) walkNode(n parse.Node, guards map[string]bool) {
	switch n := n.(type) {
	case *parse.ActionNode:
		a.checkPipe(n.Pipe, guards)
	case *parse.IfNode:
		a.walkBranch(&n.BranchNode, guards)
	case *parse.WithNode:
		a.walkBranch(&n.BranchNode, guards)
	case *parse.RangeNode:
		a.walkBranch(&n.BranchNode, guards)
	case *parse.ListNode:
		a.walkList(n, guards)
	case *parse.TemplateNode:
		a.checkPipe(n.Pipe, guards)
	}
}

// walkBranch checks the branch condition, then walks the body with any
// presence flags from the condition added as guards. The else branch runs
// when the condition is false, so it keeps only the outer guards.
func (a *templateAnalysis) walkBranch(b *parse.BranchNode, guards map[string]bool) {
	a.checkPipe(b.Pipe, guards)

	inner := guards
	if flagged := presenceFlagsInPipe(b.Pipe); len(flagged) > 0 {
		inner = make(map[string]bool, len(guards)+len(flagged))
		for name := range guards {
			inner[name] = true
		}
		for _, name := range flagged {
			inner[name] = true
		}
	}

	a.walkList(b.List, inner)
	a.walkList(b.ElseList, guards)
}

func (a *templateAnalysis) checkPipe(pipe *parse.PipeNode, guards map[string]bool) {
	if pipe == nil {
		return
	}
	for _, cmd := range pipe.Cmds {
		for _, arg := range cmd.Args {
			a.checkArg(arg, guards)
		}
	}
}

func (a *templateAnalysis) checkArg(arg parse.Node, guards map[string]bool) {
	switch arg := arg.(type) {
	case *parse.FieldNode:
		a.checkField(arg, arg.Ident, guards)
	case *parse.PipeNode:
		a.checkPipe(arg, guards)
	case *parse.ChainNode:
		a.checkArg(arg.Node, guards)
	}
}

func (a *templateAnalysis) checkField(n parse.Node, ident []string, guards map[string]bool) {
	loc, _ := a.tree.ErrorContext(n)
	name := ident[0]

	switch {
	case len(ident) > 1:
		a.errs = append(a.errs, errors.Errorf("%s: placeholder .%s: input slots are plain strings, nested access is not available", loc, strings.Join(ident, ".")))
	case strings.HasPrefix(name, PresencePrefix):
		base := strings.TrimPrefix(name, PresencePrefix)
		if !a.required[base] && !a.optional[base] {
			a.errs = append(a.errs, errors.Errorf("%s: presence flag .%s references undeclared input %q", loc, name, base))
		}
	case a.required[name]:
		// always bound by the time assembly runs
	case a.optional[name]:
		if !guards[name] {
			a.errs = append(a.errs, errors.Errorf("%s: optional input .%s referenced outside its {{if .%s%s}} block", loc, name, PresencePrefix, name))
		}
	default:
		a.errs = append(a.errs, errors.Errorf("%s: placeholder .%s does not match any declared input", loc, name))
	}
}

// presenceFlagsInPipe returns the slot names whose presence flags appear in
// the pipe, e.g. {{if and .has_ticket .has_diff}} yields [ticket diff].
func presenceFlagsInPipe(pipe *parse.PipeNode) []string {
	var flags []string
	var visitArg func(arg parse.Node)
	visitArg = func(arg parse.Node) {
		switch arg := arg.(type) {
		case *parse.FieldNode:
			if len(arg.Ident) == 1 && strings.HasPrefix(arg.Ident[0], PresencePrefix) {
				flags = append(flags, strings.TrimPrefix(arg.Ident[0], PresencePrefix))
			}
		case *parse.PipeNode:
			for _, cmd := range arg.Cmds {
				for _, inner := range cmd.Args {
					visitArg(inner)
				}
			}
		case *parse.ChainNode:
			visitArg(arg.Node)
		}
	}
	if pipe != nil {
		for _, cmd := range pipe.Cmds {
			for _, arg := range cmd.Args {
				visitArg(arg)
			}
		}
	}
	return flags
}
