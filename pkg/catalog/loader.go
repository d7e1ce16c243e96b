package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"

	"github.com/skillgate/skillgate/pkg/definition"
	"github.com/skillgate/skillgate/pkg/logger"
)

const definitionGlob = "**/*.md"

// Violation is one corpus problem tied to its source document.
type Violation struct {
	Path string
	Err  error
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %v", v.Path, v.Err)
}

// ValidationError aggregates every violation found in one load pass. A load
// that returns one has applied nothing: the previous catalog keeps serving.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "corpus validation failed with %d violation(s):", len(e.Violations))
	for _, v := range e.Violations {
		b.WriteString("\n  - ")
		b.WriteString(v.String())
	}
	return b.String()
}

// Load parses and validates every definition document under fsys and builds
// a catalog. All-or-nothing: any violation anywhere fails the whole load,
// and the returned ValidationError lists every violation found.
func Load(ctx context.Context, fsys fs.FS) (*Catalog, error) {
	log := logger.G(ctx)

	paths, err := doublestar.Glob(fsys, definitionGlob)
	if err != nil {
		return nil, errors.Wrap(err, "discovering definition documents")
	}
	sort.Strings(paths)

	var violations []Violation
	var defs []*definition.Definition
	byID := make(map[string]*definition.Definition)
	invocations := make(map[string]string)

	loaded := 0
	for _, path := range paths {
		if skipPath(path) {
			continue
		}
		loaded++

		def, errs := loadOne(fsys, path)
		if len(errs) > 0 {
			for _, e := range errs {
				violations = append(violations, Violation{Path: path, Err: e})
			}
			continue
		}

		if prev, dup := byID[def.ID]; dup {
			violations = append(violations, Violation{
				Path: path,
				Err:  errors.Errorf("id %q already defined in %s", def.ID, prev.Path),
			})
			continue
		}
		byID[def.ID] = def

		for _, name := range def.Triggers.Invocations {
			key := strings.ToLower(strings.TrimSpace(name))
			if prevID, taken := invocations[key]; taken {
				violations = append(violations, Violation{
					Path: path,
					Err:  errors.Errorf("invocation %q already claimed by %q", name, prevID),
				})
				continue
			}
			invocations[key] = def.ID
		}

		defs = append(defs, def)
	}

	if loaded == 0 {
		violations = append(violations, Violation{
			Path: ".",
			Err:  errors.New("no definition documents found"),
		})
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	cat := build(defs, 0)
	log.WithField("definitions", cat.Len()).Debug("corpus loaded")
	return cat, nil
}

// skipPath filters out non-definition markdown: readmes, hidden files and
// anything under a hidden or underscore-prefixed directory.
func skipPath(path string) bool {
	for _, segment := range strings.Split(path, "/") {
		if strings.HasPrefix(segment, ".") || strings.HasPrefix(segment, "_") {
			return true
		}
	}
	base := path[strings.LastIndex(path, "/")+1:]
	return strings.EqualFold(base, "README.md")
}

// loadOne parses a single document. It returns either a compiled definition
// or every problem found in the document.
func loadOne(fsys fs.FS, path string) (*definition.Definition, []error) {
	content, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, []error{errors.Wrap(err, "reading document")}
	}

	raw, err := parseFrontmatter(content)
	if err != nil {
		return nil, []error{err}
	}

	metadata, err := definition.DecodeMetadata(raw)
	if err != nil {
		return nil, []error{err}
	}

	def, err := definition.Compile(metadata, extractBody(string(content)), path)
	if err != nil {
		if group, ok := errors.Cause(err).(interface{ WrappedErrors() []error }); ok {
			return nil, group.WrappedErrors()
		}
		return nil, []error{err}
	}
	return def, nil
}

// parseFrontmatter runs the document through goldmark with the meta
// extension and returns the raw YAML frontmatter map.
func parseFrontmatter(content []byte) (map[string]any, error) {
	md := goldmark.New(goldmark.WithExtensions(meta.Meta))

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, errors.Wrap(err, "parsing markdown")
	}

	raw, err := meta.TryGet(pctx)
	if err != nil {
		return nil, errors.Wrap(err, "parsing frontmatter")
	}
	if raw == nil {
		return nil, errors.New("missing frontmatter")
	}
	return raw, nil
}

// extractBody returns the template text below the frontmatter block.
func extractBody(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[end+1:], "\n"), "\n")
}
