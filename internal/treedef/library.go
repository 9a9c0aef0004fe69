package treedef

import (
	"fmt"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/solifugus/decisioncore/internal/bt"
	"github.com/solifugus/decisioncore/internal/coordinator"
	"github.com/solifugus/decisioncore/internal/id"
)

// Builder is the subset of *coordinator.Coordinator that Library needs —
// narrowed to CreateTree plus the one piece of Config a template's
// ToSpec conversion consults (the configured parallel_policy_default, so
// a "parallel" node that omits "policy" resolves the same way a direct
// CreateTree caller would see it applied) — so tests can substitute a
// fake without standing up a whole Coordinator.
type Builder interface {
	CreateTree(root *bt.Spec, meta coordinator.Metadata) (bt.TreeID, id.ID, error)
	DefaultParallelPolicy() bt.ParallelPolicy
}

// Library discovers, validates, and builds YAML tree templates — the
// data-driven replacement for the teacher's BehaviorTreeLibrary, whose
// entries were Go builder funcs registered by name in a package-level
// map (behavior_templates.go). Here the map is populated by walking a
// directory instead of reading source.
type Library struct {
	templates map[string]*Template
	built     map[string]bt.TreeID
	builtBB   map[string]id.ID
}

// NewLibrary returns an empty Library ready for LoadFile/Register calls.
func NewLibrary() *Library {
	return &Library{
		templates: make(map[string]*Template),
		built:     make(map[string]bt.TreeID),
		builtBB:   make(map[string]id.ID),
	}
}

// Discover globs root for template documents, mirroring how the teacher's
// asset loader walks a content directory rather than hand-listing files.
func Discover(root string, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "**/*.yaml"
	}
	matches, err := doublestar.FilepathGlob(root + "/" + pattern)
	if err != nil {
		return nil, fmt.Errorf("treedef: globbing %s: %w", root, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// LoadFile reads, schema-validates, and decodes one template document.
func LoadFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("treedef: reading %s: %w", path, err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("treedef: parsing %s: %w", path, err)
	}
	if err := Validate(raw); err != nil {
		return nil, fmt.Errorf("treedef: %s: %w", path, err)
	}

	var tmpl Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("treedef: decoding %s: %w", path, err)
	}
	return &tmpl, nil
}

// Register adds tmpl to the library under its own Name, replacing any
// prior template registered under that name.
func (l *Library) Register(tmpl *Template) {
	l.templates[tmpl.Name] = tmpl
}

// LoadDir discovers and registers every template under root matching
// pattern (see Discover).
func (l *Library) LoadDir(root, pattern string) error {
	paths, err := Discover(root, pattern)
	if err != nil {
		return err
	}
	for _, p := range paths {
		tmpl, err := LoadFile(p)
		if err != nil {
			return err
		}
		l.Register(tmpl)
	}
	return nil
}

// resolver adapts l.built into a treedef.Resolver for Template.ToSpec.
func (l *Library) resolver() Resolver {
	return func(name string) (bt.TreeID, bool) {
		treeID, ok := l.built[name]
		return treeID, ok
	}
}

// Build compiles and registers the named template against b, building any
// not-yet-built subtree dependency first. Returns the tree_id and
// blackboard_id CreateTree minted, the same pair a direct CreateTree call
// would (spec §4.6).
func (l *Library) Build(b Builder, name string) (bt.TreeID, id.ID, error) {
	if treeID, ok := l.built[name]; ok {
		return treeID, l.builtBB[name], nil
	}

	tmpl, ok := l.templates[name]
	if !ok {
		return id.Zero, id.Zero, fmt.Errorf("treedef: template %q not registered", name)
	}

	if err := l.buildDeps(b, tmpl.Root, map[string]bool{name: true}); err != nil {
		return id.Zero, id.Zero, err
	}

	spec, err := tmpl.ToSpec(l.resolver(), b.DefaultParallelPolicy())
	if err != nil {
		return id.Zero, id.Zero, fmt.Errorf("treedef: building %q: %w", name, err)
	}

	meta := coordinator.Metadata{
		Author:      tmpl.Author,
		Version:     tmpl.Version,
		Description: tmpl.Description,
		Tags:        tmpl.UnitTypes,
	}
	treeID, bbID, err := b.CreateTree(spec, meta)
	if err != nil {
		return id.Zero, id.Zero, fmt.Errorf("treedef: creating tree %q: %w", name, err)
	}
	l.built[name] = treeID
	l.builtBB[name] = bbID
	return treeID, bbID, nil
}

// buildDeps walks node's subtree refs, building each referenced template
// (recursively) before the caller builds name itself. inStack detects a
// reference cycle among templates — a cycle here would otherwise recurse
// forever rather than surface as coreerr.ErrSubtreeCycle at CreateTree,
// since CreateTree only ever sees one already-built tree_id at a time.
func (l *Library) buildDeps(b Builder, node *NodeDef, inStack map[string]bool) error {
	if node == nil {
		return nil
	}
	if node.Kind == "subtree" {
		if inStack[node.Ref] {
			return fmt.Errorf("treedef: template %q participates in a subtree reference cycle", node.Ref)
		}
		if _, already := l.built[node.Ref]; !already {
			inStack[node.Ref] = true
			if tmpl, ok := l.templates[node.Ref]; ok {
				if err := l.buildDeps(b, tmpl.Root, inStack); err != nil {
					return err
				}
			}
			if _, _, err := l.Build(b, node.Ref); err != nil {
				return err
			}
			delete(inStack, node.Ref)
		}
	}
	for _, c := range node.Children {
		if err := l.buildDeps(b, c, inStack); err != nil {
			return err
		}
	}
	return nil
}

// BuildAll builds every registered template, in whatever order their
// subtree dependencies require.
func (l *Library) BuildAll(b Builder) error {
	names := make([]string, 0, len(l.templates))
	for name := range l.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, _, err := l.Build(b, name); err != nil {
			return err
		}
	}
	return nil
}
