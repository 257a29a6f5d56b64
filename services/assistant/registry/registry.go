// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry maps abstract request intents to concrete Finam TradeAPI
// method/path/query templates, and classifies arbitrary paths back to
// intents. It is the single source of truth for what the assistant can call:
// the extractor's intent table, the mapper's prompt documentation, and the
// safety layer's path shapes all derive from the catalog loaded here.
//
// Thread Safety:
//
//	All exported types are safe for concurrent use unless documented otherwise.
package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// maxCatalogBytes guards against a runaway generated catalog file.
const maxCatalogBytes = 1 << 20

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrUnknownIntent is returned when a structured request names an intent
	// absent from every loaded catalog source.
	ErrUnknownIntent = errors.New("registry: unknown intent")

	// ErrMissingField is returned when a required path placeholder cannot be
	// filled from the structured request. This indicates an inconsistent
	// extractor/catalog pairing, not user error.
	ErrMissingField = errors.New("registry: missing required field")
)

// =============================================================================
// Catalog Types
// =============================================================================

// Definition is one declarative catalog entry: an intent bound to an HTTP
// method, a path template, ordered query-parameter templates, and the
// lexical cues the extractor scores against.
type Definition struct {
	// Intent is the abstract operation name, e.g. "quote" or "order_cancel".
	Intent string `yaml:"intent"`

	// Method is the HTTP method, upper case.
	Method string `yaml:"method"`

	// Path is the path template with {field} / {field?} placeholders.
	Path string `yaml:"path"`

	// Params maps query parameter names to value templates, in declaration
	// order. A "{field}" template is required, "{field?}" optional, anything
	// else a literal.
	Params ParamTemplates `yaml:"params"`

	// JSONFrom names the structured-request body field attached as the JSON
	// request body (order creation). Empty for body-less intents.
	JSONFrom string `yaml:"json_from"`

	// Synonyms are phrases that strongly indicate this intent (score weight 2).
	Synonyms []string `yaml:"synonyms"`

	// Keywords are weaker cues (score weight 1).
	Keywords []string `yaml:"keywords"`

	// SlotTypes documents each slot's type for prompt generation.
	SlotTypes map[string]string `yaml:"slot_types"`
}

// ParamTemplates preserves the YAML declaration order of query parameters so
// RequiredSlots and prompt documentation are deterministic.
type ParamTemplates struct {
	names  []string
	values map[string]string
}

// UnmarshalYAML decodes a YAML mapping while recording key order.
func (p *ParamTemplates) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("registry: params must be a mapping, got %v", node.Kind)
	}
	p.names = nil
	p.values = make(map[string]string, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var val string
		if err := node.Content[i+1].Decode(&val); err != nil {
			return fmt.Errorf("registry: param %q: %w", key, err)
		}
		if _, dup := p.values[key]; !dup {
			p.names = append(p.names, key)
		}
		p.values[key] = val
	}
	return nil
}

// Names returns the parameter names in declaration order.
func (p ParamTemplates) Names() []string { return p.names }

// Get returns the template for name.
func (p ParamTemplates) Get(name string) (string, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Len returns the number of declared parameters.
func (p ParamTemplates) Len() int { return len(p.names) }

// =============================================================================
// Request / ToolRequest Contracts
// =============================================================================

// Request is a fully-typed structured request for one intent. Implementations
// live in the extract package; the registry only needs the intent name and
// resolved field values.
//
// Field values must be fully resolved by the time a Request reaches Resolve —
// a value still containing a "{...}" placeholder is invalid input.
type Request interface {
	// Intent returns the catalog intent name this request targets.
	Intent() string

	// Fields returns the slot values, keyed by slot name. Absent slots are
	// omitted (not empty strings).
	Fields() map[string]string

	// Body returns the JSON body object for body-bearing intents, nil
	// otherwise.
	Body() map[string]any
}

// ToolRequest is the fully-resolved pair handed to the router: produced by
// Resolve, consumed exactly once by Router.Execute.
type ToolRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   map[string]any
}

// =============================================================================
// Registry
// =============================================================================

// pathMatcher is one compiled classification entry.
type pathMatcher struct {
	intent string
	method string
	re     *regexp.Regexp
}

// sourceState fingerprints the on-disk sources for change detection.
// A nil time means "file absent".
type sourceState []time.Time

func (s sourceState) equal(o sourceState) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !s[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Registry holds the merged endpoint catalog.
//
// Description:
//
//	Sources are ordered: the primary catalog (embedded default when no path
//	is configured) followed by extra catalogs. Later sources extend earlier
//	ones; a duplicate intent name replaces the earlier definition (last
//	wins) while keeping the first declaration's position for classification
//	and tie-break ordering. Both orderings are deliberate policy, not load
//	accidents.
//
//	On-disk sources are re-checked before every lookup: when any mtime
//	changes the table is rebuilt, so catalog edits take effect without a
//	restart even when the fsnotify watcher is not running.
//
// Thread Safety: Safe for concurrent use via sync.RWMutex.
type Registry struct {
	mu          sync.RWMutex
	catalogPath string
	extras      []string
	logger      *slog.Logger

	state     sourceState
	items     []Definition
	byIntent  map[string]*Definition
	matchers  []pathMatcher
	loadedAt  time.Time
	loadCount int
}

// Option configures a Registry.
type Option func(*Registry)

// WithCatalogPath points the registry at an on-disk primary catalog instead
// of the embedded default.
func WithCatalogPath(path string) Option {
	return func(r *Registry) { r.catalogPath = path }
}

// WithExtraCatalogs adds additional catalog files merged after the primary.
// Missing files are skipped silently (generated catalogs are optional).
func WithExtraCatalogs(paths ...string) Option {
	return func(r *Registry) { r.extras = append(r.extras, paths...) }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// New builds a Registry and performs the initial load.
//
// Outputs:
//   - *Registry: Ready for lookups. Never nil on success.
//   - error: Non-nil if the primary catalog cannot be read or parsed.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Items returns a copy of the merged catalog in declaration order.
func (r *Registry) Items() []Definition {
	r.maybeReload()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, len(r.items))
	copy(out, r.items)
	return out
}

// Definition returns the catalog entry for intent.
func (r *Registry) Definition(intent string) (Definition, bool) {
	r.maybeReload()
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byIntent[intent]
	if !ok {
		return Definition{}, false
	}
	return *def, true
}

// RequiredSlots lists the slot names an intent cannot be resolved without:
// every path placeholder plus every non-optional query placeholder, in
// declaration order, deduplicated.
func (r *Registry) RequiredSlots(intent string) []string {
	def, ok := r.Definition(intent)
	if !ok {
		return nil
	}
	var required []string
	seen := make(map[string]bool)
	add := func(field string) {
		if !seen[field] {
			seen[field] = true
			required = append(required, field)
		}
	}
	for _, ph := range extractPlaceholders(def.Path) {
		add(ph.field)
	}
	for _, name := range def.Params.Names() {
		tmpl, _ := def.Params.Get(name)
		phs := extractPlaceholders(tmpl)
		if len(phs) == 1 && !phs[0].optional && "{"+phs[0].field+"}" == tmpl {
			add(phs[0].field)
		}
	}
	return required
}

// Resolve turns a structured request into a concrete ToolRequest.
//
// Description:
//
//	Substitutes every path placeholder from the request's fields (a missing
//	required field returns an error wrapping ErrMissingField — never a
//	literal placeholder in the output), builds query values from the param
//	templates (optional placeholders are omitted when absent), and attaches
//	the JSON body when the definition declares a json_from field.
//
// Outputs:
//   - ToolRequest: The resolved method/path/query/body.
//   - error: ErrUnknownIntent or ErrMissingField wrapped with detail.
func (r *Registry) Resolve(req Request) (ToolRequest, error) {
	def, ok := r.Definition(req.Intent())
	if !ok {
		return ToolRequest{}, fmt.Errorf("%w: %q", ErrUnknownIntent, req.Intent())
	}

	fields := req.Fields()
	path, err := substitutePath(def.Path, fields)
	if err != nil {
		return ToolRequest{}, fmt.Errorf("resolve %q: %w", req.Intent(), err)
	}

	query := url.Values{}
	for _, name := range def.Params.Names() {
		tmpl, _ := def.Params.Get(name)
		if val, ok := templateValue(tmpl, fields); ok {
			query.Set(name, val)
		}
	}

	out := ToolRequest{Method: def.Method, Path: path, Query: query}
	if def.JSONFrom != "" {
		out.Body = req.Body()
	}
	return out, nil
}

// Classify returns the intent whose method and path template match.
//
// This is the primary classification API: intents that share a path template
// (orders list vs. order create, order get vs. order cancel) are told apart
// by method, so Resolve→Classify round-trips for every intent.
func (r *Registry) Classify(method, path string) (string, bool) {
	r.maybeReload()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.matchers {
		if m.method == method && m.re.MatchString(path) {
			return m.intent, true
		}
	}
	return "", false
}

// ClassifyPath returns the first declared intent whose path template matches,
// ignoring method. Kept for labeling model-produced paths where no method is
// known; first-declared-wins is the documented tie-break for templates that
// collide.
func (r *Registry) ClassifyPath(path string) (string, bool) {
	r.maybeReload()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.matchers {
		if m.re.MatchString(path) {
			return m.intent, true
		}
	}
	return "", false
}

// Reload forces a rebuild from the current source files.
func (r *Registry) Reload() error {
	return r.reload()
}

// =============================================================================
// Loading & Merge
// =============================================================================

// catalogFile is the YAML document shape shared by all catalog sources.
type catalogFile struct {
	Endpoints []Definition `yaml:"endpoints"`
}

// maybeReload rebuilds the table when any source mtime changed. Errors during
// a background reload keep the previous table and log a warning — a broken
// edit must not take down in-flight traffic.
func (r *Registry) maybeReload() {
	if r.catalogPath == "" && len(r.extras) == 0 {
		return // embedded-only, immutable
	}
	current := r.sourceState()
	r.mu.RLock()
	unchanged := r.state.equal(current)
	r.mu.RUnlock()
	if unchanged {
		return
	}
	if err := r.reload(); err != nil {
		r.logger.Warn("registry: reload failed, keeping previous catalog",
			slog.String("error", err.Error()),
		)
	}
}

func (r *Registry) sourceState() sourceState {
	paths := make([]string, 0, 1+len(r.extras))
	if r.catalogPath != "" {
		paths = append(paths, r.catalogPath)
	}
	paths = append(paths, r.extras...)

	state := make(sourceState, len(paths))
	for i, p := range paths {
		if fi, err := os.Stat(p); err == nil {
			state[i] = fi.ModTime()
		}
	}
	return state
}

func (r *Registry) reload() error {
	state := r.sourceState()

	var items []Definition
	if r.catalogPath != "" {
		loaded, err := loadCatalogFile(r.catalogPath)
		if err != nil {
			return err
		}
		items = loaded
	} else {
		var cf catalogFile
		if err := yaml.Unmarshal(defaultCatalogYAML, &cf); err != nil {
			return fmt.Errorf("registry: embedded catalog: %w", err)
		}
		items = cf.Endpoints
	}

	for _, p := range r.extras {
		extra, err := loadCatalogFile(p)
		if err != nil {
			// Extra catalogs are optional (typically generated); skip and log.
			r.logger.Debug("registry: skipping extra catalog",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
			continue
		}
		items = append(items, extra...)
	}

	merged, byIntent := mergeDefinitions(items)

	matchers := make([]pathMatcher, 0, len(merged))
	for _, def := range merged {
		re, err := templateToRegex(def.Path)
		if err != nil {
			return fmt.Errorf("registry: template %q: %w", def.Path, err)
		}
		matchers = append(matchers, pathMatcher{intent: def.Intent, method: def.Method, re: re})
	}

	r.mu.Lock()
	r.items = merged
	r.byIntent = byIntent
	r.matchers = matchers
	r.state = state
	r.loadedAt = time.Now()
	r.loadCount++
	count := r.loadCount
	r.mu.Unlock()

	r.logger.Info("registry: catalog loaded",
		slog.Int("intents", len(merged)),
		slog.Int("load_count", count),
	)
	return nil
}

// mergeDefinitions applies the merge policy: duplicate intent names are
// last-wins, but the entry keeps the position of its first declaration so
// classification and tie-break order stay stable across merges.
func mergeDefinitions(items []Definition) ([]Definition, map[string]*Definition) {
	merged := make([]Definition, 0, len(items))
	index := make(map[string]int, len(items))
	for _, def := range items {
		if pos, seen := index[def.Intent]; seen {
			merged[pos] = def
			continue
		}
		index[def.Intent] = len(merged)
		merged = append(merged, def)
	}

	byIntent := make(map[string]*Definition, len(merged))
	for i := range merged {
		byIntent[merged[i].Intent] = &merged[i]
	}
	return merged, byIntent
}

func loadCatalogFile(path string) ([]Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %q: %w", path, err)
	}
	if len(raw) > maxCatalogBytes {
		return nil, fmt.Errorf("registry: %q exceeds %d bytes", path, maxCatalogBytes)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("registry: parse %q: %w", path, err)
	}
	return cf.Endpoints, nil
}
