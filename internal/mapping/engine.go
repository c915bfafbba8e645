// Package mapping implements the Mapping Engine (C4): a per-source catalog
// of MappingRules, the transform pipeline each rule's FieldMappings run
// through, and auto-generation of a starter rule from an observed sample.
//
// The catalog is one JSON document on disk, loaded in full and replaced in
// full on every write (temp file + rename), the same atomic-swap shape the
// teacher uses for its in-memory global config (coreengine/config/
// core_config.go's GetCoreConfig/SetCoreConfig) generalized to a file-backed
// document instead of a process-global pointer.
package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
	"github.com/jeeves-cluster-organization/acqgateway/internal/obs"
	"github.com/jeeves-cluster-organization/acqgateway/internal/obslog"
	"github.com/jeeves-cluster-organization/acqgateway/internal/value"
)

// Engine owns the mapping rule catalog and applies it to incoming samples.
type Engine struct {
	mu       sync.RWMutex
	rules    map[string]model.MappingRule
	path     string
	log      obslog.Logger
}

// NewEngine returns an Engine backed by the JSON catalog file at path. An
// empty path means in-memory only (no persistence) — useful for tests.
func NewEngine(path string, log obslog.Logger) *Engine {
	if log == nil {
		log = obslog.Noop()
	}
	return &Engine{rules: make(map[string]model.MappingRule), path: path, log: log}
}

// Load reads the catalog file, dropping and warning on invalid entries. A
// missing file is equivalent to an empty catalog.
func (e *Engine) Load() error {
	if e.path == "" {
		return nil
	}
	data, err := os.ReadFile(e.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mapping: reading catalog %s: %w", e.path, err)
	}

	var raw []model.MappingRule
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("mapping: parsing catalog %s: %w", e.path, err)
	}

	rules := make(map[string]model.MappingRule, len(raw))
	for _, rule := range raw {
		if rule.SourceID == "" {
			e.log.Warn("mapping: dropping catalog entry with empty sourceId")
			continue
		}
		rules[rule.SourceID] = rule
	}

	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
	return nil
}

// save writes the entire catalog out via write-temp-then-rename, the whole
// file always atomically replaced rather than appended to or patched.
func (e *Engine) save() error {
	if e.path == "" {
		return nil
	}

	e.mu.RLock()
	rules := make([]model.MappingRule, 0, len(e.rules))
	for _, r := range e.rules {
		rules = append(rules, r)
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].SourceID < rules[j].SourceID })

	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return fmt.Errorf("mapping: marshaling catalog: %w", err)
	}

	dir := filepath.Dir(e.path)
	tmp, err := os.CreateTemp(dir, ".mapping-catalog-*.tmp")
	if err != nil {
		return fmt.Errorf("mapping: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("mapping: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("mapping: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, e.path); err != nil {
		return fmt.Errorf("mapping: renaming catalog into place: %w", err)
	}
	return nil
}

// Rule returns the rule for sourceID, if any.
func (e *Engine) Rule(sourceID string) (model.MappingRule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[sourceID]
	return r, ok
}

// AddRule inserts or replaces the rule for rule.SourceID. A hand-edited rule
// (AutoGenerated == false) already on file refuses to be overwritten unless
// force is true, per spec §4.4's "auto-generated rules never overwrite
// hand-edited ones."
func (e *Engine) AddRule(rule model.MappingRule, force bool) error {
	if rule.SourceID == "" {
		return fmt.Errorf("mapping: rule requires a sourceId")
	}
	for _, fm := range rule.Mappings {
		if fm.Transform.Kind == model.TransformFormula {
			if err := validateFormula(fm.Transform.Expr); err != nil {
				return fmt.Errorf("mapping: field %q: %w", fm.TargetField, err)
			}
		}
	}

	e.mu.Lock()
	existing, exists := e.rules[rule.SourceID]
	if exists && !existing.AutoGenerated && !force {
		e.mu.Unlock()
		return model.ErrRuleExistsNotForced
	}
	e.rules[rule.SourceID] = rule
	e.mu.Unlock()

	return e.save()
}

// RemoveRule deletes sourceID's rule, if any.
func (e *Engine) RemoveRule(sourceID string) error {
	e.mu.Lock()
	delete(e.rules, sourceID)
	e.mu.Unlock()
	return e.save()
}

// Apply runs sourceID's rule against sample, producing a CanonicalRecord. It
// returns (nil, nil) when no rule exists and auto-mapping is disabled for
// the source (spec §4.4); when auto-mapping is enabled and no rule exists
// yet, it autogenerates and persists a starter rule on the fly, then applies
// it, so a freshly onboarded source starts producing records immediately.
func (e *Engine) Apply(sourceID string, sample value.Value, spec model.SourceSpec) (*model.CanonicalRecord, error) {
	start := time.Now()

	rule, ok := e.Rule(sourceID)
	if !ok {
		if !spec.AutoMapping {
			obs.RecordMappingApplied(sourceID, "skipped", float64(time.Since(start).Milliseconds()))
			return nil, nil
		}
		generated := e.Autogenerate(sourceID, sample, spec)
		if err := e.AddRule(generated, false); err != nil && err != model.ErrRuleExistsNotForced {
			obs.RecordMappingApplied(sourceID, "error", float64(time.Since(start).Milliseconds()))
			return nil, err
		}
		rule = generated
	}

	record := e.applyRule(rule, sample)
	obs.RecordMappingApplied(sourceID, "applied", float64(time.Since(start).Milliseconds()))
	return record, nil
}

func (e *Engine) applyRule(rule model.MappingRule, sample value.Value) *model.CanonicalRecord {
	tree := value.EmptyMap()
	for _, fm := range rule.Mappings {
		src, ok := sample.Get(fm.SourceField)
		if !ok || src.IsNull() {
			continue
		}
		transformed, ok := applyTransform(fm.Transform, src)
		if !ok {
			e.log.Debug("mapping: field transform skipped", "source_field", fm.SourceField, "target_field", fm.TargetField, "transform", string(fm.Transform.Kind))
			continue
		}
		tree.Set(fm.TargetField, transformed)
	}

	record := &model.CanonicalRecord{
		ID:   rule.SourceID,
		Type: rule.Target.EntityType,
		Metadata: model.RecordMetadata{
			Timestamp:  time.Now().UTC(),
			SourceID:   rule.SourceID,
			SourceType: rule.Target.Type,
		},
	}

	for _, leaf := range tree.Leaves() {
		record.Measurements = append(record.Measurements, model.Measurement{
			ID:      leaf.Path,
			Type:    leaf.Value.Kind().String(),
			Value:   leaf.Value.ToAny(),
			Quality: "good",
		})
	}

	return record
}

// Autogenerate walks sample's leaves and produces one FieldMapping per leaf,
// with a snake_case target name derived from the dotted source path and a
// transform inferred from the leaf's value kind, per spec §4.4.
func (e *Engine) Autogenerate(sourceID string, sample value.Value, spec model.SourceSpec) model.MappingRule {
	leaves := sample.Leaves()
	mappings := make([]model.FieldMapping, 0, len(leaves))
	for _, leaf := range leaves {
		mappings = append(mappings, model.FieldMapping{
			SourceField: leaf.Path,
			TargetField: snakeCase(leaf.Path),
			Transform:   model.Transform{Kind: inferTransform(leaf.Value.Kind())},
		})
	}

	return model.MappingRule{
		SourceID:      sourceID,
		Target:        model.MappingTarget{Type: "canonical", EntityType: string(spec.Type)},
		Mappings:      mappings,
		AutoGenerated: true,
		GeneratedAt:   time.Now().UTC(),
	}
}

func inferTransform(k value.Kind) model.TransformKind {
	switch k {
	case value.KindInt, value.KindFloat:
		return model.TransformNumber
	case value.KindBool:
		return model.TransformBoolean
	case value.KindString:
		return model.TransformString
	default:
		return model.TransformDirect
	}
}

// snakeCase derives a target field name from a dotted source path: dots
// become underscores, and each segment's camelCase boundaries are split,
// e.g. "device.tempC" -> "device_temp_c".
func snakeCase(path string) string {
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		segments[i] = splitCamel(seg)
	}
	return strings.ToLower(strings.Join(segments, "_"))
}

func splitCamel(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && isUpper(r) && !isUpper(runes[i-1]) {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
