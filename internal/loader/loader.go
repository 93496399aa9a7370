// Package loader parses the declarative YAML files (entity schemas,
// configurations, field groups) that are this system's source of
// truth into fully validated Field/Entity/Configuration objects, per
// spec §4.C/§6.1. The two-pass parse-then-convert shape is adapted
// from the teacher's TOML schema parser (schemaFile → converter); only
// the source format and target types change.
package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"contentd/internal/entities"
	"contentd/internal/errs"
	"contentd/internal/fields"
)

// Result is everything one Load call produces: the two vectors §4.I
// expects plus a per-file content hash, for the registry's count-check
// bootstrap and the version tracker.
type Result struct {
	Entities    []*entities.Entity
	Configs     []*Configuration
	FileHashes  map[string]string // path -> sha256 hex
	FieldGroups map[string]*yamlFieldGroup
}

var lineNumRe = regexp.MustCompile(`line (\d+):`)

// yamlField mirrors one entry of the fields list in an entity schema file.
type yamlField struct {
	ID           string      `yaml:"id"`
	Type         string      `yaml:"type"`
	Label        string      `yaml:"label"`
	Required     bool        `yaml:"required"`
	Cardinality  string      `yaml:"cardinality"`
	TargetEntity string      `yaml:"target_entity"`
	Fields       []yamlField `yaml:"fields"`
}

// yamlEntity is the top-level shape of an entity schema file (§6.1).
type yamlEntity struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Versioned   bool        `yaml:"versioned"`
	Recursive   bool        `yaml:"recursive"`
	Cacheable   bool        `yaml:"cacheable"`
	Fields      []yamlField `yaml:"fields"`
}

// yamlFieldGroup is a named reusable set of fields, referenced by id
// from another schema via `type: {group_id}` (§6.1).
type yamlFieldGroup struct {
	ID     string      `yaml:"id"`
	Fields []yamlField `yaml:"fields"`
}

// isEntityFile / isConfigFile / isGroupFile implement the loader's
// naming predicate (§4.C/§6.1). Field group files end in ".group.yaml".
func isEntityFile(name string) bool { return strings.HasSuffix(name, ".schema.yaml") }
func isConfigFile(name string) bool {
	return strings.HasPrefix(name, "config.") && strings.HasSuffix(name, ".yaml")
}
func isGroupFile(name string) bool {
	return strings.HasSuffix(name, ".group.yaml")
}

// IsRelevantFile reports whether path is one Load would actually parse
// (an entity schema, a configuration, or a field group file), the
// predicate the watcher forwards changes through, per spec §4.D.
func IsRelevantFile(path string) bool {
	name := filepath.Base(path)
	return isEntityFile(name) || isConfigFile(name) || isGroupFile(name)
}

// ConfigID extracts the provider/id segment between "config." and
// ".yaml", per §6.1.
func ConfigID(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimPrefix(base, "config.")
	return strings.TrimSuffix(base, ".yaml")
}

func hashFile(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func decodeErr(path string, err error) *errs.Error {
	line := 0
	if m := lineNumRe.FindStringSubmatch(err.Error()); m != nil {
		fmt.Sscanf(m[1], "%d", &line)
	}
	hint := "check YAML indentation and quote any value containing ':'"
	return errs.Schema(path, line, 0, fmt.Sprintf("%s (%s)", err.Error(), hint))
}

// Load walks schemaDir and configDir, parsing every matching file.
// Field group files are expected to live under schemaDir alongside
// entity schemas. Load fails fast on the first invalid file — per
// §4.C there is no partial registration.
func Load(schemaDir, configDir string) (*Result, error) {
	res := &Result{
		FileHashes:  map[string]string{},
		FieldGroups: map[string]*yamlFieldGroup{},
	}

	groupPaths, err := listFiles(schemaDir, isGroupFile)
	if err != nil {
		return nil, err
	}
	for _, path := range groupPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.New(errs.InvalidSchema, "cannot read field group file "+path, err)
		}
		var g yamlFieldGroup
		if err := yaml.Unmarshal(data, &g); err != nil {
			return nil, decodeErr(path, err)
		}
		if g.ID == "" {
			return nil, errs.Schema(path, 0, 0, "field group is missing required key 'id'")
		}
		if _, dup := res.FieldGroups[g.ID]; dup {
			return nil, errs.Schema(path, 0, 0, fmt.Sprintf("duplicate field group id %q", g.ID))
		}
		res.FieldGroups[g.ID] = &g
		res.FileHashes[path] = hashFile(data)
	}
	if err := detectGroupCycles(res.FieldGroups); err != nil {
		return nil, err
	}

	entityPaths, err := listFiles(schemaDir, isEntityFile)
	if err != nil {
		return nil, err
	}
	for _, path := range entityPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.New(errs.InvalidSchema, "cannot read schema file "+path, err)
		}
		var ye yamlEntity
		if err := yaml.Unmarshal(data, &ye); err != nil {
			return nil, decodeErr(path, err)
		}
		entity, err := convertEntity(path, &ye, res.FieldGroups)
		if err != nil {
			return nil, err
		}
		res.Entities = append(res.Entities, entity)
		res.FileHashes[path] = hashFile(data)
	}
	if err := entities.ValidateSet(res.Entities); err != nil {
		return nil, errs.New(errs.Conflict, err.Error(), nil)
	}

	configPaths, err := listFiles(configDir, isConfigFile)
	if err != nil {
		return nil, err
	}
	for _, path := range configPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.New(errs.InvalidSchema, "cannot read config file "+path, err)
		}
		var values map[string]any
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, decodeErr(path, err)
		}
		id := ConfigID(path)
		res.Configs = append(res.Configs, &Configuration{
			ID: id, Provider: id, Version: hashFile(data)[:8], Values: values,
		})
		res.FileHashes[path] = hashFile(data)
	}

	return res, nil
}

func listFiles(dir string, match func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.New(errs.InvalidSchema, "cannot read directory "+dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !match(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func detectGroupCycles(groups map[string]*yamlFieldGroup) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(groups))

	var refsOf func(fs []yamlField) []string
	refsOf = func(fs []yamlField) []string {
		var out []string
		for _, f := range fs {
			if _, ok := knownKind(f.Type); !ok {
				out = append(out, f.Type)
			}
			out = append(out, refsOf(f.Fields)...)
		}
		return out
	}

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return fmt.Errorf("field group cycle detected at %q", id)
		case black:
			return nil
		}
		color[id] = gray
		g, ok := groups[id]
		if ok {
			for _, ref := range refsOf(g.Fields) {
				if err := visit(ref); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range groups {
		if err := visit(id); err != nil {
			return errs.New(errs.InvalidSchema, err.Error(), nil)
		}
	}
	return nil
}

func knownKind(raw string) (fields.Kind, bool) {
	for _, k := range fields.KnownKinds() {
		if string(k) == raw {
			return k, true
		}
	}
	return "", false
}

func convertField(path string, yf *yamlField, groups map[string]*yamlFieldGroup, seenGroups map[string]bool) (*fields.Field, error) {
	f := &fields.Field{
		ID:           yf.ID,
		Label:        yf.Label,
		Required:     yf.Required,
		TargetEntity: yf.TargetEntity,
		Cardinality:  fields.CardinalitySingle,
	}
	if yf.Cardinality == string(fields.CardinalityUnbounded) {
		f.Cardinality = fields.CardinalityUnbounded
	}

	if kind, ok := knownKind(yf.Type); ok {
		f.Kind = kind
		for i := range yf.Fields {
			sub, err := convertField(path, &yf.Fields[i], groups, seenGroups)
			if err != nil {
				return nil, err
			}
			f.Fields = append(f.Fields, sub)
		}
		return f, nil
	}

	// Not a known kind: treat Type as a field-group reference and
	// inline the group's fields as a flattened component, per §6.1.
	group, ok := groups[yf.Type]
	if !ok {
		return nil, errs.Schema(path, 0, 0, fmt.Sprintf(
			"field %q: unknown kind or field group %q; known kinds: %v", yf.ID, yf.Type, fields.KnownKinds()))
	}
	if seenGroups[group.ID] {
		return nil, errs.Schema(path, 0, 0, fmt.Sprintf("field group %q forms a cycle", group.ID))
	}
	seenGroups[group.ID] = true
	f.Kind = fields.KindComponent
	for i := range group.Fields {
		sub, err := convertField(path, &group.Fields[i], groups, seenGroups)
		if err != nil {
			return nil, err
		}
		f.Fields = append(f.Fields, sub)
	}
	delete(seenGroups, group.ID)
	return f, nil
}

func convertEntity(path string, ye *yamlEntity, groups map[string]*yamlFieldGroup) (*entities.Entity, error) {
	if ye.ID == "" {
		return nil, errs.Schema(path, 0, 0, "entity schema is missing required key 'id'")
	}
	if ye.Name == "" {
		return nil, errs.Schema(path, 0, 0, "entity schema is missing required key 'name'")
	}
	e := &entities.Entity{
		ID: ye.ID, Name: ye.Name, Description: ye.Description,
		Versioned: ye.Versioned, Recursive: ye.Recursive, Cacheable: ye.Cacheable,
	}
	for i := range ye.Fields {
		f, err := convertField(path, &ye.Fields[i], groups, map[string]bool{})
		if err != nil {
			return nil, err
		}
		e.Fields = append(e.Fields, f)
	}
	if err := e.Validate(); err != nil {
		return nil, errs.Schema(path, 0, 0, err.Error())
	}
	return e, nil
}
