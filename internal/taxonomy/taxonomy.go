// Package taxonomy holds the canonical fact-key table. Keys, categories and
// value types are fixed at build time; the fact store validates every
// candidate fact against this table.
package taxonomy

import (
	_ "embed"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/diligence-cli/internal/model"
)

//go:embed taxonomy.yaml
var rawTaxonomy []byte

// Definition describes one canonical fact key.
type Definition struct {
	Key         model.FactKey      `yaml:"key" json:"key"`
	Category    model.FactCategory `yaml:"category" json:"category"`
	Type        model.ValueType    `yaml:"type" json:"type"`
	Unit        string             `yaml:"unit,omitempty" json:"unit,omitempty"`
	EnumValues  []string           `yaml:"enum_values,omitempty" json:"enum_values,omitempty"`
	Description string             `yaml:"description" json:"description"`
}

// Table is an indexed view of the taxonomy.
type Table struct {
	defs  []Definition
	byKey map[model.FactKey]*Definition
}

var (
	loadOnce sync.Once
	loaded   *Table
	loadErr  error
)

// Load parses the embedded taxonomy once and returns the shared table.
func Load() (*Table, error) {
	loadOnce.Do(func() {
		loaded, loadErr = parse(rawTaxonomy)
	})
	return loaded, loadErr
}

func parse(raw []byte) (*Table, error) {
	var doc struct {
		Facts []Definition `yaml:"facts"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "taxonomy: unmarshal")
	}
	if len(doc.Facts) == 0 {
		return nil, eris.New("taxonomy: empty table")
	}

	t := &Table{
		defs:  doc.Facts,
		byKey: make(map[model.FactKey]*Definition, len(doc.Facts)),
	}
	for i := range t.defs {
		d := &t.defs[i]
		if d.Key == "" {
			return nil, eris.New("taxonomy: definition with empty key")
		}
		if _, dup := t.byKey[d.Key]; dup {
			return nil, eris.Errorf("taxonomy: duplicate key %q", d.Key)
		}
		t.byKey[d.Key] = d
	}
	return t, nil
}

// Get returns the definition for a key, or nil if the key is not canonical.
func (t *Table) Get(key model.FactKey) *Definition {
	return t.byKey[key]
}

// Definitions returns all definitions in declaration order.
func (t *Table) Definitions() []Definition {
	return t.defs
}

// Keys returns all canonical keys in declaration order.
func (t *Table) Keys() []model.FactKey {
	keys := make([]model.FactKey, len(t.defs))
	for i, d := range t.defs {
		keys[i] = d.Key
	}
	return keys
}
