// pkg/config/registry.go
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dataforgetx/ds-portfolio/pkg/model"
)

// PurgePair registers one (definition table, destination table) pair
// scanned by the purge checker. Prerequisite names another destination
// table that must be fixed first (e.g. a summary table feeding this one).
type PurgePair struct {
	Definition   string         `yaml:"definition"`
	Destination  string         `yaml:"destination"`
	Category     model.Category `yaml:"category"`
	Prerequisite string         `yaml:"prerequisite,omitempty"`
}

// Registry is the table-knowledge file for a deployment: which table
// pairs the purge checker scans, which tables load on an alternate
// period column, and which columns the column-count check skips.
type Registry struct {
	// PurgePairs drives the purge checker and the remediation loop.
	PurgePairs []PurgePair `yaml:"purge_pairs"`

	// AlternateLoadColumns maps table name to the period column its
	// loads are keyed by when it differs from the config default.
	AlternateLoadColumns map[string]string `yaml:"alternate_load_columns"`

	// LoadTimestampTables lists tables whose comparison grouping is a
	// load timestamp; table compare falls back to a total-count check
	// for these.
	LoadTimestampTables []string `yaml:"load_timestamp_tables"`

	// ExcludedColumns are never column-counted (audit/housekeeping
	// columns present on every table).
	ExcludedColumns []string `yaml:"excluded_columns"`
}

// LoadRegistry reads and validates the YAML registry file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file %s: %w", path, err)
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registry file %s: %w", path, err)
	}

	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registry file %s: %w", path, err)
	}

	return &reg, nil
}

// Validate checks pair completeness and that every prerequisite is itself
// a registered destination table.
func (r *Registry) Validate() error {
	destinations := make(map[string]bool, len(r.PurgePairs))
	for _, p := range r.PurgePairs {
		if p.Definition == "" || p.Destination == "" {
			return fmt.Errorf("purge pair missing definition or destination (definition=%q destination=%q)",
				p.Definition, p.Destination)
		}
		if _, err := p.Category.KeyColumn(); err != nil {
			return fmt.Errorf("purge pair %s: %w", p.Destination, err)
		}
		destinations[strings.ToUpper(p.Destination)] = true
	}

	for _, p := range r.PurgePairs {
		if p.Prerequisite == "" {
			continue
		}
		if !destinations[strings.ToUpper(p.Prerequisite)] {
			return fmt.Errorf("purge pair %s: prerequisite %s is not a registered destination",
				p.Destination, p.Prerequisite)
		}
		if strings.EqualFold(p.Prerequisite, p.Destination) {
			return fmt.Errorf("purge pair %s: prerequisite cannot reference itself", p.Destination)
		}
	}

	return nil
}

// PairFor returns the registered pair for a destination table, or nil.
func (r *Registry) PairFor(destination string) *PurgePair {
	for i := range r.PurgePairs {
		if strings.EqualFold(r.PurgePairs[i].Destination, destination) {
			return &r.PurgePairs[i]
		}
	}
	return nil
}

// AlternateLoadColumn returns the alternate period column for a table,
// if registered.
func (r *Registry) AlternateLoadColumn(table string) (string, bool) {
	for name, col := range r.AlternateLoadColumns {
		if strings.EqualFold(name, table) {
			return col, true
		}
	}
	return "", false
}

// IsLoadTimestampTable reports whether table compare should use the
// simplified total-count comparison for this table.
func (r *Registry) IsLoadTimestampTable(table string) bool {
	for _, t := range r.LoadTimestampTables {
		if strings.EqualFold(t, table) {
			return true
		}
	}
	return false
}

// IsExcludedColumn reports whether the column-count check skips a column.
func (r *Registry) IsExcludedColumn(column string) bool {
	for _, c := range r.ExcludedColumns {
		if strings.EqualFold(c, column) {
			return true
		}
	}
	return false
}

// FixOrder returns destination tables ordered so every prerequisite
// precedes its dependents. Order between unrelated tables follows the
// registry file. The prerequisite relation is one level deep by
// construction (summary tables have no prerequisites of their own), so a
// two-pass split is sufficient.
func (r *Registry) FixOrder(tables []string) []string {
	ordered := make([]string, 0, len(tables))
	seen := make(map[string]bool, len(tables))

	want := make(map[string]bool, len(tables))
	for _, t := range tables {
		want[strings.ToUpper(t)] = true
	}

	appendIfWanted := func(t string) {
		key := strings.ToUpper(t)
		if want[key] && !seen[key] {
			ordered = append(ordered, t)
			seen[key] = true
		}
	}

	// Prerequisites first, then everything else.
	for _, t := range tables {
		if p := r.PairFor(t); p != nil && p.Prerequisite != "" {
			appendIfWanted(p.Prerequisite)
		}
	}
	for _, t := range tables {
		appendIfWanted(t)
	}

	return ordered
}
