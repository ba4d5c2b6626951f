// pkg/config/registry_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataforgetx/ds-portfolio/pkg/model"
)

func TestLoadRegistry(t *testing.T) {
	content := `
purge_pairs:
  - definition: PURGE_CASE_DEF
    destination: CASE_FACT
    category: CASE
  - definition: PURGE_CASE_DEF
    destination: CASE_SUMMARY
    category: CASE
  - definition: PURGE_PERSON_DEF
    destination: PERSON_DIM
    category: PERSON
    prerequisite: CASE_SUMMARY
alternate_load_columns:
  STAGE_FACT: LOAD_PERIOD
load_timestamp_tables:
  - AUDIT_LOG
excluded_columns:
  - ETL_LOAD_TS
  - ETL_BATCH_ID
`
	path := filepath.Join(t.TempDir(), "registry.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	assert.Len(t, reg.PurgePairs, 3)

	pair := reg.PairFor("person_dim")
	require.NotNil(t, pair)
	assert.Equal(t, model.CategoryPerson, pair.Category)
	assert.Equal(t, "CASE_SUMMARY", pair.Prerequisite)

	col, ok := reg.AlternateLoadColumn("stage_fact")
	assert.True(t, ok)
	assert.Equal(t, "LOAD_PERIOD", col)

	assert.True(t, reg.IsLoadTimestampTable("audit_log"))
	assert.False(t, reg.IsLoadTimestampTable("CASE_FACT"))
	assert.True(t, reg.IsExcludedColumn("etl_load_ts"))
}

func TestLoadRegistryMissingFile(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestRegistryValidate(t *testing.T) {
	t.Run("unknown category", func(t *testing.T) {
		reg := &Registry{PurgePairs: []PurgePair{
			{Definition: "D", Destination: "T", Category: "HOUSEHOLD"},
		}}
		assert.Error(t, reg.Validate())
	})

	t.Run("prerequisite must be registered", func(t *testing.T) {
		reg := &Registry{PurgePairs: []PurgePair{
			{Definition: "D", Destination: "T", Category: model.CategoryCase, Prerequisite: "GHOST"},
		}}
		assert.Error(t, reg.Validate())
	})

	t.Run("self prerequisite rejected", func(t *testing.T) {
		reg := &Registry{PurgePairs: []PurgePair{
			{Definition: "D", Destination: "T", Category: model.CategoryCase, Prerequisite: "T"},
		}}
		assert.Error(t, reg.Validate())
	})

	t.Run("missing destination rejected", func(t *testing.T) {
		reg := &Registry{PurgePairs: []PurgePair{
			{Definition: "D", Category: model.CategoryCase},
		}}
		assert.Error(t, reg.Validate())
	})
}

func TestFixOrder(t *testing.T) {
	reg := &Registry{PurgePairs: []PurgePair{
		{Definition: "D1", Destination: "CASE_FACT", Category: model.CategoryCase, Prerequisite: "CASE_SUMMARY"},
		{Definition: "D1", Destination: "CASE_SUMMARY", Category: model.CategoryCase},
		{Definition: "D2", Destination: "PERSON_DIM", Category: model.CategoryPerson},
	}}

	t.Run("prerequisite moves ahead of its dependent", func(t *testing.T) {
		ordered := reg.FixOrder([]string{"CASE_FACT", "PERSON_DIM", "CASE_SUMMARY"})
		assert.Equal(t, []string{"CASE_SUMMARY", "CASE_FACT", "PERSON_DIM"}, ordered)
	})

	t.Run("absent prerequisite is not injected", func(t *testing.T) {
		ordered := reg.FixOrder([]string{"CASE_FACT", "PERSON_DIM"})
		assert.Equal(t, []string{"CASE_FACT", "PERSON_DIM"}, ordered)
	})

	t.Run("no duplicates when prerequisite listed twice", func(t *testing.T) {
		ordered := reg.FixOrder([]string{"CASE_SUMMARY", "CASE_FACT"})
		assert.Equal(t, []string{"CASE_SUMMARY", "CASE_FACT"}, ordered)
	})
}
