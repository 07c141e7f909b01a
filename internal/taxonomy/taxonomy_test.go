package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/model"
)

func TestLoadEmbeddedTable(t *testing.T) {
	tab, err := Load()
	require.NoError(t, err)
	require.NotNil(t, tab)

	// Load is memoized; a second call returns the same table.
	again, err := Load()
	require.NoError(t, err)
	assert.Same(t, tab, again)
}

func TestGetKnownKey(t *testing.T) {
	tab, err := Load()
	require.NoError(t, err)

	def := tab.Get("mrr")
	require.NotNil(t, def)
	assert.Equal(t, model.CategoryFinancial, def.Category)
	assert.Equal(t, model.TypeCurrency, def.Type)
	assert.Equal(t, "USD", def.Unit)
	assert.NotEmpty(t, def.Description)

	stage := tab.Get("product_stage")
	require.NotNil(t, stage)
	assert.Contains(t, stage.EnumValues, "beta")
}

func TestGetUnknownKey(t *testing.T) {
	tab, err := Load()
	require.NoError(t, err)
	assert.Nil(t, tab.Get("not_a_real_key"))
}

func TestKeysMatchDefinitions(t *testing.T) {
	tab, err := Load()
	require.NoError(t, err)

	keys := tab.Keys()
	defs := tab.Definitions()
	require.Equal(t, len(defs), len(keys))
	for i, d := range defs {
		assert.Equal(t, d.Key, keys[i])
	}
	assert.NotEmpty(t, keys)
}

func TestParseRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := parse([]byte("facts: []"))
	assert.ErrorContains(t, err, "empty table")

	_, err = parse([]byte("facts:\n  - key: mrr\n    type: currency\n  - key: mrr\n    type: currency\n"))
	assert.ErrorContains(t, err, "duplicate key")

	_, err = parse([]byte("facts:\n  - category: financial\n    type: currency\n"))
	assert.ErrorContains(t, err, "empty key")

	_, err = parse([]byte("{not yaml"))
	assert.Error(t, err)
}
