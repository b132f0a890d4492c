package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSkipColumn(t *testing.T) {
	skipped := []string{"id", "user_id", "api_key", "created_at", "avatar_url", "contact_email", "Name"}
	for _, name := range skipped {
		assert.True(t, skipColumn(name), "column %s", name)
	}

	kept := []string{"status", "region", "category", "shipping_method"}
	for _, name := range kept {
		assert.False(t, skipColumn(name), "column %s", name)
	}
}

func TestIsCategorical(t *testing.T) {
	assert.True(t, isCategorical("text"))
	assert.True(t, isCategorical("character varying"))
	assert.True(t, isCategorical("USER-DEFINED"))
	assert.False(t, isCategorical("integer"))
	assert.False(t, isCategorical("timestamp with time zone"))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"orders"`, quoteIdent("orders"))
	assert.Equal(t, `"odd""name"`, quoteIdent(`odd"name`))
}

func TestFormatGroupsByTable(t *testing.T) {
	cols := []column{
		{table: "orders", name: "id", dtype: "integer"},
		{table: "orders", name: "status", dtype: "text", samples: []string{"shipped", "pending"}},
		{table: "users", name: "id", dtype: "integer"},
	}
	got := format(cols)

	want := "orders:\n" +
		"  - id (integer)\n" +
		"  - status (text) values: shipped, pending\n" +
		"\n" +
		"users:\n" +
		"  - id (integer)\n"
	assert.Equal(t, want, got)
}
