package action

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	var doc any
	_ = json.Unmarshal([]byte(`{
		"rates": {"usd": 1.08, "gbp": 0.86},
		"items": [{"name": "a"}, {"name": "b"}],
		"ok": true
	}`), &doc)

	tests := []struct {
		path  string
		want  any
		found bool
	}{
		{"$.rates.usd", 1.08, true},
		{"rates.gbp", 0.86, true},
		{".ok", true, true},
		{"items.1.name", "b", true},
		{"$.items[0].name", "a", true},
		{"items.2.name", nil, false},
		{"items.x", nil, false},
		{"rates.eur", nil, false},
		{"ok.deeper", nil, false},
		{"rates..usd", nil, false},
	}
	for _, tt := range tests {
		got, ok := Extract(doc, tt.path)
		assert.Equal(t, tt.found, ok, tt.path)
		if tt.found {
			assert.Equal(t, tt.want, got, tt.path)
		}
	}

	whole, ok := Extract(doc, "$")
	assert.True(t, ok)
	assert.Equal(t, doc, whole)
}
