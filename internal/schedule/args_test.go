package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorq/internal/domain"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []any
	}{
		{"empty", "", nil},
		{"numbers and quoted string", "1, 2, 'John'", []any{1.0, 2.0, "John"}},
		{"floats and booleans", "2.5, true, False", []any{2.5, true, false}},
		{"double quotes with comma inside", `"a, b", 3`, []any{"a, b", 3.0}},
		{"null and bare word", "null, hello", []any{nil, "hello"}},
		{"non-ascii", "'Σωκράτης'", []any{"Σωκράτης"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseArgsUnterminatedQuote(t *testing.T) {
	_, err := ParseArgs("1, 'oops")
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestParseKwargs(t *testing.T) {
	got, err := ParseKwargs("x=1, y=2, name='John'")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1.0, "y": 2.0, "name": "John"}, got)
}

func TestParseKwargsEmpty(t *testing.T) {
	got, err := ParseKwargs("  ")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParseKwargsRejectsBareValue(t *testing.T) {
	_, err := ParseKwargs("x=1, 2")
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}
