package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorq/internal/domain"
)

func TestPayloadRoundTrip(t *testing.T) {
	c := New("test-secret")

	tests := []struct {
		name string
		in   Payload
	}{
		{
			name: "simple",
			in:   Payload{ID: "abc123", Name: "report", Func: "reports.build", Args: []any{float64(1), float64(2)}},
		},
		{
			name: "nested containers",
			in: Payload{
				ID: "def456", Name: "nested", Func: "x.y",
				Args: []any{[]any{float64(1), []any{"deep"}}, map[string]any{"k": []any{true, nil}}},
				Kwargs: map[string]any{
					"opts": map[string]any{"retries": float64(3), "tags": []any{"a", "b"}},
				},
			},
		},
		{
			name: "non-ascii strings",
			in: Payload{
				ID: "ghi789", Name: "unicode", Func: "greet",
				Args:   []any{"héllo", "世界", "καλημέρα"},
				Kwargs: map[string]any{"emoji": "🚀"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := c.EncodePayload(tt.in)
			require.NoError(t, err)

			got, err := c.DecodePayload(blob)
			require.NoError(t, err)
			assert.Equal(t, tt.in, got)
		})
	}
}

func TestDecodeRejectsTampering(t *testing.T) {
	c := New("test-secret")
	blob, err := c.EncodePayload(Payload{ID: "abc", Name: "n", Func: "f"})
	require.NoError(t, err)

	// Flip a character in the body.
	tampered := "A" + blob[1:]
	if tampered == blob {
		tampered = "B" + blob[1:]
	}
	_, err = c.DecodePayload(tampered)
	var ce *domain.CodecError
	require.ErrorAs(t, err, &ce)
}

func TestDecodeRejectsWrongSecret(t *testing.T) {
	blob, err := New("secret-one").EncodePayload(Payload{ID: "abc", Func: "f"})
	require.NoError(t, err)

	_, err = New("secret-two").DecodePayload(blob)
	var ce *domain.CodecError
	require.ErrorAs(t, err, &ce)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c := New("test-secret")
	for _, blob := range []string{"", "no-signature", "bad body.sig", "!!!.!!!"} {
		_, err := c.DecodePayload(blob)
		var ce *domain.CodecError
		assert.ErrorAs(t, err, &ce, "blob %q", blob)
	}
}

func TestResultRoundTrip(t *testing.T) {
	c := New("test-secret")

	in := map[string]any{"rows": float64(42), "names": []any{"Ólafur", "José"}}
	blob, err := c.EncodeResult(in)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(blob), "."))

	got, err := c.DecodeResult(blob)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestDecodeResultNil(t *testing.T) {
	c := New("test-secret")
	got, err := c.DecodeResult(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
