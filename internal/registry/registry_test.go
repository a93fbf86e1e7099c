package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorq/internal/domain"
)

func TestResolveRegisteredFunc(t *testing.T) {
	tbl := New()
	tbl.Register("math.add", func(_ context.Context, args []any, _ map[string]any) (any, error) {
		sum := 0.0
		for _, a := range args {
			sum += a.(float64)
		}
		return sum, nil
	})

	fn, err := tbl.Resolve("math.add")
	require.NoError(t, err)

	got, err := fn(context.Background(), []any{1.0, 2.0, 3.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 6.0, got)
}

func TestResolveUnknownFunc(t *testing.T) {
	_, err := New().Resolve("no.such.func")
	var re *domain.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "no.such.func", re.Ref)
}

func TestResolveUnknownHook(t *testing.T) {
	_, err := New().ResolveHook("no.such.hook")
	var re *domain.ResolutionError
	assert.ErrorAs(t, err, &re)
}

func TestRegisterReplaces(t *testing.T) {
	tbl := New()
	tbl.Register("f", func(context.Context, []any, map[string]any) (any, error) { return "old", nil })
	tbl.Register("f", func(context.Context, []any, map[string]any) (any, error) { return "new", nil })

	fn, err := tbl.Resolve("f")
	require.NoError(t, err)
	got, err := fn(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "new", got)
}
