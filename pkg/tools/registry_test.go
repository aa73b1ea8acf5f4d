package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stub(key string) *Tool {
	return &Tool{
		Key:         key,
		Description: key + " stub",
		Execute: func(ctx context.Context, args map[string]any, ec *ExecContext) (any, error) {
			return key, nil
		},
	}
}

func TestRegistryResolve(t *testing.T) {
	t.Run("resolution priority is native, user, openapi, remote", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterRemote(stub("shared"))
		r.RegisterOpenAPI(stub("shared"))
		r.RegisterUser(stub("shared"))

		tool, ok := r.Resolve("shared")
		require.True(t, ok)
		out, err := tool.Execute(context.Background(), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "shared", out)

		// Same key registered natively wins over all other sources.
		native := stub("shared")
		native.Description = "native shared"
		r.RegisterNative(native)
		tool, ok = r.Resolve("shared")
		require.True(t, ok)
		assert.Equal(t, "native shared", tool.Description)
	})

	t.Run("unknown key does not resolve", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterNative(stub("get_current_time"))
		_, ok := r.Resolve("get_time")
		assert.False(t, ok)
	})

	t.Run("keys are sorted and deduplicated", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterNative(stub("wait"), stub("fetch_text"))
		r.RegisterUser(stub("wait"))
		assert.Equal(t, []string{"fetch_text", "wait"}, r.Keys())
	})
}

func TestRegistrySuggest(t *testing.T) {
	r := NewRegistry()
	r.RegisterNative(stub("get_current_time"), stub("verbal_pause"), stub("wait"))

	t.Run("close misspelling is suggested", func(t *testing.T) {
		assert.Contains(t, r.Suggest("wiat"), "wait")
	})

	t.Run("substring match is suggested", func(t *testing.T) {
		assert.Contains(t, r.Suggest("current_time"), "get_current_time")
	})

	t.Run("distant name yields nothing", func(t *testing.T) {
		assert.Empty(t, r.Suggest("launch_rocket"))
	})
}

func TestRegistryDefinitions(t *testing.T) {
	r := NewRegistry()
	r.RegisterNative(stub("wait"))

	defs := r.Definitions([]string{"wait", "missing"})
	require.Len(t, defs, 1)
	assert.Equal(t, "wait", defs[0].Function.Name)
}
