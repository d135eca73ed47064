package canon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	a, err := String(map[string]interface{}{"b": 1, "a": 2})
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1}`, a)
}

func TestCanonicalizePreservesArrayOrder(t *testing.T) {
	out, err := String([]interface{}{3, 1, 2})
	require.NoError(t, err)
	require.Equal(t, `[3,1,2]`, out)
}

func TestCanonicalizeIsDeterministic(t *testing.T) {
	v := map[string]interface{}{
		"nested": map[string]interface{}{"z": 1, "y": 2},
		"list":   []interface{}{"x", "y"},
	}
	a, err := String(v)
	require.NoError(t, err)
	b, err := String(v)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCanonicalizeArgsOmitsNilAtTopLevel(t *testing.T) {
	out, err := CanonicalizeArgs(map[string]interface{}{
		"present": "value",
		"absent":  nil,
	})
	require.NoError(t, err)
	require.Equal(t, `{"present":"value"}`, string(out))
}
