package jsonutil_test

import (
	"math"
	"testing"

	"github.com/jvs-project/volsnap/pkg/jsonutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalMarshal_SortedKeys(t *testing.T) {
	input := map[string]any{
		"zebra": 1,
		"alpha": 2,
		"mid":   3,
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":3,"zebra":1}`, string(out))
}

func TestCanonicalMarshal_NestedAndSlices(t *testing.T) {
	input := map[string]any{
		"b": map[string]any{"z": []any{1, nil, "x"}, "a": true},
		"a": 0,
	}
	out, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":0,"b":{"a":true,"z":[1,null,"x"]}}`, string(out))
}

func TestCanonicalMarshal_StructSortsFields(t *testing.T) {
	type sample struct {
		Zebra int    `json:"zebra"`
		Alpha string `json:"alpha"`
	}
	out, err := jsonutil.CanonicalMarshal(sample{Zebra: 1, Alpha: "a"})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"a","zebra":1}`, string(out))
}

func TestCanonicalMarshal_LargeIDsExact(t *testing.T) {
	type row struct {
		ID uint64 `json:"id"`
	}
	out, err := jsonutil.CanonicalMarshal(row{ID: math.MaxUint64})
	require.NoError(t, err)
	assert.Equal(t, `{"id":18446744073709551615}`, string(out))
}

func TestCanonicalMarshal_Deterministic(t *testing.T) {
	input := map[string]any{"c": 3, "a": 1, "b": map[string]any{"y": 1, "x": 2}}
	first, err := jsonutil.CanonicalMarshal(input)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := jsonutil.CanonicalMarshal(input)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCanonicalMarshal_Unsupported(t *testing.T) {
	_, err := jsonutil.CanonicalMarshal(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)

	_, err = jsonutil.CanonicalMarshal(math.NaN())
	assert.Error(t, err)
}
