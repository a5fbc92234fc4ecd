package fingerprint

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDeterministic(t *testing.T) {
	a, err := Compute([]byte("display pipeline"))
	require.NoError(t, err)
	b, err := Compute([]byte("display pipeline"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.Equal(t, strings.ToLower(a), a)
}

func TestComputeSingleByteDifference(t *testing.T) {
	a, err := Compute([]byte("display pipeline"))
	require.NoError(t, err)
	b, err := Compute([]byte("display pipelinf"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestComputeEmpty(t *testing.T) {
	_, err := Compute(nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestComputeReaderMatchesCompute(t *testing.T) {
	data := []byte("same bytes either way")

	want, err := Compute(data)
	require.NoError(t, err)

	got, err := ComputeReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestComputeReaderEmpty(t *testing.T) {
	_, err := ComputeReader(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEmptyInput)
}
