package id_test

import (
	"testing"

	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdRoundTripsThroughText(t *testing.T) {
	want := id.New[id.CotoKind]()

	text, err := want.MarshalText()
	require.NoError(t, err)

	var got id.CotoID
	require.NoError(t, got.UnmarshalText(text))

	assert.Equal(t, want, got)
}

func TestIdScanAndValue(t *testing.T) {
	want := id.New[id.CotonomaKind]()

	v, err := want.Value()
	require.NoError(t, err)

	var got id.CotonomaID
	require.NoError(t, got.Scan(v))

	assert.Equal(t, want, got)
	assert.False(t, got.IsNil())
}

func TestNilIdHasZeroUUID(t *testing.T) {
	var z id.CotoID
	assert.True(t, z.IsNil())

	v, err := z.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}
