package conn_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cotoami/cotoami-node/pkg/conn"
)

func TestBackoffDoublesUpToCeiling(t *testing.T) {
	b := conn.NewBackoff()

	assert.Equal(t, 300*time.Millisecond, b.Next())
	assert.Equal(t, 600*time.Millisecond, b.Next())
	assert.Equal(t, 1200*time.Millisecond, b.Next())
	assert.Equal(t, 2400*time.Millisecond, b.Next())
	assert.Equal(t, 4800*time.Millisecond, b.Next())
	assert.Equal(t, 9600*time.Millisecond, b.Next())
	assert.Equal(t, 10*time.Second, b.Next(), "delay must cap at 10s")
	assert.Equal(t, 10*time.Second, b.Next(), "delay stays capped on further calls")
}

func TestBackoffResetReturnsToInitialDelay(t *testing.T) {
	b := conn.NewBackoff()
	b.Next()
	b.Next()
	b.Reset()
	assert.Equal(t, 300*time.Millisecond, b.Next())
}
