package ofperror

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/netrack/ofagent/ofp"
)

func TestTruncate(t *testing.T) {
	short := []byte{1, 2, 3}
	assert.Equal(t, short, Truncate(short))

	long := make([]byte, 128)
	for i := range long {
		long[i] = byte(i)
	}

	assert.Len(t, Truncate(long), 64)
	assert.Equal(t, long[:64], Truncate(long))
}

func TestOFPIsWire(t *testing.T) {
	err := OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestIsSlave, []byte{0xde, 0xad})

	wire, ok := IsWire(err)
	require := assert.New(t)
	require.True(ok)
	require.Equal(ofp.ErrTypeBadRequest, wire.Err.Type)
	require.Equal(ofp.ErrCodeBadRequestIsSlave, wire.Err.Code)

	plain := New(NotFound, "channel missing")
	_, ok = IsWire(plain)
	require.False(ok)
}
