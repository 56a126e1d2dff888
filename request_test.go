package of

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netrack/ofagent/ofp"
)

func TestNewRequestNilBody(t *testing.T) {
	req, err := NewRequest(TypeHello, nil)
	require.NoError(t, err)
	assert.Nil(t, req.Body)
	assert.Equal(t, TypeHello, req.Header.Type)
}

func TestNewRequestWriterToBody(t *testing.T) {
	echo := &ofp.EchoRequest{Data: []byte{1, 2, 3}}

	req, err := NewRequest(TypeEchoRequest, echo)
	require.NoError(t, err)
	require.NotNil(t, req.Body)

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, body)
}

func TestRequestWriteReadRoundTrip(t *testing.T) {
	var wbuf bytes.Buffer

	req, err := NewRequest(TypeHello, nil)
	require.NoError(t, err)
	req.Header.XID = 7

	_, err = req.WriteTo(&wbuf)
	require.NoError(t, err)

	var got Request
	_, err = got.ReadFrom(&wbuf)
	require.NoError(t, err)

	assert.Equal(t, TypeHello, got.Header.Type)
	assert.Equal(t, uint32(7), got.Header.XID)
	assert.EqualValues(t, 0, got.ContentLength)
}
