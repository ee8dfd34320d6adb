package protocol

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/rarescovei5/synclite/internal/state"
	"github.com/rarescovei5/synclite/internal/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip_InitialSyncPush(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	msg := NewInitialSyncPush(map[string]*state.FileEntry{
		"a.txt": {Hash: "abc", LastModified: now},
	})

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, msg))

	decoded, err := ReadMessage(&buf)
	require.NoError(t, err)

	got, ok := decoded.(*InitialSyncPush)
	require.True(t, ok)
	assert.Equal(t, TypeInitialSyncPush, got.Type)
	assert.Equal(t, "abc", got.SyncState["a.txt"].Hash)
	assert.True(t, now.Equal(got.SyncState["a.txt"].LastModified))
}

func TestRoundTrip_FileUpdatePush_Base64Bytes(t *testing.T) {
	msg := NewFileUpdatePush(
		map[string]FileBytesEntry{
			"b.txt": {Bytes: []byte("hello"), Hash: "h", LastModified: time.Now().UTC()},
		},
		nil, []string{"newdir"}, nil,
	)

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, msg))

	decoded, err := ReadMessage(&buf)
	require.NoError(t, err)

	got, ok := decoded.(*FileUpdatePush)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got.FilesToWrite["b.txt"].Bytes)
	assert.Equal(t, []string{"newdir"}, got.DirCreates)
	assert.False(t, got.IsEmpty())
}

func TestFileUpdatePush_IsEmpty(t *testing.T) {
	msg := NewFileUpdatePush(nil, nil, nil, nil)
	assert.True(t, msg.IsEmpty())
}

func TestReadFrame_RejectsOversizeDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 4)
	header[0] = 0xFF // absurdly large declared length
	buf.Write(header)

	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, syncerr.ErrFrameTooLarge)
}

func TestWriteFrame_RejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	huge := make([]byte, MaxFrameSize+1)

	err := WriteFrame(&buf, huge)
	assert.ErrorIs(t, err, syncerr.ErrFrameTooLarge)
	assert.Zero(t, buf.Len())
}

func TestReadMessage_CleanCloseSurfacesEOF(t *testing.T) {
	r, w := io.Pipe()
	w.Close()

	_, err := ReadMessage(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecode_UnknownTypeIsProtocolError(t *testing.T) {
	_, err := Decode([]byte(`{"type":"Bogus"}`))
	assert.ErrorIs(t, err, syncerr.ErrProtocol)
}
