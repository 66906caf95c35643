package rtc

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeck/callkit/internal/domain"
)

func metaFrame(t *testing.T, name string, size int64) []byte {
	t.Helper()
	data, err := json.Marshal(fileMeta{Type: metaFrameType, Name: name, Size: size})
	require.NoError(t, err)
	return data
}

func TestChunkPayloadFrameCount(t *testing.T) {
	// 1 MiB splits into exactly 64 full frames.
	data := make([]byte, 1<<20)
	chunks := chunkPayload(data)
	require.Len(t, chunks, 64)
	for _, c := range chunks {
		assert.Len(t, c, ChunkSize)
	}

	// One extra byte adds one short trailing frame.
	chunks = chunkPayload(make([]byte, 1<<20+1))
	require.Len(t, chunks, 65)
	assert.Len(t, chunks[64], 1)

	assert.Empty(t, chunkPayload(nil))
}

func TestAssemblerRoundTrip(t *testing.T) {
	payload := make([]byte, 3*ChunkSize+137)
	_, err := rand.New(rand.NewSource(42)).Read(payload)
	require.NoError(t, err)

	var asm assembler
	early, err := asm.HandleMeta(metaFrame(t, "report.pdf", int64(len(payload))))
	require.NoError(t, err)
	require.Nil(t, early)

	chunks := chunkPayload(payload)
	for i, chunk := range chunks {
		file, done := asm.HandleChunk(chunk)
		if i < len(chunks)-1 {
			assert.False(t, done)
			continue
		}
		require.True(t, done)
		assert.Equal(t, "report.pdf", file.Name)
		assert.Equal(t, int64(len(payload)), file.Size)
		assert.True(t, bytes.Equal(payload, file.Data))
	}
}

func TestAssemblerEmptyFileCompletesAtMetadata(t *testing.T) {
	var asm assembler

	// The sender emits the metadata frame and no chunks for a zero-byte
	// file, so the metadata frame alone must complete the transfer.
	file, err := asm.HandleMeta(metaFrame(t, "empty.txt", 0))
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Equal(t, "empty.txt", file.Name)
	assert.Zero(t, file.Size)
	assert.Empty(t, file.Data)

	// The assembler is not left waiting for chunks that never come.
	_, done := asm.HandleChunk([]byte{1})
	assert.False(t, done)

	// A following non-empty transfer proceeds cleanly.
	_, err = asm.HandleMeta(metaFrame(t, "next.bin", 2))
	require.NoError(t, err)
	file2, done := asm.HandleChunk([]byte{7, 8})
	require.True(t, done)
	assert.Equal(t, []byte{7, 8}, file2.Data)
}

func TestAssemblerDropsStrayChunks(t *testing.T) {
	var asm assembler

	// No metadata seen; binary frames vanish without error.
	file, done := asm.HandleChunk([]byte("garbage"))
	assert.False(t, done)
	assert.Nil(t, file)

	// A subsequent well-formed transfer is unaffected.
	_, err := asm.HandleMeta(metaFrame(t, "a.bin", 3))
	require.NoError(t, err)
	file, done = asm.HandleChunk([]byte{1, 2, 3})
	require.True(t, done)
	assert.Equal(t, []byte{1, 2, 3}, file.Data)
}

func TestAssemblerRejectsBadMetadata(t *testing.T) {
	var asm assembler

	_, err := asm.HandleMeta([]byte("{not json"))
	require.ErrorIs(t, err, domain.ErrFileTransferAborted)

	_, err = asm.HandleMeta([]byte(`{"type":"chat","name":"x","size":1}`))
	require.ErrorIs(t, err, domain.ErrFileTransferAborted)

	_, err = asm.HandleMeta(metaFrame(t, "x", -1))
	require.ErrorIs(t, err, domain.ErrFileTransferAborted)

	// After a rejected meta the assembler stays inactive.
	_, done := asm.HandleChunk([]byte{1})
	assert.False(t, done)
}

func TestAssemblerMetaResetsUnfinishedTransfer(t *testing.T) {
	var asm assembler
	_, err := asm.HandleMeta(metaFrame(t, "first.bin", 100))
	require.NoError(t, err)
	_, done := asm.HandleChunk(make([]byte, 10))
	require.False(t, done)

	// A new metadata frame abandons the partial file.
	_, err = asm.HandleMeta(metaFrame(t, "second.bin", 5))
	require.NoError(t, err)
	file, done := asm.HandleChunk([]byte{9, 8, 7, 6, 5})
	require.True(t, done)
	assert.Equal(t, "second.bin", file.Name)
	assert.Equal(t, []byte{9, 8, 7, 6, 5}, file.Data)
}

func TestAssemblerDropsOvershoot(t *testing.T) {
	var asm assembler
	_, err := asm.HandleMeta(metaFrame(t, "small.bin", 4))
	require.NoError(t, err)

	file, done := asm.HandleChunk(make([]byte, 8))
	assert.False(t, done)
	assert.Nil(t, file)

	// The failed transfer left no residue.
	_, done = asm.HandleChunk([]byte{1, 2, 3, 4})
	assert.False(t, done)
}
