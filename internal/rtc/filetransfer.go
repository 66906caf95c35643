package rtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/helpdeck/callkit/internal/domain"
)

// ChunkSize keeps each binary frame under typical data-channel message-size
// limits. Not semantically meaningful; completion is driven by the declared
// size, not the chunking.
const ChunkSize = 16 * 1024

// fileMeta is the single text control frame that precedes a file's chunks.
// There is no end marker: the receiver infers completion from size.
type fileMeta struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

const metaFrameType = "file-meta"

// assembler reassembles inbound files. The channel carries at most one file
// at a time (there is no transfer ID in the framing); concurrent transfers
// need one channel each.
type assembler struct {
	mu       sync.Mutex
	active   bool
	name     string
	declared int64
	received int64
	chunks   [][]byte
}

// HandleMeta starts a fresh transfer, discarding any unfinished prior state.
// Malformed metadata leaves the assembler inactive so following binary
// frames fall into the stray-frame drop path. A zero-size transfer has no
// chunks behind it, so it completes right here and the file is returned.
func (a *assembler) HandleMeta(data []byte) (*domain.ReceivedFile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.reset()

	var meta fileMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: bad metadata: %v", domain.ErrFileTransferAborted, err)
	}
	if meta.Type != metaFrameType {
		return nil, fmt.Errorf("%w: unexpected control frame %q", domain.ErrFileTransferAborted, meta.Type)
	}
	if meta.Size < 0 {
		return nil, fmt.Errorf("%w: negative size", domain.ErrFileTransferAborted)
	}
	if meta.Size == 0 {
		return &domain.ReceivedFile{Name: meta.Name, Size: 0, Data: []byte{}}, nil
	}

	a.active = true
	a.name = meta.Name
	a.declared = meta.Size
	return nil, nil
}

// HandleChunk appends one binary frame. Frames with no active transfer are
// silently dropped: a stale or malformed sender must not corrupt an
// unrelated later transfer. Returns the completed file when the declared
// size is reached exactly.
func (a *assembler) HandleChunk(data []byte) (*domain.ReceivedFile, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		log.Debug().Str("module", "rtc").Int("bytes", len(data)).Msg("dropping stray binary frame")
		return nil, false
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)
	a.chunks = append(a.chunks, chunk)
	a.received += int64(len(chunk))

	if a.received < a.declared {
		return nil, false
	}
	if a.received > a.declared {
		// The sender overshot the declared size; nothing of this transfer
		// can be trusted.
		log.Warn().Str("module", "rtc").Str("name", a.name).Int64("declared", a.declared).Int64("received", a.received).Msg("transfer overshot declared size, dropping")
		a.reset()
		return nil, false
	}

	blob := make([]byte, 0, a.declared)
	for _, c := range a.chunks {
		blob = append(blob, c...)
	}
	file := &domain.ReceivedFile{Name: a.name, Size: a.declared, Data: blob}
	a.reset()
	return file, true
}

func (a *assembler) reset() {
	a.active = false
	a.name = ""
	a.declared = 0
	a.received = 0
	a.chunks = nil
}

// chunkPayload slices data into ChunkSize frames, in order.
func chunkPayload(data []byte) [][]byte {
	chunks := make([][]byte, 0, (len(data)+ChunkSize-1)/ChunkSize)
	for off := 0; off < len(data); off += ChunkSize {
		end := off + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	return chunks
}

// FileChannel frames files over the reliable-ordered data channel opened
// alongside the media. Not safe over an unordered/unreliable channel
// configuration; the framing carries no sequence numbers.
type FileChannel struct {
	dc     *webrtc.DataChannel
	asm    assembler
	onFile func(domain.ReceivedFile)
}

// NewFileChannel wires the receive path. onFile is invoked for each
// completed transfer; the surfaced file is immutable.
func NewFileChannel(dc *webrtc.DataChannel, onFile func(domain.ReceivedFile)) *FileChannel {
	f := &FileChannel{dc: dc, onFile: onFile}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			file, err := f.asm.HandleMeta(msg.Data)
			if err != nil {
				// Dropped, not thrown: one bad transfer must not tear
				// down an otherwise healthy call.
				log.Warn().Err(err).Str("module", "rtc").Msg("file metadata rejected")
				return
			}
			if file != nil && f.onFile != nil {
				f.onFile(*file)
			}
			return
		}
		if file, done := f.asm.HandleChunk(msg.Data); done && f.onFile != nil {
			f.onFile(*file)
		}
	})
	return f
}

// Send transmits one file: a text metadata frame, then the payload as
// ordered fixed-size binary chunks.
func (f *FileChannel) Send(name string, data []byte) error {
	meta, err := json.Marshal(fileMeta{Type: metaFrameType, Name: name, Size: int64(len(data))})
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %v", domain.ErrFileTransferAborted, err)
	}
	if err := f.dc.SendText(string(meta)); err != nil {
		return fmt.Errorf("%w: send metadata: %v", domain.ErrFileTransferAborted, err)
	}
	for _, chunk := range chunkPayload(data) {
		if err := f.dc.Send(chunk); err != nil {
			return fmt.Errorf("%w: send chunk: %v", domain.ErrFileTransferAborted, err)
		}
	}
	log.Info().Str("module", "rtc").Str("name", name).Int("bytes", len(data)).Msg("file sent")
	return nil
}
