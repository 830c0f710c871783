package proximity

import "errors"

// ChunkSize is the payload bytes per chunk, chosen to stay under
// typical short-range-link packet limits.
const ChunkSize = 180

// Continuation flag byte prefixed to every chunk.
const (
	flagMore  byte = '0'
	flagFinal byte = '1'
)

// Reassembly errors.
var (
	ErrEmptyChunk         = errors.New("proximity: empty chunk")
	ErrBadChunkFlag       = errors.New("proximity: bad continuation flag")
	ErrReassemblyComplete = errors.New("proximity: chunk received after final flag")
)

// Chunk splits an encoded payload into transport-sized chunks. Each
// chunk carries a one-byte continuation flag: '0' for more to come,
// '1' for the final chunk. An empty payload still produces one final
// chunk so the receiver always observes a terminator.
func Chunk(encoded string) [][]byte {
	data := []byte(encoded)
	if len(data) == 0 {
		return [][]byte{{flagFinal}}
	}

	var chunks [][]byte
	for start := 0; start < len(data); start += ChunkSize {
		end := start + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		flag := flagMore
		if end == len(data) {
			flag = flagFinal
		}
		chunk := make([]byte, 0, 1+end-start)
		chunk = append(chunk, flag)
		chunk = append(chunk, data[start:end]...)
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Reassembler buffers chunks in arrival order until the final-flag
// chunk arrives. The transport guarantees ordered, acknowledged
// delivery per chunk; out-of-order arrival is not handled here.
type Reassembler struct {
	buf  []byte
	done bool
}

// NewReassembler returns an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Add appends one chunk. It returns true once the final chunk has been
// consumed. Chunks after completion are rejected rather than silently
// appended.
func (r *Reassembler) Add(chunk []byte) (bool, error) {
	if r.done {
		return true, ErrReassemblyComplete
	}
	if len(chunk) == 0 {
		return false, ErrEmptyChunk
	}
	switch chunk[0] {
	case flagMore:
	case flagFinal:
		r.done = true
	default:
		return false, ErrBadChunkFlag
	}
	r.buf = append(r.buf, chunk[1:]...)
	return r.done, nil
}

// Done reports whether the final chunk has arrived.
func (r *Reassembler) Done() bool {
	return r.done
}

// Payload returns the reassembled encoded payload.
func (r *Reassembler) Payload() string {
	return string(r.buf)
}
