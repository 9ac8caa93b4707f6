// Package frame reads and writes the length-prefixed frames used on local
// IPC sockets: [opcode LE u32][length LE u32][payload].
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxSize bounds the payload a peer can make us allocate
const MaxSize = 1 << 20

// Write sends one frame in a single write.
func Write(w io.Writer, opcode uint32, payload []byte) error {
	buf := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], opcode)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[8:], payload)
	_, err := w.Write(buf)
	return err
}

// Read reads one frame, allocating a buffer of the exact size declared in
// the header.
func Read(r io.Reader) (uint32, []byte, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	opcode := binary.LittleEndian.Uint32(header[0:4])
	length := binary.LittleEndian.Uint32(header[4:8])

	if length > MaxSize {
		return 0, nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", length, MaxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return opcode, payload, nil
}
