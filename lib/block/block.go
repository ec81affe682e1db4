// Package block decodes binary waveform transfers from oscilloscopes.
package block

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
)

// MaxLength bounds the payload of a block. The largest InfiniiVision record
// is 8M word samples.
var MaxLength = 64 << 20

// length parses the decimal length field of a block header.
func length(field []byte) (int, error) {
	for _, c := range field {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid block length %q", field)
		}
	}
	size, err := strconv.Atoi(string(field))
	if err != nil {
		return 0, fmt.Errorf("invalid block length %q", field)
	}
	if size > MaxLength {
		return 0, fmt.Errorf("block length %d exceeds %d", size, MaxLength)
	}
	return size, nil
}

// Definite extracts the payload of an IEEE 488.2 definite-length block,
// "#<n><length><payload>". Bytes after the payload (usually the line
// terminator) are ignored.
func Definite(b []byte) ([]byte, error) {
	if len(b) < 2 {
		return nil, io.ErrUnexpectedEOF
	}
	if b[0] != '#' {
		return nil, fmt.Errorf("invalid header: want # got %q", b[0])
	}
	n := int(b[1] - '0')
	if n < 1 || n > 9 {
		return nil, fmt.Errorf("invalid length digit count %q", b[1])
	}
	if len(b) < 2+n {
		return nil, io.ErrUnexpectedEOF
	}
	size, err := length(b[2 : 2+n])
	if err != nil {
		return nil, err
	}
	data := b[2+n:]
	if len(data) < size {
		return nil, fmt.Errorf("short block: expect %d bytes, got %d", size, len(data))
	}
	return data[:size], nil
}

// Words converts big-endian 16-bit samples to signed integers.
func Words(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("odd byte count %d for 16-bit samples", len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(data[2*i:]))
	}
	return out, nil
}

// ReadDefinite reads one definite-length block from r and returns it whole,
// header included, so it can be handed to Definite. Anything up to and
// including the next newline after the payload is discarded.
func ReadDefinite(r *bufio.Reader) ([]byte, error) {
	// skip a command echo or header such as ":WAV:DATA "
	if _, err := r.ReadString('#'); err != nil {
		return nil, err
	}
	nd, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	n := int(nd - '0')
	if n < 1 || n > 9 {
		return nil, fmt.Errorf("invalid length digit count %q", nd)
	}
	head := make([]byte, 2+n)
	head[0], head[1] = '#', nd
	if _, err := io.ReadFull(r, head[2:]); err != nil {
		return nil, err
	}
	size, err := length(head[2:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(head)+size)
	copy(out, head)
	if _, err := io.ReadFull(r, out[len(head):]); err != nil {
		return nil, err
	}
	if _, err := r.ReadString('\n'); err != nil && err != io.EOF {
		return nil, err
	}
	return out, nil
}
