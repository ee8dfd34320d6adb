package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rarescovei5/synclite/internal/syncerr"
)

// MaxFrameSize is the 64 MiB frame length cap from spec section 4.4.
// Oversize frames close the connection with ErrFrameTooLarge.
const MaxFrameSize = 64 * 1024 * 1024

const lengthPrefixSize = 4

// WriteFrame writes payload behind a 4-byte big-endian length prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: outbound frame is %d bytes", syncerr.ErrFrameTooLarge, len(payload))
	}

	var header [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("%w: write frame header: %v", syncerr.ErrIoError, err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("%w: write frame payload: %v", syncerr.ErrIoError, err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. A clean close at a frame
// boundary surfaces as io.EOF, unwrapped, so callers can distinguish it
// from a genuine protocol violation.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: truncated frame header: %v", syncerr.ErrProtocol, err)
		}
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: declared frame size %d bytes", syncerr.ErrFrameTooLarge, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: truncated frame payload: %v", syncerr.ErrIoError, err)
	}
	return payload, nil
}

// WriteMessage marshals msg to JSON and writes it as one frame.
func WriteMessage(w io.Writer, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshal message: %v", syncerr.ErrProtocol, err)
	}
	return WriteFrame(w, payload)
}

// ReadMessage reads one frame and decodes it into a concrete message type.
func ReadMessage(r io.Reader) (any, error) {
	frame, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Decode(frame)
}
