// Package framing implements C7: length-prefixed packet framing over a
// duplex byte stream. spec.md §9(b) settles an inconsistency in the
// original wire format (2-byte vs. 4-byte length prefixes) in favor of a
// 4-byte big-endian prefix for new implementations, keeping the 2-byte
// form available as ReadLegacyFrame for compatibility. Translated from
// original_source/backend/src/server/transport/stream.rs.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's payload to guard against a
// corrupt or hostile length prefix causing an unbounded allocation.
const MaxFrameSize = 64 << 20 // 64 MiB

// ErrFrameTooLarge is returned when a frame's declared length exceeds
// MaxFrameSize.
var ErrFrameTooLarge = errors.New("framing: frame exceeds maximum size")

// WriteFrame writes a 4-byte big-endian length prefix followed by
// payload.
func WriteFrame(w io.Writer, payload []byte) error {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))

	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("framing: write length prefix: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("framing: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one 4-byte-length-prefixed frame. A clean EOF at the
// start of a frame is returned unwrapped so callers can distinguish
// "peer closed" from a mid-frame I/O error (spec.md §4.7: "a short read
// terminates the connection cleanly").
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("framing: read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("framing: read payload: %w", err)
	}
	return payload, nil
}

// ReadLegacyFrame reads one 2-byte-length-prefixed frame, the format
// used by earlier builds of the source protocol (spec.md §9(b)).
func ReadLegacyFrame(r io.Reader) ([]byte, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("framing: read legacy length prefix: %w", err)
	}

	length := binary.BigEndian.Uint16(prefix[:])
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("framing: read legacy payload: %w", err)
	}
	return payload, nil
}

// WriteLegacyFrame writes a 2-byte-length-prefixed frame. payload must
// fit in 16 bits.
func WriteLegacyFrame(w io.Writer, payload []byte) error {
	if len(payload) > 0xFFFF {
		return ErrFrameTooLarge
	}

	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(payload)))

	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("framing: write legacy length prefix: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("framing: write legacy payload: %w", err)
	}
	return nil
}
