package protocol

import (
	"errors"
	"fmt"
	"io"
)

// WriteMsg writes m to w as one frame. The frame is handed to w in a single
// Write call so that header and payload are never split across writers.
func WriteMsg(w io.Writer, m Message) error {
	buf, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", m.Type(), err)
	}

	n, err := w.Write(buf)
	if err != nil {
		return err
	}

	if n != len(buf) {
		return fmt.Errorf("short write of %s: %d of %d bytes: %w",
			m.Type(), n, len(buf), io.ErrShortWrite)
	}

	return nil
}

// ReadMsg reads exactly one frame of m's kind from r and decodes it into m.
//
// A peer that closes the stream before the first byte yields io.EOF. A peer
// that closes it in the middle of a frame yields io.ErrUnexpectedEOF.
func ReadMsg(r io.Reader, m Message) error {
	buf := make([]byte, m.WireSize())

	_, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return err
		}
		return fmt.Errorf("failed to read %s: %w", m.Type(), err)
	}

	return m.UnmarshalBinary(buf)
}

// PeekType returns the message type recorded in the header of a raw frame.
func PeekType(frame []byte) (MsgType, error) {
	if len(frame) < HeaderSize {
		return 0, fmt.Errorf("%w: header needs %d bytes, got %d",
			ErrFrameSize, HeaderSize, len(frame))
	}

	return getHeader(frame).Type, nil
}
