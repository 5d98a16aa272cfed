package rpc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// request is the frame a client sends: a call against a named registered
// object. Oneway requests never receive a response.
type request struct {
	CallID int64             `json:"call_id"`
	Target string            `json:"target"`
	Method string            `json:"method"`
	Args   []json.RawMessage `json:"args"`
	Oneway bool              `json:"oneway"`
}

// response carries either a return value or an error kind/message back to
// the caller.
type response struct {
	CallID  int64           `json:"call_id"`
	OK      bool            `json:"ok"`
	Value   json.RawMessage `json:"value,omitempty"`
	ErrKind ErrKind         `json:"err_kind,omitempty"`
	ErrMsg  string          `json:"err_msg,omitempty"`
}

// maxFrameSize guards against a corrupt length prefix turning into an
// unbounded allocation.
const maxFrameSize = 64 << 20

// writeFrame writes a length-prefixed JSON payload: a big-endian uint32
// byte count followed by the payload.
func writeFrame(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// readFrame reads one length-prefixed frame and decodes it into v.
func readFrame(r io.Reader, v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return newError(ErrConnectionClosed, "peer closed connection")
		}
		return err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return newError(ErrDeserialisation, "frame of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return newError(ErrConnectionClosed, "peer closed connection mid-frame")
		}
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return newError(ErrDeserialisation, "%v", err)
	}
	return nil
}

func encodeArg(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Arguments are always produced by our own proxy code from
		// plain Go values; a marshal failure here is a programming bug.
		panic(fmt.Sprintf("rpc: failed to encode argument: %v", err))
	}
	return b
}
