// Package wire implements the daemon's framed wire protocol: a
// length-prefixed typed frame on a duplex byte stream, used over the
// local Unix socket by every streaming client. It is transport-agnostic
// (it never touches HTTP or WebSocket plumbing) and deliberately small —
// encode/decode only, grounded on the teacher's own
// internal/session/message frame helpers (WriteFrame/ReadFrame), widened
// to the full type table this daemon needs.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Type is the one-byte frame type tag. Values are fixed by the wire
// protocol and must never be renumbered.
type Type byte

const (
	TypeCreateSession         Type = 0x01
	TypeCreateSessionResponse Type = 0x02
	TypeAttachSession         Type = 0x03
	TypeAttachSessionResponse Type = 0x04
	TypeDetach                Type = 0x05
	TypeResize                Type = 0x06
	TypeError                 Type = 0x07
	TypeListSessions          Type = 0x08
	TypeListSessionsResponse  Type = 0x09
	TypeKillSession           Type = 0x0A
	TypeKillSessionResponse   Type = 0x0B
	TypeDetachSession         Type = 0x0C
	TypeDetachSessionResponse Type = 0x0D

	TypePtyOutput  Type = 0x10
	TypeStdinInput Type = 0x11

	TypeOverlaySync Type = 0x12
	TypePanelSync   Type = 0x13
)

func (t Type) String() string {
	switch t {
	case TypeCreateSession:
		return "CreateSession"
	case TypeCreateSessionResponse:
		return "CreateSessionResponse"
	case TypeAttachSession:
		return "AttachSession"
	case TypeAttachSessionResponse:
		return "AttachSessionResponse"
	case TypeDetach:
		return "Detach"
	case TypeResize:
		return "Resize"
	case TypeError:
		return "Error"
	case TypeListSessions:
		return "ListSessions"
	case TypeListSessionsResponse:
		return "ListSessionsResponse"
	case TypeKillSession:
		return "KillSession"
	case TypeKillSessionResponse:
		return "KillSessionResponse"
	case TypeDetachSession:
		return "DetachSession"
	case TypeDetachSessionResponse:
		return "DetachSessionResponse"
	case TypePtyOutput:
		return "PtyOutput"
	case TypeStdinInput:
		return "StdinInput"
	case TypeOverlaySync:
		return "OverlaySync"
	case TypePanelSync:
		return "PanelSync"
	default:
		return fmt.Sprintf("Type(0x%02x)", byte(t))
	}
}

// Valid reports whether t is one of the fixed frame type values.
func (t Type) Valid() bool {
	switch t {
	case TypeCreateSession, TypeCreateSessionResponse, TypeAttachSession, TypeAttachSessionResponse,
		TypeDetach, TypeResize, TypeError, TypeListSessions, TypeListSessionsResponse,
		TypeKillSession, TypeKillSessionResponse, TypeDetachSession, TypeDetachSessionResponse,
		TypePtyOutput, TypeStdinInput, TypeOverlaySync, TypePanelSync:
		return true
	default:
		return false
	}
}

// MaxPayloadSize caps a single frame's payload at 16 MiB, as required by
// spec §6. A declared length above this is a protocol error.
const MaxPayloadSize = 16 * 1024 * 1024

// ErrPayloadTooLarge is returned by ReadFrom when the declared payload
// length exceeds MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("wire: frame payload exceeds 16 MiB cap")

// ErrUnknownType is returned by ReadFrom when the type byte does not
// match any known Type. It is fatal for the connection it was read from.
var ErrUnknownType = errors.New("wire: unknown frame type byte")

// Frame is a decoded wire entity: a type tag plus its raw payload.
// Control frames carry JSON payloads; PtyOutput/StdinInput carry raw
// bytes.
type Frame struct {
	Type    Type
	Payload []byte
}

// NewControlFrame JSON-encodes msg as the payload of a control frame.
func NewControlFrame(t Type, msg any) (Frame, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Frame{}, fmt.Errorf("wire: marshal %s payload: %w", t, err)
	}
	return Frame{Type: t, Payload: payload}, nil
}

// NewDataFrame wraps raw bytes (PtyOutput or StdinInput) as a frame.
// The payload is not copied; callers must not mutate data afterward.
func NewDataFrame(t Type, data []byte) Frame {
	return Frame{Type: t, Payload: data}
}

// Decode unmarshals a control frame's JSON payload into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Payload, v)
}

// WriteTo encodes and writes the frame: [type:u8][length:u32 BE][payload].
func (f Frame) WriteTo(w io.Writer) error {
	if len(f.Payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	header := make([]byte, 5)
	header[0] = byte(f.Type)
	binary.BigEndian.PutUint32(header[1:5], uint32(len(f.Payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("wire: write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrom reads one frame from r. A short read or EOF mid-frame fails
// with an error wrapping io.ErrUnexpectedEOF (via io.ReadFull); a
// declared length above MaxPayloadSize fails with ErrPayloadTooLarge
// without attempting to read the payload; an unrecognized type byte
// fails with ErrUnknownType.
func ReadFrom(r io.Reader) (Frame, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}
	t := Type(header[0])
	if !t.Valid() {
		return Frame{}, fmt.Errorf("%w: 0x%02x", ErrUnknownType, header[0])
	}
	length := binary.BigEndian.Uint32(header[1:5])
	if length > MaxPayloadSize {
		return Frame{}, ErrPayloadTooLarge
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("wire: read frame payload: %w", err)
		}
	}
	return Frame{Type: t, Payload: payload}, nil
}
