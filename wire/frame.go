// Package wire implements the agent datagram protocol.
//
// One UDP datagram carries one frame. Three frame kinds exist:
//   - Handshake: the ASCII literal HELLO, answered with READY
//   - ParameterRequest: ASCII REQUEST_PARAMS[,id:<int>,analog26:<int>]
//   - Telemetry: binary agent id, send counter, and fixed-width sub-records
//
// Anything else is invalid. Invalid frames are reported as *FrameError and
// never abort the receive loop.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pithecene-io/colony/types"
)

// Protocol literals.
const (
	HandshakeToken     = "HELLO"
	HandshakeReply     = "READY"
	ParamRequestPrefix = "REQUEST_PARAMS"
)

// Telemetry header layout.
const (
	// HeaderSize is agent id (1 byte) plus the little-endian u32 send counter.
	HeaderSize = 5
	// MinTelemetrySize is the smallest datagram accepted as telemetry.
	MinTelemetrySize = 10
)

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorDecode indicates an unrecognized or malformed frame.
	FrameErrorDecode FrameErrorKind = iota
	// FrameErrorProtocol indicates a telemetry payload whose sub-record
	// block is not a whole number of records.
	FrameErrorProtocol
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorDecode:
		return "decode_error"
	case FrameErrorProtocol:
		return "protocol_violation"
	default:
		return fmt.Sprintf("frame_error(%d)", int(k))
	}
}

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsProtocolViolation returns true if err is a sub-record size mismatch.
func IsProtocolViolation(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind == FrameErrorProtocol
	}
	return false
}

// IsDecodeError returns true if err is a malformed or unrecognized frame.
func IsDecodeError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind == FrameErrorDecode
	}
	return false
}

// FrameKind discriminates decoded frames.
type FrameKind int

const (
	KindHandshake FrameKind = iota + 1
	KindParameterRequest
	KindTelemetry
)

func (k FrameKind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindParameterRequest:
		return "parameter_request"
	case KindTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// Frame is a successfully decoded datagram.
type Frame interface {
	Kind() FrameKind
}

// Handshake is the HELLO frame.
type Handshake struct{}

// Kind implements Frame.
func (*Handshake) Kind() FrameKind { return KindHandshake }

// ParameterRequest asks the server for the agent's control parameters.
type ParameterRequest struct {
	AgentID int
	// Analog26 is the raw calibration channel reading reported by the agent.
	Analog26 int
	// Legacy is set for the bare REQUEST_PARAMS form sent by older firmware,
	// which only understands the three-field reply.
	Legacy bool
}

// Kind implements Frame.
func (*ParameterRequest) Kind() FrameKind { return KindParameterRequest }

// Telemetry is one batch of samples from an agent.
type Telemetry struct {
	AgentID     uint8
	SendCounter uint32
	Records     []types.Record
}

// Kind implements Frame.
func (*Telemetry) Kind() FrameKind { return KindTelemetry }

// LastCounter returns the raw counter of the final sub-record.
func (t *Telemetry) LastCounter() uint32 {
	if len(t.Records) == 0 {
		return 0
	}
	return t.Records[len(t.Records)-1].Counter
}

// Codec decodes and encodes frames for one deployment profile.
type Codec struct {
	profile types.Profile
}

// NewCodec creates a codec for the given profile.
func NewCodec(profile types.Profile) (*Codec, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return &Codec{profile: profile}, nil
}

// Profile returns the codec's profile.
func (c *Codec) Profile() types.Profile {
	return c.profile
}

// Decode classifies and decodes one datagram payload.
//
// Errors are always *FrameError:
//   - Kind=FrameErrorDecode: unrecognized or malformed frame
//   - Kind=FrameErrorProtocol: telemetry remainder is not a whole number of records
func (c *Codec) Decode(payload []byte) (Frame, error) {
	if string(payload) == HandshakeToken {
		return &Handshake{}, nil
	}
	if bytes.HasPrefix(payload, []byte(ParamRequestPrefix)) {
		return decodeParameterRequest(payload)
	}
	return c.decodeTelemetry(payload)
}

func (c *Codec) decodeTelemetry(payload []byte) (*Telemetry, error) {
	if len(payload) < MinTelemetrySize {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("datagram too short for telemetry: %d bytes", len(payload)),
		}
	}
	if payload[0] == 0 {
		// Agents send a single zero byte to warm up the UDP path.
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "telemetry agent id is zero",
		}
	}

	body := payload[HeaderSize:]
	size := c.profile.RecordSize()
	if len(body)%size != 0 {
		return nil, &FrameError{
			Kind: FrameErrorProtocol,
			Msg:  fmt.Sprintf("sub-record block of %d bytes is not a multiple of %d", len(body), size),
		}
	}

	frame := &Telemetry{
		AgentID:     payload[0],
		SendCounter: binary.LittleEndian.Uint32(payload[1:HeaderSize]),
		Records:     make([]types.Record, 0, len(body)/size),
	}
	for off := 0; off < len(body); off += size {
		rec := body[off : off+size]
		n := c.profile.CounterBytes
		frame.Records = append(frame.Records, types.Record{
			Counter: getUintLE(rec[:n]),
			A0:      rec[n],
			A1:      rec[n+1],
			A2:      rec[n+2],
		})
	}
	return frame, nil
}

// BuildAck returns the acknowledgement for a telemetry frame: the agent id
// followed by the last sub-record counter in its wire width.
func (c *Codec) BuildAck(agentID uint8, lastCounter uint32) []byte {
	buf := make([]byte, 1+c.profile.CounterBytes)
	buf[0] = agentID
	putUintLE(buf[1:], lastCounter)
	return buf
}

// EncodeTelemetry builds a telemetry datagram. Counters are truncated to
// the profile's wire width.
func (c *Codec) EncodeTelemetry(agentID uint8, sendCounter uint32, records []types.Record) []byte {
	size := c.profile.RecordSize()
	buf := make([]byte, HeaderSize+len(records)*size)
	buf[0] = agentID
	binary.LittleEndian.PutUint32(buf[1:HeaderSize], sendCounter)
	n := c.profile.CounterBytes
	for i, r := range records {
		rec := buf[HeaderSize+i*size : HeaderSize+(i+1)*size]
		putUintLE(rec[:n], r.Counter)
		rec[n] = r.A0
		rec[n+1] = r.A1
		rec[n+2] = r.A2
	}
	return buf
}

// getUintLE reads a little-endian unsigned integer of 1..4 bytes.
func getUintLE(b []byte) uint32 {
	var v uint32
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

// putUintLE writes v little-endian into all of b, dropping high bytes.
func putUintLE(b []byte, v uint32) {
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
}
