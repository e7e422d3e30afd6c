// Package wire frames the relay's on-wire packet format: a fixed-size head
// followed by an opaque body of the size the head declares.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Kind distinguishes what a packet's body carries.
type Kind uint8

const (
	KindRequest Kind = iota
	KindResponse
	KindStreamPart
)

// StreamType distinguishes what a stream-carrying packet is ferrying.
type StreamType uint8

const (
	StreamUndefined StreamType = iota
	StreamRequest
	StreamResource
)

// Flag bits carried in the head's trailing flags byte. None are defined by
// the wire contract yet; the byte exists so future framing needs (e.g. a
// compressed-body bit) don't require a head layout change.
type Flag uint8

// HeadSize is the fixed, constant size of every packet head in bytes.
const HeadSize = 4 + 1 + 4 + 1 + 4 + 4 + 4 + 1

// MaxBodySize bounds how large a single packet body may declare itself,
// guarding against a malicious or corrupt head forcing an unbounded read.
const MaxBodySize = 16 * 1024 * 1024

// Head is the fixed-size prefix of every packet.
type Head struct {
	ID         uint32
	Kind       Kind
	StreamID   uint32
	StreamType StreamType
	Parts      uint32
	Part       uint32
	BodySize   uint32
	Flags      Flag
}

// MalformedHeadError reports a head whose fields are out of range.
type MalformedHeadError struct {
	Reason string
}

func (e *MalformedHeadError) Error() string {
	return fmt.Sprintf("malformed packet head: %s", e.Reason)
}

// Packet is a decoded head paired with its (possibly empty) body.
type Packet struct {
	Head Head
	Body []byte
}

// Encode writes the head followed by body to w. len(body) must equal
// head.BodySize; callers construct the head from the body they already have.
func Encode(w io.Writer, head Head, body []byte) error {
	if int(head.BodySize) != len(body) {
		return &MalformedHeadError{Reason: "body size does not match declared length"}
	}
	buf := make([]byte, HeadSize+len(body))
	encodeHead(buf, head)
	copy(buf[HeadSize:], body)
	_, err := w.Write(buf)
	return err
}

func encodeHead(buf []byte, h Head) {
	binary.BigEndian.PutUint32(buf[0:4], h.ID)
	buf[4] = byte(h.Kind)
	binary.BigEndian.PutUint32(buf[5:9], h.StreamID)
	buf[9] = byte(h.StreamType)
	binary.BigEndian.PutUint32(buf[10:14], h.Parts)
	binary.BigEndian.PutUint32(buf[14:18], h.Part)
	binary.BigEndian.PutUint32(buf[18:22], h.BodySize)
	buf[22] = byte(h.Flags)
}

func decodeHead(buf []byte) Head {
	return Head{
		ID:         binary.BigEndian.Uint32(buf[0:4]),
		Kind:       Kind(buf[4]),
		StreamID:   binary.BigEndian.Uint32(buf[5:9]),
		StreamType: StreamType(buf[9]),
		Parts:      binary.BigEndian.Uint32(buf[10:14]),
		Part:       binary.BigEndian.Uint32(buf[14:18]),
		BodySize:   binary.BigEndian.Uint32(buf[18:22]),
		Flags:      Flag(buf[22]),
	}
}

// validate enforces basic head sanity: a stream-part packet must declare at
// least one part, and no body may exceed the configured ceiling.
func validate(h Head) error {
	if h.BodySize > MaxBodySize {
		return &MalformedHeadError{Reason: fmt.Sprintf("body size %d exceeds ceiling %d", h.BodySize, MaxBodySize)}
	}
	if h.Kind == KindStreamPart && h.Parts == 0 {
		return &MalformedHeadError{Reason: "stream packet declares zero parts"}
	}
	return nil
}

// ReadPacket reads exactly one head, then exactly BodySize body bytes, from r.
// A packet with BodySize 0 has a nil body and no body read is attempted.
func ReadPacket(r io.Reader) (Packet, error) {
	headBuf := make([]byte, HeadSize)
	if _, err := io.ReadFull(r, headBuf); err != nil {
		return Packet{}, err
	}
	head := decodeHead(headBuf)
	if err := validate(head); err != nil {
		return Packet{}, err
	}

	if head.BodySize == 0 {
		return Packet{Head: head}, nil
	}

	body := make([]byte, head.BodySize)
	if _, err := io.ReadFull(r, body); err != nil {
		return Packet{}, err
	}
	return Packet{Head: head, Body: body}, nil
}
