// Package protocol implements the wire codec of the RPC protocol: frame
// headers, the negotiation record format, and the exception-record
// format. Every multi-byte integer is little-endian; this is a fixed part
// of the wire contract, not a free style choice.
//
// Frame layouts (all integers little-endian):
//
//	Negotiation:              8-byte magic | 4-byte len L | L bytes of feature records
//	Request (baseline):       8-byte type  | 8-byte msg id | 4-byte payload len P | P bytes
//	Request (with timeout):   8-byte expiration ms | <baseline request, 20 bytes>
//	Response:                 8-byte msg id (signed) | 4-byte payload len P | P bytes
//	Compressed envelope:      4-byte compressed len | compressed bytes
//
// A feature record inside a negotiation frame is 4-byte feature id, 4-byte
// length N, N bytes of feature-specific payload. An exception record is
// 4-byte kind, 4-byte length L, L bytes.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"corerpc"
)

// Magic identifies this protocol on the wire. A peer that sends a
// different magic is speaking something else entirely, and the connection
// is torn down without a partial reply.
var Magic = [8]byte{'C', 'O', 'R', 'E', 'R', 'P', 'C', '1'}

const (
	NegotiationHeaderSize       = 12 // magic(8) + len(4)
	RequestHeaderSize           = 20 // type(8) + id(8) + payloadLen(4)
	RequestHeaderSizeWithExpiry = 28 // expiration(8) + RequestHeaderSize
	ResponseHeaderSize          = 12 // id(8) + payloadLen(4)
	featureRecordHeaderSize     = 8  // id(4) + len(4)
	exceptionHeaderSize         = 8  // kind(4) + len(4)
)

// ExceptionKind distinguishes the two exception payload shapes on the wire.
type ExceptionKind uint32

const (
	// ExceptionUser carries a UTF-8 message string.
	ExceptionUser ExceptionKind = 0
	// ExceptionUnknownVerb carries the 8-byte offending MessageType.
	ExceptionUnknownVerb ExceptionKind = 1
)

// EncodeNegotiationFrame writes a complete negotiation frame: magic,
// length, then one record per feature. Negotiation frames are never
// compressed.
func EncodeNegotiationFrame(w io.Writer, features corerpc.FeatureMap) error {
	extraLen := 0
	for _, payload := range features {
		extraLen += featureRecordHeaderSize + len(payload)
	}
	buf := make([]byte, NegotiationHeaderSize+extraLen)
	copy(buf[0:8], Magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], uint32(extraLen))
	p := buf[NegotiationHeaderSize:]
	for id, payload := range features {
		binary.LittleEndian.PutUint32(p[0:4], uint32(id))
		binary.LittleEndian.PutUint32(p[4:8], uint32(len(payload)))
		copy(p[8:], payload)
		p = p[featureRecordHeaderSize+len(payload):]
	}
	_, err := w.Write(buf)
	return err
}

// ReadNegotiationFrame reads and validates a negotiation frame, returning
// the decoded feature map. Returns io.EOF if the connection closed before
// any bytes were read, and a corerpc.ProtocolErr for anything else that's
// wrong, bad magic, a short read mid-frame, or a malformed feature
// record.
func ReadNegotiationFrame(r io.Reader) (corerpc.FeatureMap, error) {
	header := make([]byte, NegotiationHeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		if n == 0 && err == io.EOF {
			return nil, io.EOF
		}
		return nil, corerpc.ProtocolErr{Reason: "unexpected eof during negotiation frame"}
	}
	if string(header[0:8]) != string(Magic[:]) {
		return nil, corerpc.ProtocolErr{Reason: "wrong protocol magic"}
	}
	extraLen := binary.LittleEndian.Uint32(header[8:12])
	body := make([]byte, extraLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, corerpc.ProtocolErr{Reason: "unexpected eof during negotiation frame"}
	}
	features := corerpc.FeatureMap{}
	for len(body) > 0 {
		if len(body) < featureRecordHeaderSize {
			return nil, corerpc.ProtocolErr{Reason: "bad feature data format in negotiation frame"}
		}
		id := corerpc.FeatureID(binary.LittleEndian.Uint32(body[0:4]))
		flen := binary.LittleEndian.Uint32(body[4:8])
		body = body[featureRecordHeaderSize:]
		if uint32(len(body)) < flen {
			return nil, corerpc.ProtocolErr{Reason: "buffer underflow in feature data in negotiation frame"}
		}
		features[id] = append([]byte(nil), body[:flen]...)
		body = body[flen:]
	}
	return features, nil
}

// RequestHeader is the decoded fixed portion of a request frame.
type RequestHeader struct {
	// Expiration is the caller's remaining deadline in milliseconds as
	// seen when the request was sent, 0 meaning none. Only present on
	// the wire when the TIMEOUT feature was negotiated.
	Expiration uint64
	Type       corerpc.MessageType
	ID         corerpc.MessageID
	PayloadLen uint32
}

// RequestHeaderSizeFor returns the on-wire size of a request header for
// the given negotiated timeout mode.
func RequestHeaderSizeFor(withExpiry bool) int {
	if withExpiry {
		return RequestHeaderSizeWithExpiry
	}
	return RequestHeaderSize
}

// EncodeRequestHeader writes a request header, in the 28-byte
// with-expiration form when withExpiry is true.
func EncodeRequestHeader(w io.Writer, h RequestHeader, withExpiry bool) error {
	buf := make([]byte, RequestHeaderSizeFor(withExpiry))
	p := buf
	if withExpiry {
		binary.LittleEndian.PutUint64(p[0:8], h.Expiration)
		p = p[8:]
	}
	binary.LittleEndian.PutUint64(p[0:8], uint64(h.Type))
	binary.LittleEndian.PutUint64(p[8:16], uint64(h.ID))
	binary.LittleEndian.PutUint32(p[16:20], h.PayloadLen)
	_, err := w.Write(buf)
	return err
}

// DecodeRequestHeader parses a header buffer of exactly the expected
// length for withExpiry.
func DecodeRequestHeader(b []byte, withExpiry bool) (RequestHeader, error) {
	want := RequestHeaderSizeFor(withExpiry)
	if len(b) != want {
		return RequestHeader{}, fmt.Errorf("protocol: request header: got %d bytes, want %d", len(b), want)
	}
	var h RequestHeader
	p := b
	if withExpiry {
		h.Expiration = binary.LittleEndian.Uint64(p[0:8])
		p = p[8:]
	}
	h.Type = corerpc.MessageType(binary.LittleEndian.Uint64(p[0:8]))
	h.ID = corerpc.MessageID(binary.LittleEndian.Uint64(p[8:16]))
	h.PayloadLen = binary.LittleEndian.Uint32(p[16:20])
	return h, nil
}

// ResponseHeader is the decoded fixed portion of a response frame. A
// negative ID signals an exception reply for |ID|.
type ResponseHeader struct {
	ID         corerpc.MessageID
	PayloadLen uint32
}

func EncodeResponseHeader(w io.Writer, h ResponseHeader) error {
	buf := make([]byte, ResponseHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.ID))
	binary.LittleEndian.PutUint32(buf[8:12], h.PayloadLen)
	_, err := w.Write(buf)
	return err
}

func DecodeResponseHeader(b []byte) (ResponseHeader, error) {
	if len(b) != ResponseHeaderSize {
		return ResponseHeader{}, fmt.Errorf("protocol: response header: got %d bytes, want %d", len(b), ResponseHeaderSize)
	}
	return ResponseHeader{
		ID:         corerpc.MessageID(binary.LittleEndian.Uint64(b[0:8])),
		PayloadLen: binary.LittleEndian.Uint32(b[8:12]),
	}, nil
}

// EncodeException builds an exception payload: kind, length, bytes.
func EncodeException(kind ExceptionKind, payload []byte) []byte {
	buf := make([]byte, exceptionHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(kind))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[exceptionHeaderSize:], payload)
	return buf
}

// DecodeException parses an exception payload into a Go error value:
// RemoteErr for ExceptionUser, UnknownVerbErr for ExceptionUnknownVerb, and
// UnknownExceptionErr for anything else. An unrecognized kind poisons the
// connection, since it means the peers have desynchronized.
func DecodeException(data []byte) error {
	if len(data) < exceptionHeaderSize {
		return corerpc.ProtocolErr{Reason: "truncated exception record"}
	}
	kind := ExceptionKind(binary.LittleEndian.Uint32(data[0:4]))
	l := binary.LittleEndian.Uint32(data[4:8])
	rest := data[exceptionHeaderSize:]
	if uint32(len(rest)) < l {
		return corerpc.ProtocolErr{Reason: "truncated exception record"}
	}
	rest = rest[:l]
	switch kind {
	case ExceptionUser:
		return corerpc.RemoteErr{Message: string(rest)}
	case ExceptionUnknownVerb:
		if len(rest) != 8 {
			return corerpc.ProtocolErr{Reason: "malformed unknown-verb exception"}
		}
		return corerpc.UnknownVerbErr{Type: corerpc.MessageType(binary.LittleEndian.Uint64(rest))}
	default:
		return corerpc.UnknownExceptionErr{}
	}
}

// UnknownVerbExceptionPayload builds the exception record sent back for a
// request whose MessageType has no registered handler.
func UnknownVerbExceptionPayload(t corerpc.MessageType) []byte {
	tb := make([]byte, 8)
	binary.LittleEndian.PutUint64(tb, uint64(t))
	return EncodeException(ExceptionUnknownVerb, tb)
}

// UserExceptionPayload builds the exception record for a handler error.
func UserExceptionPayload(msg string) []byte {
	return EncodeException(ExceptionUser, []byte(msg))
}

// WriteCompressedEnvelope writes the 4-byte length prefix and compressed
// bytes for one already-compressed frame.
func WriteCompressedEnvelope(w io.Writer, compressed []byte) error {
	lb := make([]byte, 4)
	binary.LittleEndian.PutUint32(lb, uint32(len(compressed)))
	if _, err := w.Write(lb); err != nil {
		return err
	}
	_, err := w.Write(compressed)
	return err
}

// ReadCompressedEnvelope reads the 4-byte length prefix and that many
// compressed bytes; the caller decompresses them into the underlying
// frame.
func ReadCompressedEnvelope(r io.Reader) ([]byte, error) {
	lb := make([]byte, 4)
	n, err := io.ReadFull(r, lb)
	if err != nil {
		if n == 0 && err == io.EOF {
			return nil, io.EOF
		}
		return nil, corerpc.ProtocolErr{Reason: "unexpected eof reading compression header"}
	}
	size := binary.LittleEndian.Uint32(lb)
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, corerpc.ProtocolErr{Reason: "unexpected eof reading compressed data"}
	}
	return data, nil
}
