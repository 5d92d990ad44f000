package transport

import (
	"bytes"
	"io"

	"corerpc"
	"corerpc/protocol"
)

// WriteRequestFrame builds a request frame (header + payload), compressing
// the whole thing if c.Compressor is set, and enqueues it on c's send
// loop.
func WriteRequestFrame(c *Conn, h protocol.RequestHeader, payload []byte) error {
	var buf bytes.Buffer
	if err := protocol.EncodeRequestHeader(&buf, h, c.WithExpiry); err != nil {
		return err
	}
	buf.Write(payload)
	return enqueueMaybeCompressed(c, buf.Bytes())
}

// ReadRequestFrame reads one request frame from c's socket, decompressing
// first if a compressor was negotiated.
func ReadRequestFrame(c *Conn) (protocol.RequestHeader, []byte, error) {
	raw, err := readMaybeCompressed(c, protocol.RequestHeaderSizeFor(c.WithExpiry))
	if err != nil {
		return protocol.RequestHeader{}, nil, err
	}
	hsize := protocol.RequestHeaderSizeFor(c.WithExpiry)
	if len(raw) < hsize {
		return protocol.RequestHeader{}, nil, corerpc.ProtocolErr{Reason: "short request frame"}
	}
	h, err := protocol.DecodeRequestHeader(raw[:hsize], c.WithExpiry)
	if err != nil {
		return protocol.RequestHeader{}, nil, corerpc.ProtocolErr{Reason: err.Error()}
	}
	payload := raw[hsize:]
	if uint32(len(payload)) != h.PayloadLen {
		return protocol.RequestHeader{}, nil, corerpc.ProtocolErr{Reason: "request payload length mismatch"}
	}
	return h, payload, nil
}

// WriteResponseFrame builds and enqueues a response frame.
func WriteResponseFrame(c *Conn, h protocol.ResponseHeader, payload []byte) error {
	var buf bytes.Buffer
	if err := protocol.EncodeResponseHeader(&buf, h); err != nil {
		return err
	}
	buf.Write(payload)
	return enqueueMaybeCompressed(c, buf.Bytes())
}

// ReadResponseFrame reads one response frame from c's socket.
func ReadResponseFrame(c *Conn) (protocol.ResponseHeader, []byte, error) {
	raw, err := readMaybeCompressed(c, protocol.ResponseHeaderSize)
	if err != nil {
		return protocol.ResponseHeader{}, nil, err
	}
	if len(raw) < protocol.ResponseHeaderSize {
		return protocol.ResponseHeader{}, nil, corerpc.ProtocolErr{Reason: "short response frame"}
	}
	h, err := protocol.DecodeResponseHeader(raw[:protocol.ResponseHeaderSize])
	if err != nil {
		return protocol.ResponseHeader{}, nil, corerpc.ProtocolErr{Reason: err.Error()}
	}
	payload := raw[protocol.ResponseHeaderSize:]
	if uint32(len(payload)) != h.PayloadLen {
		return protocol.ResponseHeader{}, nil, corerpc.ProtocolErr{Reason: "response payload length mismatch"}
	}
	return h, payload, nil
}

func enqueueMaybeCompressed(c *Conn, frame []byte) error {
	if c.Compressor == nil {
		return c.Enqueue(frame)
	}
	compressed, err := c.Compressor.Compress(frame)
	if err != nil {
		return err
	}
	var envelope bytes.Buffer
	if err := protocol.WriteCompressedEnvelope(&envelope, compressed); err != nil {
		return err
	}
	return c.Enqueue(envelope.Bytes())
}

// readMaybeCompressed reads one on-wire unit from c's socket: either a
// compressed envelope (decompressed before returning) or, uncompressed, a
// fixed-size header followed by exactly PayloadLen more bytes. headerSize
// is only used in the uncompressed path, where the frame's total length
// isn't known until the header's payload-length field is read.
func readMaybeCompressed(c *Conn, headerSize int) ([]byte, error) {
	if c.Compressor != nil {
		data, err := protocol.ReadCompressedEnvelope(c.NetConn)
		if err != nil {
			return nil, err
		}
		return c.Compressor.Decompress(data)
	}
	header := make([]byte, headerSize)
	n, err := io.ReadFull(c.NetConn, header)
	if err != nil {
		if n == 0 && err == io.EOF {
			return nil, io.EOF
		}
		return nil, corerpc.ProtocolErr{Reason: "unexpected eof reading frame header"}
	}
	payloadLen := decodePayloadLen(header, headerSize)
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(c.NetConn, payload); err != nil {
		return nil, corerpc.ProtocolErr{Reason: "unexpected eof reading frame payload"}
	}
	return append(header, payload...), nil
}

// decodePayloadLen extracts the trailing 4-byte little-endian payload
// length field common to both request and response headers.
func decodePayloadLen(header []byte, headerSize int) uint32 {
	b := header[headerSize-4 : headerSize]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
