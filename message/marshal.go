// Package message implements the marshaller: turning an ordered argument
// list into the payload bytes of a frame and back, through a
// user-supplied corerpc.Serializer. It owns two conventions the wire
// format depends on: owning-wrapper (pointer) unwrap, and the optional
// trailing argument used for additive, backward-compatible schema
// evolution.
//
// A payload has no fixed shape: it's an arbitrary, per-MessageType tuple
// of argument types, so marshal/unmarshal work a value at a time against
// reflect.Value/reflect.Type lists instead of one struct.
//
// Every argument is framed with a 4-byte little-endian length prefix
// ahead of its serializer output. This isn't part of the wire contract a
// human ever inspects; it exists because corerpc.Serializer is stateless
// per call (one Write, one Read), and formats like encoding/json read
// ahead into their own internal buffer rather than stopping exactly at a
// value's boundary; a fresh json.Decoder wrapping the same underlying
// reader for the next argument would silently lose whatever the previous
// Decode call had already buffered. Framing each argument's bytes removes
// any dependency on a serializer's internal buffering behavior.
package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"reflect"

	"corerpc"
)

// Marshal serializes args in order into a new buffer, reserving headSpace
// leading bytes for the caller's frame header (28 bytes for a request, 12
// for a response, see package protocol). Pointer-typed (owning-wrapper)
// arguments are dereferenced and marshalled as their pointee. A trailing
// Optional[T] argument is marshalled as T when Present and omitted
// entirely otherwise.
func Marshal(s corerpc.Serializer, headSpace int, args []reflect.Value) ([]byte, error) {
	var body bytes.Buffer
	for i, arg := range args {
		v := arg
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return nil, fmt.Errorf("message: marshal arg %d: nil owning wrapper", i)
			}
			v = v.Elem()
		}
		if _, ok := corerpc.IsOptionalType(v.Type()); ok {
			// v may not be addressable (e.g. it came straight out of a
			// reflect.Value slice built by a caller); OptionalValue's
			// mutating methods need a pointer receiver, so work against an
			// addressable copy.
			addr := reflect.New(v.Type())
			addr.Elem().Set(v)
			opt := addr.Interface().(corerpc.OptionalValue)
			if !opt.IsPresent() {
				continue // omit: this and every later optional must also be trailing-absent
			}
			v = opt.RawValue()
		}
		var encoded bytes.Buffer
		if err := s.Write(&encoded, v.Interface()); err != nil {
			return nil, fmt.Errorf("message: marshal arg %d: %w", i, err)
		}
		var lenPrefix [4]byte
		binary.LittleEndian.PutUint32(lenPrefix[:], uint32(encoded.Len()))
		body.Write(lenPrefix[:])
		body.Write(encoded.Bytes())
	}
	out := make([]byte, headSpace+body.Len())
	copy(out[headSpace:], body.Bytes())
	return out, nil
}

// Unmarshal decodes len(types) values from data in order. A type that
// satisfies corerpc.IsOptionalType decodes a value only if bytes remain in
// data; once data is exhausted every remaining optional decodes to its
// empty value. A non-optional type with no bytes remaining is a decode
// error; the caller should treat it as a protocol error.
func Unmarshal(s corerpc.Serializer, types []reflect.Type, data []byte) ([]reflect.Value, error) {
	in := bytes.NewReader(data)
	out := make([]reflect.Value, len(types))
	for i, t := range types {
		if elem, ok := corerpc.IsOptionalType(t); ok {
			optPtr := reflect.New(t)
			if in.Len() > 0 {
				encoded, err := readFramed(in)
				if err != nil {
					return nil, fmt.Errorf("message: unmarshal arg %d: %w", i, err)
				}
				val := reflect.New(elem)
				if err := s.Read(bytes.NewReader(encoded), val.Interface()); err != nil {
					return nil, fmt.Errorf("message: unmarshal arg %d: %w", i, err)
				}
				optPtr.Interface().(corerpc.OptionalValue).SetPresentValue(val.Elem())
			}
			out[i] = optPtr.Elem()
			continue
		}
		if in.Len() == 0 {
			return nil, fmt.Errorf("message: unmarshal arg %d: %w", i, io.ErrUnexpectedEOF)
		}
		encoded, err := readFramed(in)
		if err != nil {
			return nil, fmt.Errorf("message: unmarshal arg %d: %w", i, err)
		}
		val := reflect.New(t)
		if err := s.Read(bytes.NewReader(encoded), val.Interface()); err != nil {
			return nil, fmt.Errorf("message: unmarshal arg %d: %w", i, err)
		}
		out[i] = val.Elem()
	}
	return out, nil
}

func readFramed(in *bytes.Reader) ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(in, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(in, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
