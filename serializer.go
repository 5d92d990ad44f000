package corerpc

import "io"

// Serializer is the user-supplied argument codec the core is parametric
// over. The core never inspects argument bytes itself; it only asks the
// Serializer to round-trip one value at a time into the payload region of
// a frame it has already measured and framed.
//
// Implementations must make Write/Read for the same concrete type
// round-trip: Read(w, Write(r, v)) == v. See package codec for ready-made
// JSON and gob implementations.
type Serializer interface {
	Write(out io.Writer, v any) error
	Read(in io.Reader, v any) error
}
