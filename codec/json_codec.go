package codec

import (
	"encoding/json"
	"io"
)

// JSON serializes each argument independently with encoding/json.
// Human-readable and easy to debug across peers written in different
// languages, at the cost of reflection overhead and a larger payload than
// a binary encoding.
type JSON struct{}

func (JSON) Write(out io.Writer, v any) error {
	return json.NewEncoder(out).Encode(v)
}

func (JSON) Read(in io.Reader, v any) error {
	return json.NewDecoder(in).Decode(v)
}
