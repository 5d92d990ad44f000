package compressor

import "testing"

func TestGzipRoundTrip(t *testing.T) {
	in := []byte("the quick brown fox jumps over the lazy dog, repeatedly, to make gzip worthwhile")
	c := Gzip{}
	compressed, err := c.Compress(in)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if string(got) != string(in) {
		t.Errorf("got %q, want %q", got, in)
	}
}

func TestGzipFactoryNegotiate(t *testing.T) {
	f := GzipFactory{}
	if _, ok := f.Negotiate([]byte("gzip"), true); !ok {
		t.Error("expected negotiation to succeed when peer advertises gzip")
	}
	if _, ok := f.Negotiate([]byte("snappy"), true); ok {
		t.Error("expected negotiation to fail when peer doesn't advertise gzip")
	}
}
