package corerpc

// Compressor wraps and unwraps the payload of every frame sent or received
// on a connection once compression has been negotiated. Negotiation frames
// themselves are never compressed.
type Compressor interface {
	Compress(in []byte) ([]byte, error)
	Decompress(in []byte) ([]byte, error)
	// Supported returns this side's feature-record payload, advertised
	// again in the negotiation response so the peer can distinguish which
	// compression scheme was actually selected.
	Supported() []byte
}

// CompressorFactory negotiates a Compressor from a peer's advertised
// feature payload. Returning (nil, false) means "no compression", which is
// a valid negotiation outcome even when both sides advertise the feature.
type CompressorFactory interface {
	Negotiate(peerPayload []byte, isServer bool) (Compressor, bool)
	Supported() []byte
}
