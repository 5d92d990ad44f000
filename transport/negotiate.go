package transport

import (
	"corerpc"
	"corerpc/protocol"
)

// NegotiateClient sends the client's feature offer and reads the server's
// reply, then configures c.Compressor and c.WithExpiry from the outcome.
// wantTimeout advertises the TIMEOUT feature (empty payload, no
// negotiation body beyond presence); factory may be nil to skip
// compression entirely.
func NegotiateClient(c *Conn, factory corerpc.CompressorFactory, wantTimeout bool) error {
	c.SetState(Negotiating)
	offer := corerpc.FeatureMap{}
	if factory != nil {
		offer[corerpc.FeatureCompress] = factory.Supported()
	}
	if wantTimeout {
		offer[corerpc.FeatureTimeout] = []byte{}
	}
	if err := protocol.EncodeNegotiationFrame(c.NetConn, offer); err != nil {
		return err
	}
	reply, err := protocol.ReadNegotiationFrame(c.NetConn)
	if err != nil {
		return err
	}
	if factory != nil {
		if payload, ok := reply[corerpc.FeatureCompress]; ok {
			if comp, ok := factory.Negotiate(payload, false); ok {
				c.Compressor = comp
			}
		}
	}
	if _, ok := reply[corerpc.FeatureTimeout]; ok && wantTimeout {
		c.WithExpiry = true
	}
	c.SetState(Running)
	return nil
}

// NegotiateServer reads the client's feature offer, decides which
// features it can meet, and replies. Unknown feature ids in the offer are
// ignored rather than rejected, so a newer client can talk to an older
// server without breaking negotiation.
func NegotiateServer(c *Conn, factory corerpc.CompressorFactory, supportTimeout bool) error {
	c.SetState(Negotiating)
	offer, err := protocol.ReadNegotiationFrame(c.NetConn)
	if err != nil {
		return err
	}
	reply := corerpc.FeatureMap{}
	if factory != nil {
		if payload, ok := offer[corerpc.FeatureCompress]; ok {
			if comp, ok := factory.Negotiate(payload, true); ok {
				c.Compressor = comp
				reply[corerpc.FeatureCompress] = comp.Supported()
			}
		}
	}
	if _, ok := offer[corerpc.FeatureTimeout]; ok && supportTimeout {
		c.WithExpiry = true
		reply[corerpc.FeatureTimeout] = []byte{}
	}
	if err := protocol.EncodeNegotiationFrame(c.NetConn, reply); err != nil {
		return err
	}
	c.SetState(Running)
	return nil
}
