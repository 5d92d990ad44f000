// Package codec provides corerpc.Serializer implementations: the pluggable
// argument encoding the marshaller (package message) uses to turn Go
// values into payload bytes and back. A Protocol picks one Serializer for
// its whole lifetime; every registered handler and every client stub
// built against it encodes arguments the same way.
package codec

import "corerpc"

// ByName resolves a serializer by its wire-facing name, for configuration
// that names a codec as a string (flags, config files) rather than
// wiring a corerpc.Serializer value directly.
func ByName(name string) (corerpc.Serializer, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "gob":
		return Gob{}, true
	default:
		return nil, false
	}
}
