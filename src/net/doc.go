// Package net provides the transport abstraction and wire messages for
// inter-node communication.
//
// The sync layer does not implement transports. It consumes the
// SecureTransport interface and ships with an in-memory implementation for
// testing. Implementations are expected to secure the wire; authenticity of
// the content itself comes end-to-end from event signatures.
package net
