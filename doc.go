// Package rpc implements a bidirectional JSON-RPC 2.0 substrate for
// exposing named plugin capabilities between a privileged host and an
// isolated script running across an opaque transport. It provides the
// symmetric Peer used on both ends of the channel, a capability stub
// factory for calling and subscribing to a named plugin's methods and
// events, and a ScriptRuntime that layers the LoadComponents handshake
// and dependency injection on top of a Peer.
package rpc
