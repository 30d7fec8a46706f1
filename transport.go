package rpc

// Transport abstracts the opaque message channel connecting two peers
// (a worker boundary, a socket, an in-memory pipe). SendMessage and
// OnMessage are mandatory; the close/error hooks are optional. A Peer
// treats the channel as connected only once SetOnConnect's callback
// runs; it does not synthesize a connect when the callback is never
// invoked.
type Transport interface {
	// SendMessage writes one already-encoded envelope to the channel.
	SendMessage(payload []byte) error

	// SetOnMessage registers the callback invoked for every inbound
	// payload. Mandatory: a Peer cannot receive anything without it.
	SetOnMessage(cb func(payload any))

	// SetOnConnect registers the callback invoked once the channel
	// becomes able to carry traffic. A Transport with no connect
	// signal of its own invokes cb as soon as it is registered, as
	// PipeTransport does.
	SetOnConnect(cb func())

	// SetOnClose registers the callback invoked when the channel is
	// torn down. Optional.
	SetOnClose(cb func())

	// SetOnError registers the callback invoked on a transport-level
	// failure that does not by itself close the channel. Optional.
	SetOnError(cb func(err error))
}
