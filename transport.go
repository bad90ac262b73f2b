package easyboot

// Listener receives raw inbound bytes from a transport. Chunks are
// delivered in arrival order, at least once, with arbitrary
// fragmentation. A listener must not block the delivering transport.
type Listener func(data []byte)

// Transport is the byte-level link the uploader drives. Implementations
// own a receive context that fans inbound bytes out to every subscribed
// listener; subscription and removal are synchronized against in-flight
// delivery, so once Unsubscribe returns no further chunks reach the
// listener.
type Transport interface {
	// Write sends data down the link.
	Write(data []byte) error
	// Subscribe registers a listener and returns its subscription id.
	Subscribe(l Listener) int
	// Unsubscribe removes a previously registered listener. Unknown ids
	// are ignored, so removing twice is safe.
	Unsubscribe(id int)
	// Close shuts the link down. Closing is idempotent; a closed
	// transport fails every subsequent Write.
	Close() error
}
