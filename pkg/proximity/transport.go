package proximity

import "context"

// Service and characteristic identifiers for the payment exchange.
const (
	ServiceUUID            = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	PaymentRequestCharUUID = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	TransactionCharUUID    = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
	AckCharUUID            = "6e400004-b5a3-f393-e0a9-e50e24dcca9e"
)

// Peer is a discovered remote device.
type Peer struct {
	ID   string
	Name string
	RSSI int
}

// Conn is an established proximity connection. The transport guarantees
// ordered, acknowledged delivery of chunks per characteristic.
type Conn interface {
	// WriteChunk writes one chunk to the given characteristic.
	WriteChunk(ctx context.Context, characteristic string, chunk []byte) error

	// ReadChunks subscribes to incoming chunks on the given
	// characteristic. The channel is closed when the connection closes.
	ReadChunks(ctx context.Context, characteristic string) (<-chan []byte, error)

	// Close tears down the connection and all subscriptions. Safe to
	// call more than once.
	Close() error
}

// Transport is the short-range wireless collaborator: scan/advertise/
// connect primitives over opaque byte chunks.
type Transport interface {
	// Advertise publishes the service and waits for an initiator to
	// connect, returning the established connection.
	Advertise(ctx context.Context, service string) (Conn, error)

	// Scan discovers nearby peers advertising the service.
	Scan(ctx context.Context, service string) ([]Peer, error)

	// Connect establishes a connection to a discovered peer.
	Connect(ctx context.Context, peerID string) (Conn, error)
}
