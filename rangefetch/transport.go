// Package rangefetch pulls byte ranges of a remote object and materializes them into a local
// mirror. Transports are the narrow boundary to object storage; the Fetcher enforces exact-length
// semantics on top of them.
package rangefetch

import (
	"context"
	"io"

	"go.viam.com/copc/mirror"
)

// A Transport retrieves a byte range of a remote object. Implementations own authentication and
// connection pooling. They must not retry on their own; see NewRetryingTransport.
type Transport interface {
	// GetRange returns a stream of the bytes in r of the object identified by bucket and key.
	// The caller closes the stream.
	GetRange(ctx context.Context, bucket, key string, r mirror.ByteRange) (io.ReadCloser, error)
}

// TransportFunc adapts a function to a Transport.
type TransportFunc func(ctx context.Context, bucket, key string, r mirror.ByteRange) (io.ReadCloser, error)

// GetRange calls f.
func (f TransportFunc) GetRange(ctx context.Context, bucket, key string, r mirror.ByteRange) (io.ReadCloser, error) {
	return f(ctx, bucket, key, r)
}
