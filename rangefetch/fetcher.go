package rangefetch

import (
	"context"
	"io"

	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/copc/logging"
	"go.viam.com/copc/mirror"
	"go.viam.com/copc/utils"
)

// Fetcher fetches ranges of one remote object into one Mirror.
type Fetcher struct {
	transport Transport
	bucket    string
	key       string
	mirror    *mirror.Mirror
	logger    logging.Logger
}

// NewFetcher returns a Fetcher for the object bucket/key that writes into m.
func NewFetcher(transport Transport, bucket, key string, m *mirror.Mirror, logger logging.Logger) *Fetcher {
	return &Fetcher{
		transport: transport,
		bucket:    bucket,
		key:       key,
		mirror:    m,
		logger:    logger,
	}
}

// Mirror returns the mirror this fetcher writes into.
func (f *Fetcher) Mirror() *mirror.Mirror {
	return f.mirror
}

// Fetch downloads exactly the bytes of r, writes them into the mirror at r.Start and returns them.
// A transport failure or a body whose length differs from r.Len() is a TransportError; nothing is
// written to the mirror in that case.
func (f *Fetcher) Fetch(ctx context.Context, r mirror.ByteRange) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.Empty() {
		return nil, utils.NewInvalidArgumentError("byte range", "cannot fetch an empty range "+r.String())
	}

	body, err := f.transport.GetRange(ctx, f.bucket, f.key, r)
	if err != nil {
		return nil, utils.NewTransportError("fetch "+f.key, r.Start, r.End, err)
	}
	defer goutils.UncheckedErrorFunc(body.Close)

	// Read one byte past the end so an over-long body is detected rather than truncated.
	data, err := io.ReadAll(io.LimitReader(body, r.Len()+1))
	if err != nil {
		return nil, utils.NewTransportError("fetch "+f.key, r.Start, r.End, err)
	}
	if int64(len(data)) != r.Len() {
		return nil, utils.NewTransportError("fetch "+f.key, r.Start, r.End,
			errors.Errorf("expected %d bytes, got %d", r.Len(), len(data)))
	}

	if err := f.mirror.Write(r.Start, data); err != nil {
		return nil, err
	}
	f.logger.CDebugw(ctx, "fetched range", "key", f.key, "range", r.String(), "size", units.HumanSize(float64(len(data))))
	return data, nil
}
