package mirror

import (
	"fmt"

	"go.viam.com/copc/utils"
)

// ByteRange is the half-open interval [Start, End) of absolute offsets into the remote object.
// It is the only range convention used inside this module; transports translate it to whatever
// their wire format needs.
type ByteRange struct {
	Start int64
	End   int64
}

// NewByteRange returns the range of `size` bytes beginning at `offset`.
func NewByteRange(offset, size int64) ByteRange {
	return ByteRange{Start: offset, End: offset + size}
}

// Len returns the number of bytes in the range.
func (r ByteRange) Len() int64 {
	return r.End - r.Start
}

// Empty reports whether the range covers no bytes.
func (r ByteRange) Empty() bool {
	return r.End <= r.Start
}

// Validate returns an InvalidArgument error for negative or inverted ranges.
func (r ByteRange) Validate() error {
	if r.Start < 0 {
		return utils.NewInvalidArgumentError("byte range", fmt.Sprintf("negative start %d", r.Start))
	}
	if r.End < r.Start {
		return utils.NewInvalidArgumentError("byte range", fmt.Sprintf("end %d before start %d", r.End, r.Start))
	}
	return nil
}

// HTTPHeader renders the range as an HTTP Range header value. HTTP ranges are inclusive of the
// last byte, so the end is End-1.
func (r ByteRange) HTTPHeader() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1)
}

func (r ByteRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}
