// Package planner computes part boundaries for multipart transfers.
//
// Given an object size and a target part size, it produces an ordered
// sequence of byte ranges that are contiguous, non-overlapping, and jointly
// cover [0, size) exactly once. An undersized trailing range is folded into
// its predecessor because the service forbids non-final parts below its
// minimum part size.
package planner

import (
	"fmt"

	"s3mp/internal/xerrors"
)

// MaxParts is the service limit on parts per multipart transaction.
const MaxParts = 10000

// ByteRange is one inclusive [Start, End] slice of the object, transferred
// independently. Index is 1-based and contiguous across a plan.
type ByteRange struct {
	Index int32
	Start uint64
	End   uint64
}

// Len returns the number of bytes covered by the range.
func (r ByteRange) Len() uint64 {
	return r.End - r.Start + 1
}

// RangeHeader renders the range as an HTTP Range / CopySourceRange value.
func (r ByteRange) RangeHeader() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// TransferPlan is the derived, immutable description of how one object is
// split. Recomputed per invocation, never persisted.
type TransferPlan struct {
	TotalSize uint64
	Parts     []ByteRange

	// Folded reports that the naive final part was below the minimum and was
	// merged into its predecessor.
	Folded bool

	// Direct signals that the object fits under the caller's direct-transfer
	// threshold and should bypass the multipart machinery entirely.
	Direct bool
}

// Option adjusts planning behavior.
type Option func(*options)

type options struct {
	directThreshold uint64
}

// WithDirectThreshold makes Plan return a single-range direct plan for
// objects at or below the given size. Zero disables the direct path.
func WithDirectThreshold(threshold uint64) Option {
	return func(o *options) {
		o.directThreshold = threshold
	}
}

// Plan computes the part boundaries for an object of totalSize bytes.
//
// partSize = max(minPartSize, targetPartSize); ranges are generated left to
// right, and a trailing range shorter than minPartSize is folded into the
// one before it. Returns ErrInvalidSize for a zero object size, a target
// part size below the service minimum, or a plan that would exceed MaxParts.
func Plan(totalSize, targetPartSize, minPartSize uint64, opts ...Option) (*TransferPlan, error) {
	if totalSize == 0 {
		return nil, xerrors.NewError("plan", fmt.Errorf("%w: object size is zero", xerrors.ErrInvalidSize))
	}
	if targetPartSize == 0 {
		return nil, xerrors.NewError("plan", fmt.Errorf("%w: part size is zero", xerrors.ErrInvalidSize))
	}
	if targetPartSize < minPartSize {
		return nil, xerrors.NewError("plan", fmt.Errorf(
			"%w: part size %d below service minimum %d", xerrors.ErrInvalidSize, targetPartSize, minPartSize))
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.directThreshold > 0 && totalSize <= o.directThreshold {
		return &TransferPlan{
			TotalSize: totalSize,
			Parts:     []ByteRange{{Index: 1, Start: 0, End: totalSize - 1}},
			Direct:    true,
		}, nil
	}

	partSize := targetPartSize
	if minPartSize > partSize {
		partSize = minPartSize
	}

	numParts := (totalSize + partSize - 1) / partSize
	if numParts > MaxParts {
		return nil, xerrors.NewError("plan", fmt.Errorf(
			"%w: %d parts of %d bytes exceed the %d part limit", xerrors.ErrInvalidSize, numParts, partSize, MaxParts))
	}

	parts := make([]ByteRange, 0, numParts)
	for i := uint64(0); i < numParts; i++ {
		end := (i+1)*partSize - 1
		if end > totalSize-1 {
			end = totalSize - 1
		}
		parts = append(parts, ByteRange{
			Index: int32(i + 1),
			Start: i * partSize,
			End:   end,
		})
	}

	plan := &TransferPlan{TotalSize: totalSize, Parts: parts}

	// Fold an undersized trailing part into its predecessor. The very last
	// part of the whole object is exempt from the minimum only when it is
	// also the only part, so any short tail here must be merged.
	if n := len(plan.Parts); n > 1 && plan.Parts[n-1].Len() < minPartSize {
		plan.Parts[n-2].End = plan.Parts[n-1].End
		plan.Parts = plan.Parts[:n-1]
		plan.Folded = true
	}

	return plan, nil
}
