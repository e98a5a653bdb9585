// Package session owns the lifecycle of one multipart transaction.
//
// A session moves through Uninitiated -> Active -> {Completing|Aborting} ->
// Closed, monotonically. Exactly one of Complete or Abort is invoked per
// session: Complete only after every submitted part has a successful
// acknowledgement, Abort in every other terminal case. Neither finalizer is
// ever retried — completing is not idempotent, and re-aborting a transaction
// the service may already have released is unsafe.
package session

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"s3mp/internal/pool"
	"s3mp/internal/s3api"
	"s3mp/internal/s3url"
	"s3mp/internal/xerrors"
)

// State is the lifecycle position of a multipart session.
type State int

const (
	Uninitiated State = iota
	Active
	Completing
	Aborting
	Closed
)

// String returns the state name for logs and errors.
func (s State) String() string {
	switch s {
	case Uninitiated:
		return "uninitiated"
	case Active:
		return "active"
	case Completing:
		return "completing"
	case Aborting:
		return "aborting"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options carries service-side settings applied when the transaction is
// initiated.
type Options struct {
	ContentType  string
	StorageClass awstypes.StorageClass
}

// Session is the state machine for one multipart transaction. It is owned by
// a single orchestrator invocation and is not safe for concurrent use;
// workers report results through the pool, and only the coordinating
// goroutine touches the session.
type Session struct {
	api  s3api.Client
	dest s3url.Locator
	opts Options

	state     State
	uploadID  string
	submitted map[int32]struct{}
	acked     map[int32]pool.Result

	// finalized guards the exactly-one-finalize invariant independently of
	// state, so a failed Complete cannot be followed by an Abort.
	finalized bool
}

// New returns an uninitiated session for the destination object.
func New(api s3api.Client, dest s3url.Locator, opts Options) *Session {
	return &Session{
		api:       api,
		dest:      dest,
		opts:      opts,
		state:     Uninitiated,
		submitted: make(map[int32]struct{}),
		acked:     make(map[int32]pool.Result),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// UploadID returns the transaction id assigned by the service on initiate.
// Workers address the transaction by this value, never by sharing the
// session itself.
func (s *Session) UploadID() string {
	return s.uploadID
}

// Initiate opens the transaction on the service and moves the session to
// Active.
func (s *Session) Initiate(ctx context.Context) error {
	if s.state != Uninitiated {
		return s.stateError("initiate")
	}

	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.dest.Bucket),
		Key:    aws.String(s.dest.Key),
	}
	if s.opts.ContentType != "" {
		input.ContentType = aws.String(s.opts.ContentType)
	}
	if s.opts.StorageClass != "" {
		input.StorageClass = s.opts.StorageClass
	}

	out, err := s.api.CreateMultipartUpload(ctx, input)
	if err != nil {
		return xerrors.NewError("initiateMultipart", err).WithBucket(s.dest.Bucket).WithKey(s.dest.Key)
	}

	s.uploadID = aws.ToString(out.UploadId)
	s.state = Active
	return nil
}

// Submit records that a part has been handed to the pool. Only submitted
// parts count toward the completion check.
func (s *Session) Submit(index int32) error {
	if s.state != Active {
		return s.stateError("submit")
	}
	s.submitted[index] = struct{}{}
	return nil
}

// Acknowledge records a part's terminal result.
func (s *Session) Acknowledge(res pool.Result) error {
	if s.state != Active {
		return s.stateError("acknowledge")
	}
	if _, ok := s.submitted[res.Index]; !ok {
		return xerrors.NewError("acknowledge",
			fmt.Errorf("%w: part %d was never submitted", xerrors.ErrInvalidStateTransition, res.Index))
	}
	s.acked[res.Index] = res
	return nil
}

// AllSucceeded reports whether every submitted part has a successful
// acknowledgement. The session never completes while this is false.
func (s *Session) AllSucceeded() bool {
	if len(s.acked) != len(s.submitted) {
		return false
	}
	for idx := range s.submitted {
		res, ok := s.acked[idx]
		if !ok || !res.Succeeded() {
			return false
		}
	}
	return len(s.submitted) > 0
}

// Complete finalizes the transaction from the acknowledged part ETags. It
// may only be called while every submitted part has succeeded. A failure of
// the complete call itself is fatal and unretried; the transaction is left
// on the service for external cleanup rather than auto-aborted, because the
// service may already have committed it.
func (s *Session) Complete(ctx context.Context) error {
	if s.state != Active || s.finalized {
		return s.stateError("complete")
	}
	if !s.AllSucceeded() {
		return xerrors.NewError("complete",
			fmt.Errorf("%w: not all submitted parts have succeeded", xerrors.ErrInvalidStateTransition))
	}

	s.state = Completing
	s.finalized = true

	indexes := make([]int32, 0, len(s.acked))
	for idx := range s.acked {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	parts := make([]awstypes.CompletedPart, 0, len(indexes))
	for _, idx := range indexes {
		parts = append(parts, awstypes.CompletedPart{
			PartNumber: aws.Int32(idx),
			ETag:       aws.String(s.acked[idx].ETag),
		})
	}

	_, err := s.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.dest.Bucket),
		Key:             aws.String(s.dest.Key),
		UploadId:        aws.String(s.uploadID),
		MultipartUpload: &awstypes.CompletedMultipartUpload{Parts: parts},
	})
	s.state = Closed
	if err != nil {
		return &xerrors.FinalizeError{Op: "complete", UploadID: s.uploadID, Err: err}
	}
	return nil
}

// Abort releases the transaction and any uploaded-but-uncommitted part data.
// It is attempted exactly once; its own failure is reported but not retried.
func (s *Session) Abort(ctx context.Context) error {
	if s.state != Active || s.finalized {
		return s.stateError("abort")
	}

	s.state = Aborting
	s.finalized = true

	_, err := s.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.dest.Bucket),
		Key:      aws.String(s.dest.Key),
		UploadId: aws.String(s.uploadID),
	})
	s.state = Closed
	if err != nil {
		return &xerrors.FinalizeError{Op: "abort", UploadID: s.uploadID, Err: err}
	}
	return nil
}

func (s *Session) stateError(op string) error {
	return xerrors.NewError(op,
		fmt.Errorf("%w: cannot %s in state %s", xerrors.ErrInvalidStateTransition, op, s.state)).
		WithBucket(s.dest.Bucket).
		WithKey(s.dest.Key)
}
