package session

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s3mp/internal/pool"
	"s3mp/internal/s3api/s3apitest"
	"s3mp/internal/s3url"
	"s3mp/internal/xerrors"
)

var dest = s3url.Locator{Bucket: "test-bucket", Key: "big/object.bin"}

func activeSession(t *testing.T, mock *s3apitest.MockClient) *Session {
	t.Helper()
	if mock.CreateMultipartUploadFunc == nil {
		mock.CreateMultipartUploadFunc = func(_ context.Context, _ *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
			return &s3.CreateMultipartUploadOutput{UploadId: aws.String("txn-123")}, nil
		}
	}
	s := New(mock, dest, Options{})
	require.NoError(t, s.Initiate(context.Background()))
	return s
}

func TestInitiate(t *testing.T) {
	mock := &s3apitest.MockClient{}
	s := activeSession(t, mock)

	assert.Equal(t, Active, s.State())
	assert.Equal(t, "txn-123", s.UploadID())

	// Re-initiating an active session is a state violation.
	err := s.Initiate(context.Background())
	assert.ErrorIs(t, err, xerrors.ErrInvalidStateTransition)
}

func TestInitiate_ServiceFailure(t *testing.T) {
	mock := &s3apitest.MockClient{
		CreateMultipartUploadFunc: func(_ context.Context, _ *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
			return nil, errors.New("access denied")
		},
	}
	s := New(mock, dest, Options{})
	err := s.Initiate(context.Background())
	require.Error(t, err)
	assert.Equal(t, Uninitiated, s.State(), "a failed initiate leaves the session uninitiated")
}

func TestComplete_AllPartsSucceeded(t *testing.T) {
	var completed *s3.CompleteMultipartUploadInput
	mock := &s3apitest.MockClient{
		CompleteMultipartUploadFunc: func(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
			completed = in
			return &s3.CompleteMultipartUploadOutput{}, nil
		},
	}
	s := activeSession(t, mock)

	for _, idx := range []int32{1, 2, 3} {
		require.NoError(t, s.Submit(idx))
	}
	// Acknowledge out of order; completion must still list parts in order.
	for _, idx := range []int32{3, 1, 2} {
		require.NoError(t, s.Acknowledge(pool.Result{Index: idx, ETag: etagFor(idx)}))
	}

	require.True(t, s.AllSucceeded())
	require.NoError(t, s.Complete(context.Background()))
	assert.Equal(t, Closed, s.State())

	require.NotNil(t, completed)
	require.Len(t, completed.MultipartUpload.Parts, 3)
	for i, p := range completed.MultipartUpload.Parts {
		assert.Equal(t, int32(i+1), aws.ToInt32(p.PartNumber))
		assert.Equal(t, etagFor(int32(i+1)), aws.ToString(p.ETag))
	}
	assert.Equal(t, "txn-123", aws.ToString(completed.UploadId))
}

func TestComplete_RefusedWhileAnyPartPending(t *testing.T) {
	mock := &s3apitest.MockClient{}
	s := activeSession(t, mock)

	require.NoError(t, s.Submit(1))
	require.NoError(t, s.Submit(2))
	require.NoError(t, s.Acknowledge(pool.Result{Index: 1, ETag: "e1"}))

	assert.False(t, s.AllSucceeded())
	err := s.Complete(context.Background())
	assert.ErrorIs(t, err, xerrors.ErrInvalidStateTransition)
	assert.Equal(t, Active, s.State())
	assert.Zero(t, mock.Calls.CompleteMultipartUpload.Load())
}

func TestComplete_RefusedAfterPartFailure(t *testing.T) {
	mock := &s3apitest.MockClient{}
	s := activeSession(t, mock)

	require.NoError(t, s.Submit(1))
	require.NoError(t, s.Acknowledge(pool.Result{Index: 1, Err: errors.New("exhausted")}))

	assert.False(t, s.AllSucceeded())
	assert.Error(t, s.Complete(context.Background()))
}

// Exactly-one-finalize: complete exactly when all parts succeeded, abort
// exactly otherwise, never both, never zero.
func TestExactlyOneFinalize(t *testing.T) {
	tests := []struct {
		name         string
		outcomes     []bool // per part: succeeded?
		wantComplete bool
	}{
		{name: "all succeed", outcomes: []bool{true, true, true}, wantComplete: true},
		{name: "one failure", outcomes: []bool{true, false, true}, wantComplete: false},
		{name: "all fail", outcomes: []bool{false, false}, wantComplete: false},
		{name: "single part success", outcomes: []bool{true}, wantComplete: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &s3apitest.MockClient{}
			s := activeSession(t, mock)

			for i, ok := range tt.outcomes {
				idx := int32(i + 1)
				require.NoError(t, s.Submit(idx))
				res := pool.Result{Index: idx, ETag: etagFor(idx)}
				if !ok {
					res.Err = errors.New("part failed")
				}
				require.NoError(t, s.Acknowledge(res))
			}

			if s.AllSucceeded() {
				require.NoError(t, s.Complete(context.Background()))
			} else {
				require.NoError(t, s.Abort(context.Background()))
			}

			assert.Equal(t, Closed, s.State())
			if tt.wantComplete {
				assert.EqualValues(t, 1, mock.Calls.CompleteMultipartUpload.Load())
				assert.EqualValues(t, 0, mock.Calls.AbortMultipartUpload.Load())
			} else {
				assert.EqualValues(t, 0, mock.Calls.CompleteMultipartUpload.Load())
				assert.EqualValues(t, 1, mock.Calls.AbortMultipartUpload.Load())
			}

			// Neither finalizer may run a second time.
			assert.Error(t, s.Complete(context.Background()))
			assert.Error(t, s.Abort(context.Background()))
			assert.EqualValues(t, 1,
				mock.Calls.CompleteMultipartUpload.Load()+mock.Calls.AbortMultipartUpload.Load())
		})
	}
}

func TestComplete_FinalizeFailureIsFatalAndNotAborted(t *testing.T) {
	mock := &s3apitest.MockClient{
		CompleteMultipartUploadFunc: func(_ context.Context, _ *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
			return nil, errors.New("internal error")
		},
	}
	s := activeSession(t, mock)
	require.NoError(t, s.Submit(1))
	require.NoError(t, s.Acknowledge(pool.Result{Index: 1, ETag: "e1"}))

	err := s.Complete(context.Background())
	require.Error(t, err)

	var ferr *xerrors.FinalizeError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "complete", ferr.Op)
	assert.Equal(t, "txn-123", ferr.UploadID)

	// The transaction is left for external cleanup: no auto-abort, no retry.
	assert.Equal(t, Closed, s.State())
	assert.Error(t, s.Abort(context.Background()))
	assert.EqualValues(t, 0, mock.Calls.AbortMultipartUpload.Load())
	assert.EqualValues(t, 1, mock.Calls.CompleteMultipartUpload.Load())
}

func TestAbort_FailureReportedNotRetried(t *testing.T) {
	mock := &s3apitest.MockClient{
		AbortMultipartUploadFunc: func(_ context.Context, _ *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
			return nil, errors.New("gone")
		},
	}
	s := activeSession(t, mock)

	err := s.Abort(context.Background())
	require.Error(t, err)
	var ferr *xerrors.FinalizeError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "abort", ferr.Op)

	assert.Equal(t, Closed, s.State())
	assert.Error(t, s.Abort(context.Background()))
	assert.EqualValues(t, 1, mock.Calls.AbortMultipartUpload.Load())
}

func TestAcknowledge_UnsubmittedPartRejected(t *testing.T) {
	mock := &s3apitest.MockClient{}
	s := activeSession(t, mock)

	err := s.Acknowledge(pool.Result{Index: 9, ETag: "e9"})
	assert.ErrorIs(t, err, xerrors.ErrInvalidStateTransition)
}

func TestUninitiatedSessionRejectsEverything(t *testing.T) {
	s := New(&s3apitest.MockClient{}, dest, Options{})

	assert.ErrorIs(t, s.Submit(1), xerrors.ErrInvalidStateTransition)
	assert.ErrorIs(t, s.Acknowledge(pool.Result{Index: 1}), xerrors.ErrInvalidStateTransition)
	assert.ErrorIs(t, s.Complete(context.Background()), xerrors.ErrInvalidStateTransition)
	assert.ErrorIs(t, s.Abort(context.Background()), xerrors.ErrInvalidStateTransition)
}

func etagFor(idx int32) string {
	return string(rune('a'+idx)) + "-etag"
}
