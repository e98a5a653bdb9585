// Package transfer composes the planner, retry policy, worker pool, and
// multipart session into whole-object transfers.
//
// The orchestrator decides whether a transfer qualifies for multipart
// handling at all, drives the session through the pool, and makes the one
// global complete-or-abort decision from the aggregate part results.
// Preconditions (destination exists without force, source missing) are
// checked before any transfer work begins.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"s3mp/internal/config"
	"s3mp/internal/planner"
	"s3mp/internal/pool"
	"s3mp/internal/retry"
	"s3mp/internal/s3api"
	"s3mp/internal/s3url"
	"s3mp/internal/session"
	"s3mp/internal/storage"
	"s3mp/internal/xerrors"
)

// Transferer orchestrates uploads, downloads, and copies. The coordinating
// goroutine uses api directly; part workers check independent handles out of
// clients so no connection is shared across concurrent transfers.
type Transferer struct {
	api     s3api.Client
	clients *storage.ClientPool
	cfg     *config.Config
	log     zerolog.Logger
}

// New creates a Transferer. The logger is passed down to workers with
// per-part context; there is no package-level logger.
func New(api s3api.Client, clients *storage.ClientPool, cfg *config.Config, log zerolog.Logger) *Transferer {
	return &Transferer{api: api, clients: clients, cfg: cfg, log: log}
}

// headObject returns the object size and whether it exists.
func (t *Transferer) headObject(ctx context.Context, loc s3url.Locator) (uint64, bool, error) {
	out, err := t.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		var notFound *awstypes.NotFound
		if errors.As(err, &notFound) {
			return 0, false, nil
		}
		return 0, false, xerrors.NewError("headObject", err).WithBucket(loc.Bucket).WithKey(loc.Key)
	}
	return uint64(aws.ToInt64(out.ContentLength)), true, nil
}

// checkRemoteDestination enforces the overwrite precondition before any
// transfer work starts.
func (t *Transferer) checkRemoteDestination(ctx context.Context, dest s3url.Locator) error {
	_, exists, err := t.headObject(ctx, dest)
	if err != nil {
		return err
	}
	if exists && !t.cfg.Force {
		return &xerrors.PreconditionError{
			Reason: fmt.Sprintf("'%s' already exists, specify --force to overwrite it", dest),
		}
	}
	return nil
}

// checkLocalDestination enforces the overwrite precondition for downloads.
func (t *Transferer) checkLocalDestination(path string) error {
	if _, err := os.Stat(path); err == nil {
		if !t.cfg.Force {
			return &xerrors.PreconditionError{
				Reason: fmt.Sprintf("destination file '%s' exists, specify --force to overwrite", path),
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return xerrors.NewError("statDestination", err)
	}
	return nil
}

func (t *Transferer) storageClass() awstypes.StorageClass {
	if t.cfg.ReducedRedundancy {
		return awstypes.StorageClassReducedRedundancy
	}
	return ""
}

func (t *Transferer) retryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: t.cfg.RetryAttempts, Interval: t.cfg.RetryInterval}
}

// plan computes part boundaries with the configured sizes and threshold.
func (t *Transferer) plan(totalSize uint64) (*planner.TransferPlan, error) {
	return planner.Plan(totalSize, t.cfg.PartSize(), config.MinPartSize,
		planner.WithDirectThreshold(t.cfg.DirectThreshold))
}

// finalize acknowledges every collected result and invokes exactly one of
// complete or abort. A cancelled context or a dropped (undispatched) part
// forces abort: partial success is never committed.
func (t *Transferer) finalize(ctx context.Context, sess *session.Session, submitted int, results []pool.Result) error {
	for _, res := range results {
		if err := sess.Acknowledge(res); err != nil {
			return err
		}
	}

	if len(results) == submitted && sess.AllSucceeded() && ctx.Err() == nil {
		if err := sess.Complete(ctx); err != nil {
			return err
		}
		return nil
	}

	failed := pool.Failed(results)
	for _, res := range failed {
		t.log.Error().Int32("part", res.Index).Err(res.Err).Msg("part transfer failed")
	}

	// Abort uses a fresh context so a user interrupt still releases the
	// transaction on the service.
	abortCtx := context.WithoutCancel(ctx)
	if err := sess.Abort(abortCtx); err != nil {
		t.log.Error().Err(err).Str("upload_id", sess.UploadID()).Msg("abort failed; transaction left for cleanup")
	} else {
		t.log.Info().Str("upload_id", sess.UploadID()).Msg("multipart transaction aborted")
	}

	if ctx.Err() != nil {
		return xerrors.NewError("transfer", ctx.Err())
	}
	if len(failed) > 0 {
		return xerrors.NewError("transfer",
			fmt.Errorf("%d of %d parts failed: %w", len(failed), submitted, failed[0].Err))
	}
	return xerrors.NewError("transfer", fmt.Errorf("only %d of %d parts ran", len(results), submitted))
}
