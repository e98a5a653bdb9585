package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"s3mp/internal/pool"
	"s3mp/internal/s3url"
	"s3mp/internal/xerrors"
)

// Download fetches a remote object into a local file. Small objects are
// streamed with a single GetObject; larger ones are fetched as concurrent
// ranged reads written at their exact offsets. No remote transaction exists
// for downloads, so there is nothing to complete or abort; a failed part
// simply fails the transfer and removes the partial file.
func (t *Transferer) Download(ctx context.Context, src s3url.Locator, localPath string) (*Summary, error) {
	start := time.Now()

	size, exists, err := t.headObject(ctx, src)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &xerrors.PreconditionError{Reason: fmt.Sprintf("source object '%s' does not exist", src)}
	}

	if err := t.checkLocalDestination(localPath); err != nil {
		return nil, err
	}

	if size <= t.cfg.DirectThreshold {
		if err := t.getDirect(ctx, src, localPath); err != nil {
			return nil, err
		}
		summary := &Summary{Mode: ModeDownload, Bytes: size, Parts: 1, Direct: true, Duration: time.Since(start)}
		t.log.Info().Msg(summary.String())
		return summary, nil
	}

	plan, err := t.plan(size)
	if err != nil {
		return nil, err
	}

	// Pre-size the destination so workers can write their ranges at the
	// final offsets without coordination.
	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, xerrors.NewError("createDestination", err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, xerrors.NewError("presizeDestination", err)
	}
	if err := f.Close(); err != nil {
		return nil, xerrors.NewError("createDestination", err)
	}

	specs := make([]pool.Spec, len(plan.Parts))
	for i, r := range plan.Parts {
		specs[i] = pool.Spec{Range: r, Source: src, LocalPath: localPath}
	}

	results := pool.Run(ctx, specs, t.cfg.Concurrency, t.downloadPartHandler())

	failed := pool.Failed(results)
	if ctx.Err() != nil || len(failed) > 0 || len(results) != len(specs) {
		for _, res := range failed {
			t.log.Error().Int32("part", res.Index).Err(res.Err).Msg("part transfer failed")
		}
		if rmErr := os.Remove(localPath); rmErr != nil {
			t.log.Warn().Err(rmErr).Str("path", localPath).Msg("could not remove partial download")
		}
		if ctx.Err() != nil {
			return nil, xerrors.NewError("transfer", ctx.Err())
		}
		if len(failed) > 0 {
			return nil, xerrors.NewError("transfer",
				fmt.Errorf("%d of %d parts failed: %w", len(failed), len(specs), failed[0].Err))
		}
		return nil, xerrors.NewError("transfer", fmt.Errorf("only %d of %d parts ran", len(results), len(specs)))
	}

	summary := &Summary{Mode: ModeDownload, Bytes: size, Parts: len(plan.Parts), Duration: time.Since(start)}
	t.log.Info().Msg(summary.String())
	return summary, nil
}

// getDirect streams the whole object with one GetObject call.
func (t *Transferer) getDirect(ctx context.Context, src s3url.Locator, localPath string) error {
	out, err := t.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(src.Bucket),
		Key:    aws.String(src.Key),
	})
	if err != nil {
		return xerrors.NewError("getObject", err).WithBucket(src.Bucket).WithKey(src.Key)
	}
	defer out.Body.Close()

	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return xerrors.NewError("createDestination", err)
	}

	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		os.Remove(localPath)
		return xerrors.NewError("writeDestination", err)
	}
	if err := f.Close(); err != nil {
		return xerrors.NewError("writeDestination", err)
	}
	return nil
}

// downloadPartHandler returns the pool handler for one ranged read. Each
// worker opens its own file handle and writes through an offset writer, so
// concurrent parts never share a cursor and a retried attempt overwrites its
// own range cleanly.
func (t *Transferer) downloadPartHandler() pool.Handler {
	return func(ctx context.Context, spec pool.Spec) pool.Result {
		start := time.Now()
		log := t.log.With().Int32("part", spec.Range.Index).Logger()

		client, err := t.clients.Get(ctx)
		if err != nil {
			return failedResult(spec, 0, start, err)
		}
		defer t.clients.Put(client)

		attempts, err := t.retryPolicy().Do(ctx, func() error {
			return fetchRange(ctx, client.GetObject, spec)
		})
		if err != nil {
			return failedResult(spec, attempts, start, err)
		}

		elapsed := time.Since(start)
		log.Debug().Uint64("bytes", spec.Range.Len()).Dur("elapsed", elapsed).Uint("attempts", attempts).
			Msg("part downloaded")
		return pool.Result{
			Index:    spec.Range.Index,
			Bytes:    spec.Range.Len(),
			Attempts: attempts,
			Elapsed:  elapsed,
		}
	}
}

type getObjectFunc func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)

// fetchRange performs one ranged GetObject and writes the body at the part's
// offset in the pre-sized destination file.
func fetchRange(ctx context.Context, get getObjectFunc, spec pool.Spec) error {
	out, err := get(ctx, &s3.GetObjectInput{
		Bucket: aws.String(spec.Source.Bucket),
		Key:    aws.String(spec.Source.Key),
		Range:  aws.String(spec.Range.RangeHeader()),
	})
	if err != nil {
		return err
	}
	defer out.Body.Close()

	f, err := os.OpenFile(spec.LocalPath, os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := io.Copy(io.NewOffsetWriter(f, int64(spec.Range.Start)), out.Body)
	if err != nil {
		return err
	}
	if uint64(n) != spec.Range.Len() {
		return fmt.Errorf("short range read: %d of %d bytes at offset %d", n, spec.Range.Len(), spec.Range.Start)
	}
	return nil
}
