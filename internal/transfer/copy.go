package transfer

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"s3mp/internal/config"
	"s3mp/internal/pool"
	"s3mp/internal/s3url"
	"s3mp/internal/session"
	"s3mp/internal/xerrors"
)

// Copy duplicates a remote object to another remote location without pulling
// the data through this host. Small objects use a single server-side
// CopyObject; larger ones run a multipart transaction where each part is an
// UploadPartCopy with a source byte range.
func (t *Transferer) Copy(ctx context.Context, src, dest s3url.Locator) (*Summary, error) {
	start := time.Now()

	size, exists, err := t.headObject(ctx, src)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &xerrors.PreconditionError{Reason: fmt.Sprintf("source object '%s' does not exist", src)}
	}

	if err := t.checkRemoteDestination(ctx, dest); err != nil {
		return nil, err
	}

	// CopyObject rejects sources above the service limit, so the direct
	// path is capped there even when the configured threshold is higher.
	threshold := t.cfg.DirectThreshold
	if threshold > config.MaxSimpleCopySize {
		threshold = config.MaxSimpleCopySize
	}

	if size <= threshold {
		if err := t.copyDirect(ctx, src, dest); err != nil {
			return nil, err
		}
		summary := &Summary{Mode: ModeCopy, Bytes: size, Parts: 1, Direct: true, Duration: time.Since(start)}
		t.log.Info().Msg(summary.String())
		return summary, nil
	}

	plan, err := t.plan(size)
	if err != nil {
		return nil, err
	}

	sess := session.New(t.api, dest, session.Options{StorageClass: t.storageClass()})
	if err := sess.Initiate(ctx); err != nil {
		return nil, err
	}
	t.log.Debug().Str("upload_id", sess.UploadID()).Int("parts", len(plan.Parts)).Msg("multipart copy initiated")

	specs := make([]pool.Spec, len(plan.Parts))
	for i, r := range plan.Parts {
		specs[i] = pool.Spec{Range: r, Source: src}
		if err := sess.Submit(r.Index); err != nil {
			return nil, err
		}
	}

	results := pool.Run(ctx, specs, t.cfg.Concurrency, t.copyPartHandler(dest, sess.UploadID()))
	if err := t.finalize(ctx, sess, len(specs), results); err != nil {
		return nil, err
	}

	summary := &Summary{Mode: ModeCopy, Bytes: size, Parts: len(plan.Parts), Duration: time.Since(start)}
	t.log.Info().Msg(summary.String())
	return summary, nil
}

// copyDirect copies the whole object with one server-side CopyObject call.
func (t *Transferer) copyDirect(ctx context.Context, src, dest s3url.Locator) error {
	input := &s3.CopyObjectInput{
		Bucket:     aws.String(dest.Bucket),
		Key:        aws.String(dest.Key),
		CopySource: aws.String(copySource(src)),
	}
	if sc := t.storageClass(); sc != "" {
		input.StorageClass = sc
	}

	if _, err := t.api.CopyObject(ctx, input); err != nil {
		return xerrors.NewError("copyObject", err).WithBucket(dest.Bucket).WithKey(dest.Key)
	}
	return nil
}

// copyPartHandler returns the pool handler for one server-side part copy.
func (t *Transferer) copyPartHandler(dest s3url.Locator, uploadID string) pool.Handler {
	return func(ctx context.Context, spec pool.Spec) pool.Result {
		start := time.Now()
		log := t.log.With().Int32("part", spec.Range.Index).Logger()

		client, err := t.clients.Get(ctx)
		if err != nil {
			return failedResult(spec, 0, start, err)
		}
		defer t.clients.Put(client)

		var etag string
		attempts, err := t.retryPolicy().Do(ctx, func() error {
			out, err := client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
				Bucket:          aws.String(dest.Bucket),
				Key:             aws.String(dest.Key),
				UploadId:        aws.String(uploadID),
				PartNumber:      aws.Int32(spec.Range.Index),
				CopySource:      aws.String(copySource(spec.Source)),
				CopySourceRange: aws.String(spec.Range.RangeHeader()),
			})
			if err != nil {
				return err
			}
			if out.CopyPartResult != nil {
				etag = aws.ToString(out.CopyPartResult.ETag)
			}
			return nil
		})
		if err != nil {
			return failedResult(spec, attempts, start, err)
		}

		elapsed := time.Since(start)
		log.Debug().Uint64("bytes", spec.Range.Len()).Dur("elapsed", elapsed).Uint("attempts", attempts).
			Msg("part copied")
		return pool.Result{
			Index:    spec.Range.Index,
			ETag:     etag,
			Bytes:    spec.Range.Len(),
			Attempts: attempts,
			Elapsed:  elapsed,
		}
	}
}

// copySource renders the CopySource header value. The key's path segments
// are percent-encoded; the service decodes the header before resolving the
// source object.
func copySource(loc s3url.Locator) string {
	escaped := (&url.URL{Path: loc.Key}).EscapedPath()
	return loc.Bucket + "/" + escaped
}
