package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"

	"s3mp/internal/pool"
	"s3mp/internal/s3url"
	"s3mp/internal/session"
	"s3mp/internal/xerrors"
)

// Upload transfers a local file to the destination object. Objects at or
// under the direct threshold go through a single PutObject; larger files are
// split and uploaded as a multipart transaction.
func (t *Transferer) Upload(ctx context.Context, localPath string, dest s3url.Locator) (*Summary, error) {
	start := time.Now()

	info, err := os.Stat(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &xerrors.PreconditionError{Reason: fmt.Sprintf("source file '%s' does not exist", localPath)}
		}
		return nil, xerrors.NewError("statSource", err)
	}
	if info.IsDir() {
		return nil, &xerrors.PreconditionError{Reason: fmt.Sprintf("source '%s' is a directory", localPath)}
	}
	size := uint64(info.Size())

	if err := t.checkRemoteDestination(ctx, dest); err != nil {
		return nil, err
	}

	contentType := detectContentType(localPath)

	if size <= t.cfg.DirectThreshold {
		if err := t.putDirect(ctx, localPath, dest, contentType); err != nil {
			return nil, err
		}
		summary := &Summary{Mode: ModeUpload, Bytes: size, Parts: 1, Direct: true, Duration: time.Since(start)}
		t.log.Info().Msg(summary.String())
		return summary, nil
	}

	plan, err := t.plan(size)
	if err != nil {
		return nil, err
	}

	sess := session.New(t.api, dest, session.Options{
		ContentType:  contentType,
		StorageClass: t.storageClass(),
	})
	if err := sess.Initiate(ctx); err != nil {
		return nil, err
	}
	t.log.Debug().Str("upload_id", sess.UploadID()).Int("parts", len(plan.Parts)).Msg("multipart upload initiated")

	specs := make([]pool.Spec, len(plan.Parts))
	for i, r := range plan.Parts {
		specs[i] = pool.Spec{Range: r, LocalPath: localPath}
		if err := sess.Submit(r.Index); err != nil {
			return nil, err
		}
	}

	results := pool.Run(ctx, specs, t.cfg.Concurrency, t.uploadPartHandler(dest, sess.UploadID()))
	if err := t.finalize(ctx, sess, len(specs), results); err != nil {
		return nil, err
	}

	summary := &Summary{Mode: ModeUpload, Bytes: size, Parts: len(plan.Parts), Duration: time.Since(start)}
	t.log.Info().Msg(summary.String())
	return summary, nil
}

// putDirect uploads the whole file with one PutObject call.
func (t *Transferer) putDirect(ctx context.Context, localPath string, dest s3url.Locator, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return xerrors.NewError("openSource", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return xerrors.NewError("statSource", err)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(dest.Bucket),
		Key:           aws.String(dest.Key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	}
	if sc := t.storageClass(); sc != "" {
		input.StorageClass = sc
	}

	if _, err := t.api.PutObject(ctx, input); err != nil {
		return xerrors.NewError("putObject", err).WithBucket(dest.Bucket).WithKey(dest.Key)
	}
	return nil
}

// uploadPartHandler returns the pool handler for one part upload. Each
// invocation checks out its own client handle and opens its own file handle,
// so retried attempts re-read the same offsets with no shared cursor.
func (t *Transferer) uploadPartHandler(dest s3url.Locator, uploadID string) pool.Handler {
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
			buf, err := readFileRange(spec.LocalPath, spec.Range.Start, spec.Range.Len())
			if err != nil {
				return err
			}

			out, err := client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:        aws.String(dest.Bucket),
				Key:           aws.String(dest.Key),
				UploadId:      aws.String(uploadID),
				PartNumber:    aws.Int32(spec.Range.Index),
				Body:          bytes.NewReader(buf),
				ContentLength: aws.Int64(int64(len(buf))),
			})
			if err != nil {
				return err
			}
			etag = aws.ToString(out.ETag)
			return nil
		})
		if err != nil {
			return failedResult(spec, attempts, start, err)
		}

		elapsed := time.Since(start)
		log.Debug().Uint64("bytes", spec.Range.Len()).Dur("elapsed", elapsed).Uint("attempts", attempts).
			Msg("part uploaded")
		return pool.Result{
			Index:    spec.Range.Index,
			ETag:     etag,
			Bytes:    spec.Range.Len(),
			Attempts: attempts,
			Elapsed:  elapsed,
		}
	}
}

// readFileRange reads exactly length bytes at offset using a private file
// handle, positioned explicitly per call.
func readFileRange(path string, offset, length uint64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, int64(offset))
	if err != nil && !(errors.Is(err, io.EOF) && uint64(n) == length) {
		return nil, fmt.Errorf("read %d bytes at offset %d: %w", length, offset, err)
	}
	if uint64(n) != length {
		return nil, fmt.Errorf("short read: %d of %d bytes at offset %d", n, length, offset)
	}
	return buf, nil
}

func failedResult(spec pool.Spec, attempts uint, start time.Time, err error) pool.Result {
	return pool.Result{
		Index:    spec.Range.Index,
		Attempts: attempts,
		Elapsed:  time.Since(start),
		Err: &xerrors.PartTransferFailedError{
			PartIndex: spec.Range.Index,
			Attempts:  attempts,
			LastErr:   err,
		},
	}
}

// detectContentType sniffs the file's content type, falling back to a
// generic binary type when detection fails.
func detectContentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil || mt == nil {
		return "application/octet-stream"
	}
	return mt.String()
}
