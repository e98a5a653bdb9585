// Package cleanup inspects and releases in-flight multipart transactions.
//
// Aborted or crashed transfers can leave uncommitted part data on the
// service, which is billed until the transaction is aborted. This package
// lists those transactions for a bucket and cancels them by upload id.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"s3mp/internal/s3api"
	"s3mp/internal/xerrors"
)

// Transaction describes one in-flight multipart upload.
type Transaction struct {
	UploadID  string
	Key       string
	Initiator string
	StartedAt time.Time
}

// Cleaner lists and cancels multipart transactions in one bucket.
type Cleaner struct {
	api    s3api.Client
	bucket string
	log    zerolog.Logger
}

// New returns a Cleaner scoped to the bucket.
func New(api s3api.Client, bucket string, log zerolog.Logger) *Cleaner {
	return &Cleaner{api: api, bucket: bucket, log: log}
}

// List returns every in-flight multipart transaction in the bucket,
// following pagination markers until the listing is exhausted.
func (c *Cleaner) List(ctx context.Context) ([]Transaction, error) {
	var txns []Transaction

	input := &s3.ListMultipartUploadsInput{Bucket: aws.String(c.bucket)}
	for {
		out, err := c.api.ListMultipartUploads(ctx, input)
		if err != nil {
			return nil, xerrors.NewError("listMultipartUploads", err).WithBucket(c.bucket)
		}

		for _, u := range out.Uploads {
			txn := Transaction{
				UploadID: aws.ToString(u.UploadId),
				Key:      aws.ToString(u.Key),
			}
			if u.Initiator != nil {
				txn.Initiator = aws.ToString(u.Initiator.DisplayName)
				if txn.Initiator == "" {
					txn.Initiator = aws.ToString(u.Initiator.ID)
				}
			}
			if u.Initiated != nil {
				txn.StartedAt = *u.Initiated
			}
			txns = append(txns, txn)
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.KeyMarker = out.NextKeyMarker
		input.UploadIdMarker = out.NextUploadIdMarker
	}

	return txns, nil
}

// Cancel aborts the transaction with the given upload id. An id that does
// not match any in-flight transaction in the bucket is an error; the caller
// may be holding a stale id from an already-released transfer.
func (c *Cleaner) Cancel(ctx context.Context, uploadID string) error {
	txns, err := c.List(ctx)
	if err != nil {
		return err
	}

	var target *Transaction
	for i := range txns {
		if txns[i].UploadID == uploadID {
			target = &txns[i]
			break
		}
	}
	if target == nil {
		return xerrors.NewError("cancel",
			fmt.Errorf("%w: upload id '%s' not found in bucket", xerrors.ErrUploadNotFound, uploadID)).
			WithBucket(c.bucket)
	}

	_, err = c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(target.Key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return xerrors.NewError("abortMultipartUpload", err).WithBucket(c.bucket).WithKey(target.Key)
	}

	c.log.Info().Str("upload_id", uploadID).Str("key", target.Key).Msg("multipart transaction cancelled")
	return nil
}
