// Package s3url parses s3:// URLs into object locators.
// This includes bucket name validation according to AWS S3 DNS rules so that
// bad destinations are rejected before any transfer work begins.
package s3url

import (
	"net/url"
	"strings"
	"unicode"

	"s3mp/internal/xerrors"
)

// Locator identifies a source or destination object on the storage service.
// Immutable once constructed.
type Locator struct {
	Bucket string
	Key    string
}

// String renders the locator back as an s3:// URL.
func (l Locator) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

// IsZero reports whether the locator is empty.
func (l Locator) IsZero() bool {
	return l.Bucket == "" && l.Key == ""
}

// Parse parses an s3://bucket/key URL into a Locator.
// The key may be empty (bucket-only URLs are accepted for cleanup listings).
func Parse(raw string) (Locator, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Locator{}, xerrors.NewError("parseURL", xerrors.ErrInvalidLocator)
	}
	if u.Scheme != "s3" {
		return Locator{}, xerrors.NewError("parseURL", xerrors.ErrInvalidLocator)
	}

	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")

	if err := ValidateBucketName(bucket); err != nil {
		return Locator{}, err
	}
	if key != "" {
		if err := validateObjectKey(key); err != nil {
			return Locator{}, err
		}
	}

	return Locator{Bucket: bucket, Key: key}, nil
}

// ParseObject parses an s3:// URL and requires a non-empty object key.
func ParseObject(raw string) (Locator, error) {
	loc, err := Parse(raw)
	if err != nil {
		return Locator{}, err
	}
	if loc.Key == "" {
		return Locator{}, xerrors.NewError("parseURL", xerrors.ErrInvalidLocator).WithBucket(loc.Bucket)
	}
	return loc, nil
}

// ValidateBucketName validates that a bucket name is DNS-compliant according
// to AWS S3 rules.
func ValidateBucketName(bucket string) error {
	if len(bucket) < 3 || len(bucket) > 63 {
		return xerrors.NewError("validateBucket", xerrors.ErrInvalidLocator).WithBucket(bucket)
	}

	for _, r := range bucket {
		if !unicode.IsLower(r) && !unicode.IsDigit(r) && r != '-' && r != '.' {
			return xerrors.NewError("validateBucket", xerrors.ErrInvalidLocator).WithBucket(bucket)
		}
	}

	// Must start and end with a letter or number.
	first, last := bucket[0], bucket[len(bucket)-1]
	if first == '-' || first == '.' || last == '-' || last == '.' {
		return xerrors.NewError("validateBucket", xerrors.ErrInvalidLocator).WithBucket(bucket)
	}

	// No consecutive dots and no dot-dash adjacency.
	if strings.Contains(bucket, "..") || strings.Contains(bucket, ".-") || strings.Contains(bucket, "-.") {
		return xerrors.NewError("validateBucket", xerrors.ErrInvalidLocator).WithBucket(bucket)
	}

	return nil
}

// validateObjectKey rejects keys S3 would refuse or that smell like path
// traversal attempts.
func validateObjectKey(key string) error {
	if len(key) > 1024 {
		return xerrors.NewError("validateKey", xerrors.ErrInvalidLocator).WithKey(key)
	}
	if key == ".." || strings.HasPrefix(key, "../") || strings.Contains(key, "/../") || strings.HasSuffix(key, "/..") {
		return xerrors.NewError("validateKey", xerrors.ErrInvalidLocator).WithKey(key)
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return xerrors.NewError("validateKey", xerrors.ErrInvalidLocator).WithKey(key)
		}
	}
	return nil
}
