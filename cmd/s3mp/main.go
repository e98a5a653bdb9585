// Command s3mp transfers large objects to and from S3 using parallel
// multipart operations.
//
// Usage:
//
//	s3mp upload SRC s3://BUCKET/KEY [flags]
//	s3mp download s3://BUCKET/KEY DST [flags]
//	s3mp copy s3://SRC_BUCKET/KEY s3://DST_BUCKET/KEY [flags]
//	s3mp cleanup s3://BUCKET/ [--cancel UPLOAD_ID]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"s3mp/internal/cleanup"
	"s3mp/internal/config"
	"s3mp/internal/s3api"
	"s3mp/internal/s3url"
	"s3mp/internal/storage"
	"s3mp/internal/transfer"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "upload":
		return runTransfer(ctx, "upload", args[1:])
	case "download":
		return runTransfer(ctx, "download", args[1:])
	case "copy":
		return runTransfer(ctx, "copy", args[1:])
	case "cleanup":
		return runCleanup(ctx, args[1:])
	case "help", "-h", "--help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `s3mp - parallel multipart S3 transfers

Commands:
  upload SRC s3://BUCKET/KEY      upload a local file
  download s3://BUCKET/KEY DST    download an object to a local file
  copy s3://SRC/KEY s3://DST/KEY  server-side copy between objects
  cleanup s3://BUCKET/            list in-flight multipart transactions
  cleanup s3://BUCKET/ -c ID      cancel one transaction by upload id

Flags:
  -n, --concurrency N        concurrent part transfers (default 2)
  -s, --split MB             target part size in megabytes (default 50)
  -f, --force                overwrite an existing destination
  -v, --verbose              debug logging
      --reduced-redundancy   use REDUCED_REDUNDANCY storage
      --region REGION        AWS region override
      --endpoint URL         S3 endpoint override
      --path-style           force path-style addressing
      --direct-threshold N   whole-object transfer cutoff in bytes (default 100MB)
      --retry-attempts N     per-part attempt budget (default 3)
      --retry-interval DUR   delay between attempts (default 1s)
`)
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.IntP("concurrency", "n", 2, "concurrent part transfers")
	fs.IntP("split", "s", 50, "target part size in megabytes")
	fs.BoolP("force", "f", false, "overwrite an existing destination")
	fs.BoolP("verbose", "v", false, "debug logging")
	fs.Bool("reduced-redundancy", false, "use REDUCED_REDUNDANCY storage")
	fs.String("region", "", "AWS region override")
	fs.String("endpoint", "", "S3 endpoint override")
	fs.Bool("path-style", false, "force path-style addressing")
	fs.Uint64("direct-threshold", config.DefaultDirectThreshold, "whole-object transfer cutoff in bytes")
	fs.Uint("retry-attempts", 3, "per-part attempt budget")
	fs.Duration("retry-interval", time.Second, "delay between attempts")
	return fs
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func runTransfer(ctx context.Context, mode string, args []string) int {
	fs := newFlagSet(mode)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if fs.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "%s requires a source and a destination\n", mode)
		usage()
		return 2
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	log := newLogger(cfg)

	client, err := storage.NewClient(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("could not build storage client")
		return 1
	}
	clients := storage.NewClientPool(func() (s3api.Client, error) {
		return storage.NewClient(ctx, cfg)
	}, cfg.Concurrency)

	tr := transfer.New(client, clients, cfg, log)

	var runErr error
	switch mode {
	case "upload":
		var dest s3url.Locator
		dest, runErr = s3url.ParseObject(fs.Arg(1))
		if runErr == nil {
			_, runErr = tr.Upload(ctx, fs.Arg(0), dest)
		}
	case "download":
		var src s3url.Locator
		src, runErr = s3url.ParseObject(fs.Arg(0))
		if runErr == nil {
			_, runErr = tr.Download(ctx, src, fs.Arg(1))
		}
	case "copy":
		var src, dest s3url.Locator
		src, runErr = s3url.ParseObject(fs.Arg(0))
		if runErr == nil {
			dest, runErr = s3url.ParseObject(fs.Arg(1))
		}
		if runErr == nil {
			_, runErr = tr.Copy(ctx, src, dest)
		}
	}

	if runErr != nil {
		log.Error().Err(runErr).Msgf("%s failed", mode)
		return 1
	}
	return 0
}

func runCleanup(ctx context.Context, args []string) int {
	fs := newFlagSet("cleanup")
	cancelID := fs.StringP("cancel", "c", "", "upload id to cancel")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "cleanup requires a bucket URL")
		usage()
		return 2
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	log := newLogger(cfg)

	loc, err := s3url.Parse(fs.Arg(0))
	if err != nil {
		log.Error().Err(err).Msg("invalid bucket URL")
		return 2
	}

	client, err := storage.NewClient(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("could not build storage client")
		return 1
	}

	c := cleanup.New(client, loc.Bucket, log)

	if *cancelID != "" {
		if err := c.Cancel(ctx, *cancelID); err != nil {
			log.Error().Err(err).Msg("cancel failed")
			return 1
		}
		return 0
	}

	txns, err := c.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("listing failed")
		return 1
	}
	if len(txns) == 0 {
		fmt.Printf("no in-flight multipart transactions in %s\n", loc.Bucket)
		return 0
	}

	for _, txn := range txns {
		started := ""
		if !txn.StartedAt.IsZero() {
			started = txn.StartedAt.Format(time.RFC3339)
		}
		fmt.Printf("key: %s\n  initiated: %s by %s\n  to cancel: s3mp cleanup -c %s s3://%s/\n",
			txn.Key, started, txn.Initiator, txn.UploadID, loc.Bucket)
	}
	return 0
}
