// Package tilefetch implements the TileFetcher contract from spec §4.1:
// HTTPS GET of one SRTM tile against the public skadi bucket, with
// retry/backoff, progress events, cancellation, and 404-as-null semantics.
//
// It is grounded on the teacher's cmd/build httpWorker/doHTTPWithRetry
// retry loop and on quay/claircore's libindex/fetcher.go (TeeReader-based
// progress, context-scoped requests), generalized from plain HTTP onto the
// AWS SDK's anonymous S3 client, which is one of the teacher's own
// dependencies.
package tilefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/cenkalti/backoff/v4"

	"github.com/srtm-tiles/srtmpack/internal/errs"
	"github.com/srtm-tiles/srtmpack/internal/tileid"
)

const (
	DefaultBucket    = "elevation-tiles-prod"
	DefaultPrefix    = "skadi"
	DefaultRegion    = "us-east-1"
	DefaultMaxRetry  = 3
	DefaultDelay     = 100 * time.Millisecond
	DefaultTimeout   = 30 * time.Second
	DefaultFetchPool = 8
)

// ProgressEvent reports body-read progress for a single tile fetch.
type ProgressEvent struct {
	TileID tileid.ID
	Loaded int64
	Total  int64 // -1 when Content-Length was unavailable
}

// object is what a getObjectFunc returns: the response body and its
// declared length (-1 if unknown).
type object struct {
	body          io.ReadCloser
	contentLength int64
}

// getObjectFunc performs the actual GET for one key. It is a field on
// Fetcher rather than an interface so unit tests can substitute a fake
// source without standing up a real AWS session or an HTTP server.
type getObjectFunc func(ctx context.Context, key string) (*object, error)

// Options configures a Fetcher. Zero values take the spec §4.1 defaults.
type Options struct {
	Bucket     string
	Prefix     string
	Region     string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
	Logger     *slog.Logger
	OnProgress func(ProgressEvent)
}

// Fetcher implements spec §4.1.
type Fetcher struct {
	prefix     string
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
	logger     *slog.Logger
	onProgress func(ProgressEvent)

	getObject getObjectFunc
}

// New builds a Fetcher backed by an anonymous S3 client, matching the
// public, unauthenticated read access of the skadi bucket.
func New(opts Options) (*Fetcher, error) {
	opts = withDefaults(opts)

	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(opts.Region),
		Credentials: credentials.AnonymousCredentials,
	})
	if err != nil {
		return nil, errs.Internal(fmt.Sprintf("unable to create AWS session: %v", err))
	}
	client := s3.New(sess)

	f := newFetcher(opts)
	f.getObject = func(ctx context.Context, key string) (*object, error) {
		out, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(opts.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, err
		}
		length := int64(-1)
		if out.ContentLength != nil {
			length = *out.ContentLength
		}
		return &object{body: out.Body, contentLength: length}, nil
	}
	return f, nil
}

func withDefaults(opts Options) Options {
	if opts.Bucket == "" {
		opts.Bucket = DefaultBucket
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Region == "" {
		opts.Region = DefaultRegion
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetry
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

func newFetcher(opts Options) *Fetcher {
	return &Fetcher{
		prefix:     opts.Prefix,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		timeout:    opts.Timeout,
		logger:     opts.Logger,
		onProgress: opts.OnProgress,
	}
}

// Result is one entry of a FetchMultiple batch.
type Result struct {
	TileID  tileid.ID
	Success bool
	Data    []byte
	Skipped bool // true on a 404/ocean tile
	Err     error
}

var errNotFound = errors.New("tile not found (404)")

func retryableStatus(status int) bool {
	return status >= 500 && status < 600
}

// Fetch retrieves the raw compressed payload for id, or (nil, nil) when the
// origin reports 404 (spec §4.1: "404-as-null").
func (f *Fetcher) Fetch(ctx context.Context, id tileid.ID) ([]byte, error) {
	if id.IsZero() {
		return nil, errs.InvalidTile("empty tile id")
	}

	key := id.S3Key(f.prefix)
	log := f.logger.With("tile", id.String(), "key", key)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.retryDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // attempt count is bounded by f.maxRetries below, not elapsed wall time

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			d := bo.NextBackOff()
			log.Debug("retrying tile fetch", "attempt", attempt, "delay", d)
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, errs.Abort("fetch cancelled during backoff", ctx.Err())
			}
		}

		data, err := f.attempt(ctx, id, key, log)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, errNotFound) {
			return nil, nil
		}

		var herr *errs.Error
		if errors.As(err, &herr) {
			switch {
			case herr.Kind() == errs.KindAbort:
				return nil, err
			case herr.Kind() == errs.KindNetwork && herr.Status() != 0 && !retryableStatus(herr.Status()):
				return nil, err
			}
		}
		lastErr = err
	}

	return nil, errs.Network(fmt.Sprintf("exhausted %d retries fetching %s", f.maxRetries, id), lastErr)
}

func (f *Fetcher) attempt(parent context.Context, id tileid.ID, key string, log *slog.Logger) ([]byte, error) {
	ctx, cancel := context.WithTimeout(parent, f.timeout)
	defer cancel()

	obj, err := f.getObject(ctx, key)
	if err != nil {
		if parent.Err() != nil {
			return nil, errs.Abort("fetch cancelled", parent.Err())
		}
		if ctx.Err() != nil {
			// Per-attempt timeout fired, not the caller's cancellation;
			// spec §4.1 treats this as retryable.
			return nil, errs.Network("request timed out", err)
		}

		var reqErr awserr.RequestFailure
		if errors.As(err, &reqErr) {
			if reqErr.StatusCode() == 404 {
				return nil, errNotFound
			}
			return nil, errs.HTTP(reqErr.StatusCode(), fmt.Sprintf("unexpected status fetching %s: %s", id, reqErr.Code()))
		}
		return nil, errs.Network("request failed", err)
	}
	defer obj.body.Close()

	pr := &progressReader{
		r: obj.body,
		onRead: func(n int64) {
			if f.onProgress != nil {
				f.onProgress(ProgressEvent{TileID: id, Loaded: n, Total: obj.contentLength})
			}
		},
	}

	data, err := io.ReadAll(pr)
	if err != nil {
		if parent.Err() != nil {
			return nil, errs.Abort("fetch cancelled", parent.Err())
		}
		return nil, errs.Network("failed reading response body", err)
	}

	log.Debug("tile fetch ok", "bytes", len(data))
	return data, nil
}

// progressReader wraps a reader and reports cumulative bytes read, falling
// back to chunk accumulation when Content-Length was absent (spec §4.1).
type progressReader struct {
	r      io.Reader
	loaded int64
	onRead func(loaded int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.loaded += int64(n)
		if p.onRead != nil {
			p.onRead(p.loaded)
		}
	}
	return n, err
}

// FetchMultipleOptions configures a standalone batch fetch.
type FetchMultipleOptions struct {
	Concurrent int
}

// FetchMultiple performs a one-shot batch fetch with its own bounded pool,
// independent of download.Manager's scheduler (spec §4.1, §9 Open
// Question). Callers that need the manager's unified progress/cache/zip
// pipeline must not use this; it exists for standalone fetches only.
func (f *Fetcher) FetchMultiple(ctx context.Context, ids []tileid.ID, opts FetchMultipleOptions) []Result {
	if opts.Concurrent <= 0 {
		opts.Concurrent = DefaultFetchPool
	}
	results := make([]Result, len(ids))
	if len(ids) == 0 {
		return results
	}

	sem := make(chan struct{}, opts.Concurrent)
	var wg sync.WaitGroup
	for i, id := range ids {
		i, id := i, id
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			data, err := f.Fetch(ctx, id)
			switch {
			case err != nil:
				results[i] = Result{TileID: id, Success: false, Err: err}
			case data == nil:
				results[i] = Result{TileID: id, Success: true, Skipped: true}
			default:
				results[i] = Result{TileID: id, Success: true, Data: data}
			}
		}()
	}
	wg.Wait()
	return results
}
