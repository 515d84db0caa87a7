package tilefetch

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srtm-tiles/srtmpack/internal/errs"
	"github.com/srtm-tiles/srtmpack/internal/tileid"
)

type fakeRequestFailure struct {
	statusCode int
}

func (f fakeRequestFailure) Error() string     { return "fake request failure" }
func (f fakeRequestFailure) Code() string      { return "NotFound" }
func (f fakeRequestFailure) Message() string   { return "fake" }
func (f fakeRequestFailure) OrigErr() error    { return nil }
func (f fakeRequestFailure) StatusCode() int   { return f.statusCode }
func (f fakeRequestFailure) RequestID() string { return "req-1" }

var _ awserr.RequestFailure = fakeRequestFailure{}

func newTestFetcher(t *testing.T, get getObjectFunc) *Fetcher {
	t.Helper()
	f := newFetcher(withDefaults(Options{RetryDelay: time.Millisecond}))
	f.getObject = get
	return f
}

func TestFetch_Success(t *testing.T) {
	id := tileid.MustParse("N36W112")
	f := newTestFetcher(t, func(ctx context.Context, key string) (*object, error) {
		assert.Equal(t, "skadi/N36/N36W112.hgt.gz", key)
		return &object{body: io.NopCloser(newStringReader("payload")), contentLength: 7}, nil
	})

	data, err := f.Fetch(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestFetch_404IsNil(t *testing.T) {
	id := tileid.MustParse("N36W112")
	f := newTestFetcher(t, func(ctx context.Context, key string) (*object, error) {
		return nil, fakeRequestFailure{statusCode: 404}
	})

	data, err := f.Fetch(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestFetch_RetriesOn5xxThenSucceeds(t *testing.T) {
	id := tileid.MustParse("N36W112")
	attempts := 0
	f := newTestFetcher(t, func(ctx context.Context, key string) (*object, error) {
		attempts++
		if attempts < 3 {
			return nil, fakeRequestFailure{statusCode: 503}
		}
		return &object{body: io.NopCloser(newStringReader("ok")), contentLength: 2}, nil
	})

	data, err := f.Fetch(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, 3, attempts)
}

func TestFetch_NonRetryable4xxStopsImmediately(t *testing.T) {
	id := tileid.MustParse("N36W112")
	attempts := 0
	f := newTestFetcher(t, func(ctx context.Context, key string) (*object, error) {
		attempts++
		return nil, fakeRequestFailure{statusCode: 403}
	})

	_, err := f.Fetch(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestFetch_ExhaustsRetries(t *testing.T) {
	id := tileid.MustParse("N36W112")
	f := newTestFetcher(t, func(ctx context.Context, key string) (*object, error) {
		return nil, fakeRequestFailure{statusCode: 500}
	})
	f.maxRetries = 2

	_, err := f.Fetch(context.Background(), id)
	require.Error(t, err)
	var herr *errs.Error
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, errs.KindNetwork, herr.Kind())
}

func TestFetch_CancelledContextAborts(t *testing.T) {
	id := tileid.MustParse("N36W112")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newTestFetcher(t, func(ctx context.Context, key string) (*object, error) {
		return nil, errors.New("should not be reached after cancel during backoff")
	})
	f.maxRetries = 1

	_, err := f.Fetch(ctx, id)
	require.Error(t, err)
	assert.True(t, errs.IsAbort(err))
}

func TestFetch_RejectsZeroID(t *testing.T) {
	f := newTestFetcher(t, nil)
	_, err := f.Fetch(context.Background(), tileid.ID{})
	require.Error(t, err)
}

func TestFetchMultiple_RunsAllConcurrently(t *testing.T) {
	ids := []tileid.ID{
		tileid.MustParse("N36W112"),
		tileid.MustParse("N37W112"),
		tileid.MustParse("S08E135"),
	}
	f := newTestFetcher(t, func(ctx context.Context, key string) (*object, error) {
		return &object{body: io.NopCloser(newStringReader("x")), contentLength: 1}, nil
	})

	results := f.FetchMultiple(context.Background(), ids, FetchMultipleOptions{Concurrent: 2})
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Success)
		assert.Equal(t, "x", string(r.Data))
	}
}

// newStringReader returns a minimal io.Reader over s.
func newStringReader(s string) io.Reader {
	return &stringReader{s: s}
}

type stringReader struct {
	s   string
	pos int
}

func (r *stringReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.s) {
		return 0, io.EOF
	}
	n := copy(p, r.s[r.pos:])
	r.pos += n
	return n, nil
}
