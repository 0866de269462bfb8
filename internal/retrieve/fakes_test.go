package retrieve

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/websearch"
)

type fakeEmbedder struct {
	err   error
	calls atomic.Int32
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

type fakeIndex struct {
	hits  []store.Hit
	err   error
	delay time.Duration
	calls atomic.Int32
	lastK atomic.Int32
}

func (f *fakeIndex) Query(ctx context.Context, _ []float32, k int) ([]store.Hit, error) {
	f.calls.Add(1)
	f.lastK.Store(int32(k))
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	n := min(k, len(f.hits))
	return append([]store.Hit(nil), f.hits[:n]...), nil
}

type fakeSearcher struct {
	stubs []websearch.Stub
	err   error
	calls atomic.Int32
	lastN atomic.Int32
}

func (f *fakeSearcher) Search(_ context.Context, _ string, maxResults int) ([]websearch.Stub, error) {
	f.calls.Add(1)
	f.lastN.Store(int32(maxResults))
	if f.err != nil {
		return []websearch.Stub{}, f.err
	}
	return append([]websearch.Stub(nil), f.stubs...), nil
}

// fakeExtractor returns pages[url]; urls in failing return an
// ExtractionError and urls in slow block until ctx is done.
type fakeExtractor struct {
	pages   map[string]string
	failing map[string]bool
	slow    map[string]bool

	mu       sync.Mutex
	inFlight int
	peak     int
	calls    int
	hold     time.Duration
}

func (f *fakeExtractor) Extract(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.hold > 0 {
		time.Sleep(f.hold)
	}
	if f.slow[url] {
		<-ctx.Done()
		return "", amerrors.ExtractionError(url, "fetch failed", ctx.Err())
	}
	if f.failing[url] {
		return "", amerrors.ExtractionError(url, "page returned status 500", nil)
	}
	return f.pages[url], nil
}

func (f *fakeExtractor) peakInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

var errBoom = errors.New("boom")

func dbHit(id string, score float64) store.Hit {
	return store.Hit{ID: id, Score: score, Text: "text of " + id, Metadata: store.Metadata{Title: "Doc " + id}}
}

func stub(link string) websearch.Stub {
	return websearch.Stub{Title: "Title " + link, Snippet: "snippet of " + link, Link: link}
}

// foxFixture is the documented example: two database hits and two web results.
func foxFixture() (*fakeIndex, *fakeSearcher, *fakeExtractor) {
	idx := &fakeIndex{hits: []store.Hit{dbHit("d1", 0.9), dbHit("d2", 0.4)}}
	search := &fakeSearcher{stubs: []websearch.Stub{stub("https://u1.example.com/"), stub("https://u2.example.com/")}}
	ext := &fakeExtractor{pages: map[string]string{
		"https://u1.example.com/": "page one",
		"https://u2.example.com/": "page two",
	}}
	return idx, search, ext
}
