// Package usage records proxied calls asynchronously so the proxy never waits
// on the database.
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/keyrelay/keyrelay/internal/core"
)

const (
	DefaultBuffer = 256

	writeTimeout = 5 * time.Second
)

// Sink persists usage.
type Sink interface {
	AppendUsage(ctx context.Context, entry core.UsageEntry) error
	IncrementRequestCount(ctx context.Context, key string) error
}

// Options tune a Recorder.
type Options struct {
	Buffer  int
	Clock   func() time.Time
	OnDrop  func(entry core.UsageEntry)
	OnError func(entry core.UsageEntry, err error)
}

// Recorder is a bounded queue drained by one worker goroutine.
type Recorder struct {
	sink    Sink
	opts    Options
	entries chan core.UsageEntry
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts the worker. Call Close to drain and stop it.
func NewRecorder(sink Sink, opts Options) *Recorder {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}

	r := &Recorder{
		sink:    sink,
		opts:    opts,
		entries: make(chan core.UsageEntry, opts.Buffer),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues one call for key. It never blocks: when the queue is full or
// the recorder is closed the entry is dropped and OnDrop is called. Any
// api_key parameter is removed before queueing.
func (r *Recorder) Record(key, endpoint string, params []core.QueryParam) {
	if r == nil {
		return
	}

	entry := core.UsageEntry{
		APIKey:     key,
		Endpoint:   endpoint,
		Parameters: StripParam(params, "api_key"),
		RecordedAt: r.now(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(entry)
		return
	}

	select {
	case r.entries <- entry:
	default:
		r.drop(entry)
	}
}

// Close stops accepting entries and waits for queued ones to be written or
// for ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.entries)
	}
	r.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("usage recorder: drain interrupted: %w", ctx.Err())
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	for entry := range r.entries {
		r.write(entry)
	}
}

func (r *Recorder) write(entry core.UsageEntry) {
	if r.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.sink.AppendUsage(ctx, entry); err != nil {
		r.fail(entry, err)
		return
	}
	if err := r.sink.IncrementRequestCount(ctx, entry.APIKey); err != nil {
		r.fail(entry, err)
	}
}

func (r *Recorder) drop(entry core.UsageEntry) {
	if r.opts.OnDrop != nil {
		r.opts.OnDrop(entry)
	}
}

func (r *Recorder) fail(entry core.UsageEntry, err error) {
	if r.opts.OnError != nil {
		r.opts.OnError(entry, err)
	}
}

func (r *Recorder) now() time.Time {
	if r.opts.Clock != nil {
		return r.opts.Clock().UTC()
	}
	return time.Now().UTC()
}

// StripParam returns params without any entry named name, order preserved.
func StripParam(params []core.QueryParam, name string) []core.QueryParam {
	out := make([]core.QueryParam, 0, len(params))
	for _, param := range params {
		if param.Key == name {
			continue
		}
		out = append(out, param)
	}
	return out
}
