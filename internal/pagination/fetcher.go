// Package pagination walks page-numbered list endpoints with retry and a
// hard page ceiling.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
)

// ErrTooManyPages is returned when a listing exceeds Options.MaxPages.
var ErrTooManyPages = errors.New("pagination: too many pages")

// Page is one page of a listing. Next is the cursor for the following page
// when HasMore is true; an empty Next means "page number + 1".
type Page[T any] struct {
	Items   []T
	HasMore bool
	Next    string
}

// ListFunc fetches one page. An empty cursor asks for the first page.
type ListFunc[T any] func(ctx context.Context, cursor string, pageSize int) (Page[T], error)

// Options tunes a Fetcher. Zero values pick the defaults below.
type Options struct {
	PageSize int
	MaxPages int
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
	Clock    clock.Clock

	// Retryable decides whether a failed page is fetched again.
	// Nil means no error is retried.
	Retryable func(error) bool

	OnPage  func(pageNo, items int)
	OnRetry func(err error, attempt int)
}

const (
	DefaultPageSize = 20
	DefaultMaxPages = 10000
	DefaultAttempts = 3
	DefaultDelay    = 2 * time.Second
	DefaultMaxDelay = 30 * time.Second
)

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Delay <= 0 {
		o.Delay = DefaultDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Clock == nil {
		o.Clock = clock.WallClock
	}
	return o
}

// Fetcher turns a ListFunc into a complete, ordered listing.
type Fetcher[T any] struct {
	list ListFunc[T]
	opts Options
}

// New returns a Fetcher over list.
func New[T any](list ListFunc[T], opts Options) *Fetcher[T] {
	return &Fetcher[T]{list: list, opts: opts.withDefaults()}
}

// Seq yields every item lazily, in page order. Each call starts over from
// the first page. A failure is yielded once as the final element.
func (f *Fetcher[T]) Seq(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		cursor := ""
		for pageNo := 1; ; pageNo++ {
			if pageNo > f.opts.MaxPages {
				yield(zero, fmt.Errorf("%w: stopped after %d pages", ErrTooManyPages, f.opts.MaxPages))
				return
			}
			page, err := f.fetch(ctx, cursor)
			if err != nil {
				yield(zero, fmt.Errorf("page %d: %w", pageNo, err))
				return
			}
			if f.opts.OnPage != nil {
				f.opts.OnPage(pageNo, len(page.Items))
			}
			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}
			if !page.HasMore {
				return
			}
			cursor = page.Next
			if cursor == "" {
				cursor = fmt.Sprint(pageNo + 1)
			}
		}
	}
}

// All collects the whole listing. On error no partial slice is returned.
func (f *Fetcher[T]) All(ctx context.Context) ([]T, error) {
	var items []T
	for item, err := range f.Seq(ctx) {
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// fetch gets one page, retrying with a doubling delay while the error is retryable.
func (f *Fetcher[T]) fetch(ctx context.Context, cursor string) (Page[T], error) {
	var page Page[T]
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			p, err := f.list(ctx, cursor, f.opts.PageSize)
			if err != nil {
				return err
			}
			page = p
			return nil
		},
		IsFatalError: func(err error) bool {
			if ctx.Err() != nil {
				return true
			}
			return f.opts.Retryable == nil || !f.opts.Retryable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			if f.opts.OnRetry != nil {
				f.opts.OnRetry(err, attempt)
			}
		},
		Attempts:    f.opts.Attempts,
		Delay:       f.opts.Delay,
		MaxDelay:    f.opts.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       f.opts.Clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
			if last := retry.LastError(err); last != nil {
				return Page[T]{}, fmt.Errorf("after %d attempts: %w", f.opts.Attempts, last)
			}
		}
		return Page[T]{}, err
	}
	return page, nil
}
