// Package certs walks the gateway's EAP root-certificate store: it
// fetches the listing file, parses it, retrieves each certificate and
// keeps the ones that pass a cheap DER sanity check.
package certs

import (
	"errors"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/thezakman/bgwrace/pkg/bgw"
)

// Fetcher is the transport used for the listing and each certificate;
// *rawhttp.Client satisfies it.
type Fetcher interface {
	Fetch(host string, port int, path string) ([]byte, error)
}

// ErrNoListing means the certificate listing could not be retrieved.
// Fatal to the certificate phase only; the primary artifact already
// obtained is unaffected.
var ErrNoListing = errors.New("certs: failed to retrieve certificate listing")

// Descriptor is one non-comment line of rcertattr.txt, e.g.
// "1:1:0:attroot2031.der". Only the filename drives behaviour; the
// numeric fields are carried for completeness.
type Descriptor struct {
	Index    int
	Usage    int
	Reserved int
	Filename string
}

// Sink receives each validated certificate. Implemented by the caller,
// typically as a write to disk under the original filename.
type Sink func(filename string, der []byte) error

// ParseListing parses the certificate listing. Comment lines ('#') and
// blank lines are skipped; a trailing newline in the file must not turn
// into a fetch of an empty filename. The filename is the last
// colon-delimited field, whatever the field count.
func ParseListing(data []byte) []Descriptor {
	var ds []Descriptor
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		d := Descriptor{Filename: fields[len(fields)-1]}
		if len(fields) >= 4 {
			d.Index, _ = strconv.Atoi(fields[0])
			d.Usage, _ = strconv.Atoi(fields[1])
			d.Reserved, _ = strconv.Atoi(fields[2])
		}
		ds = append(ds, d)
	}
	return ds
}

// ValidDER reports whether b starts with the two-byte DER SEQUENCE tag.
// Good enough to tell a certificate from an error page.
func ValidDER(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x30 && b[1] == 0x82
}

// Pipeline fetches and validates the certificate set. Fetches are single
// attempts, not raced: this runs immediately after a won race, while the
// window is still open.
type Pipeline struct {
	Fetcher Fetcher
}

// Harvest retrieves the listing, walks it and hands every valid
// certificate to sink under its listing-supplied name. A certificate
// that is missing, empty or not DER is logged and skipped; a sink
// failure aborts, since the local disk going away is not skippable.
// Returns the number of certificates delivered.
func (p *Pipeline) Harvest(host string, port int, sink Sink) (int, error) {
	listing, err := p.Fetcher.Fetch(host, port, bgw.ListingPath)
	if err != nil {
		return 0, ErrNoListing
	}

	written := 0
	for _, d := range ParseListing(listing) {
		data, err := p.Fetcher.Fetch(host, port, bgw.RootCertDir+"/"+d.Filename)
		if err != nil || !ValidDER(data) {
			log.WithFields(log.Fields{"cert": d.Filename}).Warn("failed to retrieve root cert")
			continue
		}
		if err := sink(d.Filename, data); err != nil {
			return written, err
		}
		log.WithFields(log.Fields{"cert": d.Filename, "bytes": len(data)}).Debug("root cert retrieved")
		written++
	}
	return written, nil
}
