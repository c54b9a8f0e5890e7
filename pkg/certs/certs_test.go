package certs

import (
	"bytes"
	"errors"
	"testing"

	"github.com/thezakman/bgwrace/pkg/rawhttp"
)

type fetchFunc func(host string, port int, path string) ([]byte, error)

func (f fetchFunc) Fetch(host string, port int, path string) ([]byte, error) {
	return f(host, port, path)
}

func TestParseListing(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Descriptor
	}{
		{
			name: "typical listing",
			in:   "1:1:0:attsubca2030.der\n2:1:0:attroot2031.der\n3:1:0:attsubca2021.der\n",
			want: []Descriptor{
				{1, 1, 0, "attsubca2030.der"},
				{2, 1, 0, "attroot2031.der"},
				{3, 1, 0, "attsubca2021.der"},
			},
		},
		{
			name: "comments and blank lines are skipped",
			in:   "#comment\n1:1:0:certA.der\n\n",
			want: []Descriptor{{1, 1, 0, "certA.der"}},
		},
		{
			name: "whitespace-only line is skipped",
			in:   "  \t \n1:1:0:certA.der",
			want: []Descriptor{{1, 1, 0, "certA.der"}},
		},
		{
			name: "filename is the last field whatever the count",
			in:   "5:cert.der",
			want: []Descriptor{{0, 0, 0, "cert.der"}},
		},
		{
			name: "empty input",
			in:   "",
			want: nil,
		},
		{
			name: "comments only",
			in:   "# root certificate attributes\n# index:usage:reserved:filename\n",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseListing([]byte(tt.in))
			if len(got) != len(tt.want) {
				t.Fatalf("got %d descriptors, want %d: %v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("descriptor %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestValidDER(t *testing.T) {
	tests := []struct {
		in   []byte
		want bool
	}{
		{[]byte{0x30, 0x82, 0x05, 0x39}, true},
		{[]byte{0x30, 0x82}, true},
		{[]byte{0x30, 0x81, 0x00}, false},
		{[]byte("<html>not found</html>"), false},
		{[]byte{0x30}, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := ValidDER(tt.in); got != tt.want {
			t.Errorf("ValidDER(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHarvestSkipsBadCertificates(t *testing.T) {
	der := []byte{0x30, 0x82, 0x01, 0x00}
	p := Pipeline{Fetcher: fetchFunc(func(host string, port int, path string) ([]byte, error) {
		switch path {
		case "/var/etc/rootcert/rcertattr.txt":
			return []byte("# roots\n1:1:0:good.der\n2:1:0:missing.der\n3:1:0:notder.der\n"), nil
		case "/var/etc/rootcert/good.der":
			return der, nil
		case "/var/etc/rootcert/notder.der":
			return []byte("<html>login</html>"), nil
		default:
			return nil, rawhttp.ErrAbsent
		}
	})}

	written := map[string][]byte{}
	n, err := p.Harvest("192.168.1.254", 80, func(name string, data []byte) error {
		written[name] = data
		return nil
	})
	if err != nil {
		t.Fatalf("Harvest error = %v", err)
	}
	if n != 1 {
		t.Errorf("written count = %d, want 1", n)
	}
	if !bytes.Equal(written["good.der"], der) {
		t.Errorf("good.der = %v, want %v", written["good.der"], der)
	}
	if _, ok := written["notder.der"]; ok {
		t.Error("invalid certificate was delivered to the sink")
	}
	if _, ok := written["missing.der"]; ok {
		t.Error("unfetchable certificate was delivered to the sink")
	}
}

func TestHarvestMissingListingIsFatal(t *testing.T) {
	p := Pipeline{Fetcher: fetchFunc(func(host string, port int, path string) ([]byte, error) {
		return nil, rawhttp.ErrAbsent
	})}
	if _, err := p.Harvest("192.168.1.254", 80, func(string, []byte) error { return nil }); !errors.Is(err, ErrNoListing) {
		t.Errorf("Harvest error = %v, want ErrNoListing", err)
	}
}

func TestHarvestSinkErrorAborts(t *testing.T) {
	der := []byte{0x30, 0x82, 0x01}
	p := Pipeline{Fetcher: fetchFunc(func(host string, port int, path string) ([]byte, error) {
		if path == "/var/etc/rootcert/rcertattr.txt" {
			return []byte("1:1:0:a.der\n2:1:0:b.der\n"), nil
		}
		return der, nil
	})}
	diskFull := errors.New("disk full")
	n, err := p.Harvest("192.168.1.254", 80, func(string, []byte) error { return diskFull })
	if !errors.Is(err, diskFull) {
		t.Errorf("Harvest error = %v, want the sink error", err)
	}
	if n != 0 {
		t.Errorf("written count = %d, want 0", n)
	}
}
