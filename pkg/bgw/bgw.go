// Package bgw holds the device-model domain knowledge for the BGW210 and
// BGW320 residential gateways: which protected path carries the factory
// data for each model, the markers used to fingerprint a unit, and the
// shape of the calibration blob.
package bgw

import (
	"fmt"
	"strings"
)

// Model identifies a supported gateway family.
type Model string

const (
	BGW210 Model = "BGW210"
	BGW320 Model = "BGW320"
)

// Network defaults for a factory-configured gateway on its LAN side.
const (
	DefaultHost = "192.168.1.254"
	DefaultPort = 80
)

const (
	// DiagnosticPath is readable during the post-boot window on every
	// known firmware; its contents tell us the device is up.
	DiagnosticPath = "/etc/hosts"

	// OnlineMarker appears in the hosts file of affected firmware.
	OnlineMarker = "dsldevice"

	// ModelMarker appears in the per-revision config files under /etc.
	ModelMarker = "CONFIG_"

	// RootCertDir holds the EAP root certificates; ListingPath indexes them.
	RootCertDir = "/var/etc/rootcert"
	ListingPath = RootCertDir + "/rcertattr.txt"

	// CalibrationFile is the output name for the derived calibration blob.
	CalibrationFile = "calibration_01.bin"

	// CalibrationSize is the size of the calibration region at the tail
	// of a BGW210 mfg.dat.
	CalibrationSize = 16384
)

// Candidates lists the hardware revisions probed during model detection,
// in the order they are tried.
var Candidates = []string{"BGW210", "BGW320-500", "BGW320-505"}

// ParseModel converts operator input into a Model.
func ParseModel(s string) (Model, error) {
	switch Model(strings.ToUpper(s)) {
	case BGW210:
		return BGW210, nil
	case BGW320:
		return BGW320, nil
	}
	return "", fmt.Errorf("unknown model %q (expected BGW210 or BGW320)", s)
}

// UnmarshalText lets a Model be used directly as a command-line flag value.
func (m *Model) UnmarshalText(b []byte) error {
	parsed, err := ParseModel(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ModelFromCandidate collapses a hardware revision such as "BGW320-500"
// onto its base model.
func ModelFromCandidate(candidate string) (Model, error) {
	base, _, _ := strings.Cut(candidate, "-")
	return ParseModel(base)
}

// ArtifactPath returns the protected path holding the model's factory data.
func (m Model) ArtifactPath() string {
	if m == BGW210 {
		return "/mfg/mfg.dat"
	}
	return "/mfg/calibration_01.bin"
}

// CalibrationBlob slices the calibration region out of a BGW210 mfg.dat
// payload. On the BGW210 the calibration data sits in the last 16384
// bytes of the file; the BGW320 serves it as a standalone file and never
// needs this. Returns nil if the payload is too short to contain it.
func CalibrationBlob(payload []byte) []byte {
	if len(payload) < CalibrationSize {
		return nil
	}
	return payload[len(payload)-CalibrationSize:]
}
