// Command cuki streams an access trace through the working-set-size
// estimator and writes reference_index,wss_bytes samples to the output.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"cuki/internal/ccf"
	"cuki/internal/estimator"
	"cuki/internal/logging"
	"cuki/internal/sink"
	"cuki/internal/trace"
	"cuki/pkg/config"
)

var (
	configPath     = flag.String("config", "configs/cuki.yaml", "Path to configuration file")
	tracePath      = flag.String("trace", "", "Trace file path, or - for stdin (overrides config)")
	traceFormat    = flag.String("format", "", "Trace format: csv or synthetic (overrides config)")
	outPath        = flag.String("out", "", "Sample output path, or - for stdout (overrides config)")
	windowSize     = flag.Uint64("window", 0, "Sliding window size in references (overrides config)")
	reportInterval = flag.Uint64("report-interval", 0, "References between reconciliations (overrides config)")
	oppoAging      = flag.Bool("oppo-aging", false, "Use opportunistic aging instead of sweeps (overrides config)")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load configuration: %v\n", err)
		return 1
	}

	if *tracePath != "" {
		cfg.Trace.Path = *tracePath
	}
	if *traceFormat != "" {
		cfg.Trace.Format = config.TraceFormat(*traceFormat)
	}
	if *outPath != "" {
		cfg.Output.Path = *outPath
	}
	if *windowSize != 0 {
		cfg.Filter.WindowSize = *windowSize
	}
	if *reportInterval != 0 {
		cfg.Estimator.ReportInterval = *reportInterval
	}
	if flag.CommandLine.Changed("oppo-aging") {
		cfg.Filter.OpportunisticAging = *oppoAging
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: invalid configuration: %v\n", err)
		return 1
	}

	runID := fmt.Sprintf("cuki-%s", uuid.New().String()[:8])
	logger, err := logging.InitializeFromConfig(runID, cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to initialize logging: %v\n", err)
		return 1
	}
	defer logger.Close()

	logging.Info(nil, logging.ComponentMain, logging.ActionStart, "cuki starting", map[string]interface{}{
		"run_id":          runID,
		"config_file":     *configPath,
		"trace_format":    string(cfg.Trace.Format),
		"window_size":     cfg.Filter.WindowSize,
		"num_buckets":     cfg.Filter.NumBuckets,
		"tags_per_bucket": cfg.Filter.TagsPerBucket,
		"oppo_aging":      cfg.Filter.OpportunisticAging,
	})

	filter, err := ccf.New(&cfg.Filter)
	if err != nil {
		logging.Fatal(nil, logging.ComponentMain, logging.ActionStart, "filter construction failed", err)
		return 1
	}

	out, err := openSink(cfg.Output.Path)
	if err != nil {
		logging.Fatal(nil, logging.ComponentMain, logging.ActionStart, "failed to open output", err)
		return 1
	}

	reader, closeTrace, err := openTrace(cfg.Trace)
	if err != nil {
		logging.Fatal(nil, logging.ComponentMain, logging.ActionStart, "failed to open trace", err)
		return 1
	}
	defer closeTrace()

	est, err := estimator.New(filter, out, cfg.Estimator)
	if err != nil {
		logging.Fatal(nil, logging.ComponentMain, logging.ActionStart, "estimator construction failed", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	interrupted := false
loop:
	for {
		select {
		case <-sigCh:
			interrupted = true
			break loop
		default:
		}

		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			logging.Error(nil, logging.ComponentMain, logging.ActionRead, "trace read failed", err)
			return 1
		}
		est.Touch(rec.Key, rec.Size)
	}

	est.Flush()
	if err := out.Close(); err != nil {
		logging.Error(nil, logging.ComponentMain, logging.ActionStop, "failed to flush output", err)
		return 1
	}

	stats := est.FilterStats()
	logging.Info(nil, logging.ComponentMain, logging.ActionStop, "cuki finished", map[string]interface{}{
		"interrupted":   interrupted,
		"references":    est.References(),
		"wss_bytes":     est.WSS(),
		"occupied":      stats.Occupied,
		"load_factor":   stats.LoadFactor,
		"refreshes":     stats.Refreshes,
		"inserts":       stats.Inserts,
		"displacements": stats.Displacements,
		"drops":         stats.Drops,
		"aged_out":      stats.AgedOut,
	})
	return 0
}

// openSink maps an output path to a sample sink. "-" is stdout; closing the
// sink never closes stdout itself.
func openSink(path string) (sink.Sink, error) {
	if path == "-" {
		return sink.NewCSVSink(nopWriteCloser{os.Stdout}), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return sink.NewCSVSink(f), nil
}

// nopWriteCloser shields stdout from the sink's Close.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func openTrace(cfg config.TraceConfig) (trace.Reader, func(), error) {
	switch cfg.Format {
	case config.TraceFormatSynthetic:
		r, err := trace.NewSyntheticReader(cfg.Synthetic)
		if err != nil {
			return nil, nil, err
		}
		return r, func() {}, nil
	default:
		if cfg.Path == "-" {
			return trace.NewCSVReader(os.Stdin), func() {}, nil
		}
		f, err := os.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return trace.NewCSVReader(f), func() { f.Close() }, nil
	}
}
