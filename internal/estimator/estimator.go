// Package estimator drives the clock cuckoo filter from an access stream and
// emits working-set-size samples at a fixed report cadence. It owns the
// reference counter that the window-driven aging schedule and the sampling
// cadence are both derived from.
package estimator

import (
	"fmt"
	"sync/atomic"

	"cuki/internal/ccf"
	"cuki/internal/logging"
	"cuki/internal/sink"
)

// Config controls sampling and IRR tracking.
type Config struct {
	// ReportInterval is the reconciliation period in references.
	ReportInterval uint64 `yaml:"report_interval"`
	// TimeDivisor subdivides the report interval for sample emission:
	// a sample is emitted every ReportInterval/TimeDivisor references.
	TimeDivisor uint64 `yaml:"time_divisor"`
	// MaxIRRKeys caps the inter-reference-recency tracker's key population.
	// Zero disables IRR tracking entirely.
	MaxIRRKeys uint64 `yaml:"max_irr_keys"`
}

// Estimator feeds accesses into the filter and samples its running sum.
type Estimator struct {
	cfg    Config
	filter *ccf.Filter
	out    sink.Sink
	irr    *irrTracker

	refs        uint64
	emitErrors  uint64
	agingStride uint64 // 0 when opportunistic aging is active
	reportEvery uint64
}

// New wires an estimator to a constructed filter and a sample sink.
func New(filter *ccf.Filter, out sink.Sink, cfg Config) (*Estimator, error) {
	if filter == nil {
		return nil, fmt.Errorf("estimator: filter must not be nil")
	}
	if out == nil {
		return nil, fmt.Errorf("estimator: sink must not be nil")
	}
	if cfg.ReportInterval == 0 {
		return nil, fmt.Errorf("estimator: report_interval must be at least 1")
	}
	if cfg.TimeDivisor == 0 {
		cfg.TimeDivisor = 1
	}

	reportEvery := cfg.ReportInterval / cfg.TimeDivisor
	if reportEvery == 0 {
		reportEvery = 1
	}

	e := &Estimator{
		cfg:         cfg,
		filter:      filter,
		out:         out,
		reportEvery: reportEvery,
	}

	fcfg := filter.Config()
	if !fcfg.OpportunisticAging {
		e.agingStride = fcfg.AgingStride()
	}
	if cfg.MaxIRRKeys > 0 {
		e.irr = newIRRTracker(cfg.MaxIRRKeys)
	}
	return e, nil
}

// Touch records one access of key with the given byte size.
func (e *Estimator) Touch(key []byte, size uint64) ccf.PutOutcome {
	return e.TouchScoped(key, size, 0)
}

// TouchScoped records an access attributed to a scope. The returned outcome
// is the filter's; callers that only want the estimate can ignore it.
func (e *Estimator) TouchScoped(key []byte, size, scope uint64) ccf.PutOutcome {
	ref := atomic.AddUint64(&e.refs, 1)

	if e.irr != nil {
		e.irr.observe(string(key), ref)
	}

	outcome := e.filter.PutScoped(key, size, scope)

	if e.agingStride > 0 && ref%e.agingStride == 0 {
		e.filter.Age()
		logging.Debug(nil, logging.ComponentEstimator, logging.ActionSweep, "aging sweep complete", map[string]interface{}{
			"references": ref,
		})
	}

	if ref%e.cfg.ReportInterval == 0 {
		total := e.filter.Reconcile()
		logging.Debug(nil, logging.ComponentEstimator, logging.ActionReconcile, "running sum reconciled", map[string]interface{}{
			"references": ref,
			"wss_bytes":  total,
		})
	}

	if ref%e.reportEvery == 0 {
		e.emit(ref)
	}

	return outcome
}

func (e *Estimator) emit(ref uint64) {
	s := sink.Sample{References: ref, WSSBytes: e.filter.WSS()}
	if err := e.out.Emit(s); err != nil {
		atomic.AddUint64(&e.emitErrors, 1)
		logging.Warn(nil, logging.ComponentEstimator, logging.ActionReport, "sample emission failed", map[string]interface{}{
			"references": ref,
			"error":      err.Error(),
		})
	}
}

// Flush emits a final sample for the current reference count. Called once on
// input EOF.
func (e *Estimator) Flush() {
	e.emit(atomic.LoadUint64(&e.refs))
}

// References returns the number of accesses recorded so far.
func (e *Estimator) References() uint64 {
	return atomic.LoadUint64(&e.refs)
}

// WSS returns the current working-set-size estimate in bytes.
func (e *Estimator) WSS() uint64 {
	return e.filter.WSS()
}

// ScopeWSS returns the estimate attributed to one scope.
func (e *Estimator) ScopeWSS(scope uint64) uint64 {
	return e.filter.ScopeWSS(scope)
}

// IRRHistogram returns the log2-bucketed inter-reference-recency counts, or
// nil when IRR tracking is disabled.
func (e *Estimator) IRRHistogram() []uint64 {
	if e.irr == nil {
		return nil
	}
	return e.irr.histogram()
}

// FilterStats returns a snapshot of the underlying filter's counters.
func (e *Estimator) FilterStats() ccf.Stats {
	return e.filter.Stats()
}
