// Package telemetry wires RefineDB's in-process metrics: counters for KV
// transaction outcomes and VM graph executions, using
// go.opentelemetry.io/otel's metric API over an in-memory SDK MeterProvider.
// No exporter or network endpoint is configured; per spec this module has
// no outer observability surface, only counters a host process can read
// back out of the SDK's own aggregation.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"refinedb/errs"
)

// Meters bundles the counters RefineDB increments during execution.
type Meters struct {
	provider *sdkmetric.MeterProvider

	TxnCommits      metric.Int64Counter
	TxnConflicts    metric.Int64Counter
	GraphExecutions metric.Int64Counter
	GraphThrows     metric.Int64Counter
}

// New builds a Meters backed by a fresh in-process MeterProvider.
func New() (*Meters, error) {
	provider := sdkmetric.NewMeterProvider()
	meter := provider.Meter("refinedb")

	commits, err := meter.Int64Counter("refinedb.kv.txn_commits")
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "creating txn_commits counter")
	}
	conflicts, err := meter.Int64Counter("refinedb.kv.txn_conflicts")
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "creating txn_conflicts counter")
	}
	execs, err := meter.Int64Counter("refinedb.vm.graph_executions")
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "creating graph_executions counter")
	}
	throws, err := meter.Int64Counter("refinedb.vm.graph_throws")
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "creating graph_throws counter")
	}

	return &Meters{
		provider:        provider,
		TxnCommits:      commits,
		TxnConflicts:    conflicts,
		GraphExecutions: execs,
		GraphThrows:     throws,
	}, nil
}

// Shutdown flushes and releases the underlying MeterProvider.
func (m *Meters) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
