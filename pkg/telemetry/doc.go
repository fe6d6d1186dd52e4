// Package telemetry wires structured logging (zerolog), tracing
// (OpenTelemetry) and metrics (Prometheus) for dvctl.
//
// Initialize telemetry once at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Logging.Level = "debug"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// The service client and the workflow runner take the pieces they need:
//
//	c := client.New(transport, engine,
//	    client.WithLogger(tel.Logger),
//	    client.WithMetrics(tel.Metrics),
//	    client.WithTracer(tel.Tracer))
//
// Both *Metrics and *Tracer are safe to use when nil or disabled, so tests
// and library callers can leave them out.
//
// # Metrics
//
// When metrics are enabled the following series are exported under the
// configured namespace:
//
//   - client_calls_total{operation,entity}
//   - client_call_duration_seconds{operation}
//   - client_errors_total{operation,kind}
//   - runs_started_total{definition}
//   - runs_completed_total{definition,state}
//   - run_duration_seconds{definition,state}
//   - items_transitioned_total{definition,outcome}
//   - policy_denials_total{definition}
//   - optionset_drift_total{entity,attribute}
//   - active_runs
package telemetry
