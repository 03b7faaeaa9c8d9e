// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server. All instruments are created against the global
// meter and tracer providers so the hosting process decides where telemetry
// goes.
package instrumentation
