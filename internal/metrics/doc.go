/*
Package metrics provides the Prometheus instruments for certflow.

A single Collector holds every instrument, namespaced under "certflow" by
default. Components receive the collector through their WithMetrics option
and record unconditionally; a nil *Collector is a valid no-op, so wiring
metrics stays a deployment decision rather than a code path.

Instrument groups:

  - workflow executions: totals by status, duration histogram, active gauge
  - steps: totals by outcome, duration histogram, retry counter
  - bus: published/delivered/failed delivery counters, history size gauge
  - registry: registered agents gauge
  - HTTP surface: request totals, latency and size histograms, ws clients
*/
package metrics
