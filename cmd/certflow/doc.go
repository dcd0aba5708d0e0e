/*
Package main is the certflow server binary.

Subcommands: serve starts the HTTP API over an engine wired from the YAML
config, demo runs the built-in halal-certification workflow once against a
sample application and prints the record, version and health do what their
names say.

serve composes the pieces end to end: config load and validation, zap
logger per the log section, OpenTelemetry providers, a Prometheus registry
serving /metrics, the engine built through the root facade, the demo
certification workforce, and the middleware chain in front of the REST
routes. Shutdown is signal driven and closes the server before the engine.

Version, BuildTime and GitCommit are injected with -ldflags.
*/
package main
