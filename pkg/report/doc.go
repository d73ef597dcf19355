// Package report publishes the result of every billing run.
//
// LogSink writes a one-line summary per run plus a line per errored occurrence.
// S3Sink archives the full result as JSON under
// <prefix>/<yyyy>/<mm>/<dd>/<run id>.json so finance can reconcile a day's
// charges against the gateway. Multi publishes to several sinks.
package report
