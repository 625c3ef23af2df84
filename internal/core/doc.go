// Package core runs validations: it resolves a schema and a data source,
// streams the rows through the engine and returns the report.
//
// This package holds the orchestration independent of any transport. The
// CLI uses it, and so can tests or any other frontend.
//
// # Architecture
//
//   - Service: the entry point. [Service.Validate] performs one run;
//     [Service.CheckSchema] resolves and compiles a schema without data.
//   - RunLimiter: a semaphore bounding concurrent runs.
//   - Error mapping: [MapError] turns any failure into a coded
//     [UserMessage] for display.
//
// # Run Lifecycle
//
// A run moves through the phases pending, resolving, streaming and
// completed, or ends in failed:
//
//  1. The run waits for a limiter slot (pending)
//  2. Schema, data and the optional reference table are resolved
//     concurrently (resolving)
//  3. The engine compiles the schema and streams the rows once (streaming)
//  4. The report is enriched with a badge and recorded in metrics (completed)
//
// Phase transitions are logged with the run ID and reported to the
// request's [ProgressCallback].
//
// # Failures
//
// A schema or data source that cannot be resolved produces a report with
// status error and a Failure describing the stage, kind and code; no row
// is read. Cancellation, limiter saturation and a stream that breaks while
// rows are read produce a [*RunError] and no report.
//
// # Concurrency
//
// [Service] is safe for concurrent use. Every run owns its schema, data
// source and accumulated state; the only shared state is the catalog
// snapshot, which is read-only.
package core
