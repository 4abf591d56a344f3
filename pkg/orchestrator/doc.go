// Package orchestrator runs deploys and teardowns.
//
// A deploy loads and authorizes the project, takes the per-project lease,
// builds and admits the ProjectConfig, persists the deploying state and then
// runs the pipeline under a deadline:
//
//	fetch -> stage -> image (container cluster only) -> program -> stack -> up
//
// The outcome is written back as deployed or failed together with an attempt
// record. Lifecycle events go through the telemetry event publisher; the
// activity log is one of its subscribers.
package orchestrator
