// Package engine holds the domain model of the deployment engine: projects and
// their settings, the deployment state machine, the per-call ProjectConfig with
// its provider variants, the classified error taxonomy and the interfaces of the
// collaborators the orchestrator depends on.
//
// Stack identity is derived from the project name alone:
//
//	engine.StackID("demo-app") == "project-stack-demo-app"
//
// Errors carry a class for retry decisions and a stable code for callers:
//
//	if errors.Is(err, engine.ErrConflict) {
//		// another deploy or teardown holds the project
//	}
package engine
