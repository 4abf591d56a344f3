// Package telemetry bundles the observability of froyo-deploy: zerolog
// loggers, Prometheus deploy metrics, OpenTelemetry spans and an in-process
// lifecycle event publisher.
//
// Initialize it once at startup and hand the pieces to the orchestrator:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Each deploy phase is wrapped in a span and a phase duration sample:
//
//	op := tel.StartPhase(ctx, "fetch", telemetry.AttrProject.String(name))
//	err := fetch(op.Ctx)
//	op.End(err)
//
// Lifecycle events (deploy started, succeeded, failed, teardown) go through
// the EventPublisher. The activity log is one subscriber; with EnableAsync
// the publisher never blocks the deploy path.
package telemetry
