// Package sandbox runs one program inside a locked-down container.
//
// A Launcher creates a container from the evaluator image with a fixed
// Policy: no network, a read-only root filesystem, no capabilities, a
// memory and CPU cap and the workspace bind-mounted at /data. A Collector
// then attaches to it, starts it, waits for it to exit and returns its
// de-framed output. Both talk to the engine through Runtime, which the
// Docker SDK client satisfies for Docker and Podman alike.
//
// Usage:
//
//	rt, err := sandbox.NewRuntime(logger, cfg)
//	launcher := sandbox.NewLauncher(logger, rt, cfg.Sandbox.Image)
//	collector := sandbox.NewCollector(logger, rt)
//
//	inst, err := launcher.Launch(ctx, name, hostDir)
//	out, err := collector.Run(ctx, inst)
package sandbox
