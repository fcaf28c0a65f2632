// Package evaluation runs one untrusted Python program end to end.
//
// The Evaluator validates a Request, stages its inputs in a workspace,
// launches a sandbox against that workspace, collects and decodes the
// sandbox output and always removes the workspace afterwards.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/safeeval/sandbox"
	"github.com/isdmx/safeeval/workspace"
)

// Observer is told about every finished evaluation
type Observer interface {
	EvaluationFinished(outcome string, d time.Duration)
}

// Evaluator sequences workspace, sandbox and decoding for one request
type Evaluator struct {
	logger     *zap.Logger
	workspaces *workspace.Manager
	launcher   *sandbox.Launcher
	collector  *sandbox.Collector
	timeout    time.Duration
	observer   Observer
}

// Option defines a functional option for Evaluator
type Option func(*Evaluator)

// WithObserver sets the Observer for Evaluator
func WithObserver(o Observer) Option {
	return func(e *Evaluator) {
		e.observer = o
	}
}

// New creates an Evaluator. timeout bounds the wall-clock time of one sandbox run.
func New(logger *zap.Logger, workspaces *workspace.Manager, launcher *sandbox.Launcher,
	collector *sandbox.Collector, timeout time.Duration, opts ...Option) *Evaluator {
	e := &Evaluator{
		logger:     logger,
		workspaces: workspaces,
		launcher:   launcher,
		collector:  collector,
		timeout:    timeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Evaluate runs req and returns the sandbox's response.
//
// A *ValidationError is returned for malformed requests and a
// *workspace.IOError when the inputs cannot be staged. Every sandbox
// failure is folded into the response as a "Container error" instead.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (resp Response, err error) {
	start := time.Now()
	defer func() {
		e.finished(resp, err, time.Since(start))
	}()

	if err := req.Validate(); err != nil {
		return Response{}, err
	}

	ws, err := e.workspaces.Create(req.Code, req.Scope)
	if err != nil {
		return Response{}, fmt.Errorf("failed to create workspace: %w", err)
	}
	defer e.workspaces.Destroy(ws)

	out, err := e.run(ctx, ws)
	if err != nil {
		fields := []zap.Field{zap.String("workspace", ws.ID), zap.Error(err)}
		var launchErr *sandbox.LaunchError
		if errors.As(err, &launchErr) {
			fields = append(fields, zap.String("op", launchErr.Op), zap.String("container", launchErr.Container))
		}
		e.logger.Warn("sandbox run failed", fields...)
		return containerError(err), nil
	}

	resp = Decode(out.Text)

	e.logger.Debug("sandbox output decoded",
		zap.String("workspace", ws.ID),
		zap.Int64("exit_code", out.ExitCode),
		zap.String("outcome", string(resp.Outcome())))

	return resp, nil
}

func (e *Evaluator) run(ctx context.Context, ws *workspace.Workspace) (sandbox.Output, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	inst, err := e.launcher.Launch(ctx, workspace.DirPrefix+ws.ID, ws.Path)
	if err != nil {
		return sandbox.Output{}, err
	}

	return e.collector.Run(ctx, inst)
}

func (e *Evaluator) finished(resp Response, err error, d time.Duration) {
	outcome := OutcomeOf(resp, err)

	fields := []zap.Field{
		zap.String("outcome", string(outcome)),
		zap.Duration("duration", d),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	switch outcome {
	case OutcomeServerError:
		e.logger.Error("evaluation failed", fields...)
	case OutcomeValidationError:
		e.logger.Debug("evaluation rejected", fields...)
	default:
		e.logger.Info("evaluation finished", fields...)
	}

	if e.observer != nil {
		e.observer.EvaluationFinished(string(outcome), d)
	}
}
