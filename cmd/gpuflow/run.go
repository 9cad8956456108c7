package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gogpu/gpuflow"
	"github.com/gogpu/gpuflow/internal/scenario"
)

// withRetries calls attempt until it succeeds, fails with anything but a
// device loss, or has been retried retries times.
func withRetries(log *slog.Logger, retries int, attempt func(n int) error) error {
	for n := 0; ; n++ {
		err := attempt(n)
		if err == nil || !errors.Is(err, gpuflow.ErrDeviceLost) || n >= retries {
			return err
		}
		log.Warn("gpuflow: device lost, reinitializing", "attempt", n+1, "retries", retries, "err", err)
	}
}

// withRunner opens a fresh DeviceContext per attempt and runs fn on it.
func (a *app) withRunner(ctx context.Context, fn func(*scenario.Runner) error) error {
	return withRetries(a.log, a.cfg.Retries, func(int) error {
		dc, err := gpuflow.Initialize(a.cfg.GPUConfig())
		if err != nil {
			return err
		}
		defer dc.Close()

		info := dc.Info()
		a.log.Info("gpuflow: device ready", "driver", dc.Driver(), "adapter", info.Name, "family", dc.QueueFamily().Index)
		return fn(scenario.NewRunner(dc, a.cfg.SubmitterConfig(), a.cfg.Submit.Timeout))
	})
}
