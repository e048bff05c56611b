package orchestrator

import (
	"context"
	"time"
)

// monitorHealth probes one instance until its context is canceled. The
// first passing probe marks the instance healthy. Failures inside the
// start period never count against the retry budget; after it, retries
// consecutive failures mark the instance unhealthy. An instance that was
// never healthy when the budget runs out records a
// HealthCheckTimeoutError, which is what aborts dependents gated on
// service_healthy.
func (o *Orchestrator) monitorHealth(ctx context.Context, run *serviceRun, ir *instanceRun) {
	hc := run.hc
	started := time.Now()
	failures := 0
	everHealthy := false
	var lastOutput string

	for {
		probeCtx, cancel := context.WithTimeout(ctx, hc.Timeout)
		res, err := o.rt.Probe(probeCtx, ir.id, hc.Test)
		cancel()
		if ctx.Err() != nil {
			return
		}

		switch {
		case err == nil && res.OK():
			failures = 0
			everHealthy = true
			o.noteInstanceHealthy(run, ir)
		default:
			if err != nil {
				lastOutput = err.Error()
			} else {
				lastOutput = res.Output
			}
			o.log.Debug().Str("instance", ir.name).Str("output", lastOutput).Msg("probe failed")

			if time.Since(started) >= hc.StartPeriod {
				failures++
				if failures >= hc.Retries {
					var gateErr error
					if !everHealthy {
						gateErr = &HealthCheckTimeoutError{
							Service:    run.svc.Name,
							Retries:    hc.Retries,
							LastOutput: lastOutput,
						}
					}
					o.noteInstanceUnhealthy(run, ir, gateErr)
					if !everHealthy {
						return
					}
					failures = 0
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(hc.Interval):
		}
	}
}
