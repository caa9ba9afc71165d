// Package simulation drives a DMC engine through a planned number of
// iterations and fans each iteration out to observers.
//
// The engine itself is not cancellable inside an iteration; the runner
// checks its context between iterations. Population collapse ends a run
// early but is reported in the Result rather than as an error, since it is
// a legitimate (if terminal) outcome of the simulation.
//
// Usage:
//
//	eng, _ := dmc.New(dmc.DefaultParams(), potential.Harmonic{})
//	est, _ := simulation.NewEstimators(-5, 5, 200, 0)
//	r := simulation.NewRunner(logger, nil, est)
//	res, err := r.Run(ctx, eng, simulation.Plan{Iterations: 2000, Warmup: 500})
package simulation
