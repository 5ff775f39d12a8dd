// Package task declares named build tasks and runs them in dependency order.
//
// A Graph holds tasks keyed by name. Each task lists the tasks it requires
// and an optional action. Tasks without an action are aggregation points:
//
//	g := task.NewGraph(task.WithLogger(logger))
//	_ = g.Register("eslint", nil, lint)
//	_ = g.Register("flake8", nil, flake8)
//	_ = g.Register("lint", []string{"eslint", "flake8"}, nil)
//
//	if err := g.Validate(); err != nil {
//	    // unknown prerequisite or cycle, e.g. "cycle: a -> b -> a"
//	}
//
//	report, err := g.Invoke(ctx, "lint", task.FailStop)
//
// # Invocation
//
// Invoke runs the prerequisite closure of a task. Every task in the closure
// runs once per invocation, on its own goroutine, as soon as all of its
// prerequisites have finished. Independent prerequisites therefore run
// concurrently.
//
// Two failure modes exist:
//
//   - FailStop: tasks whose prerequisites failed are skipped and Invoke
//     returns an *InvocationError.
//   - LogAndContinue: failures are handed to the failure hook, dependents
//     still run and Invoke returns nil.
//
// Concurrent invocations of the same task are independent. The graph holds
// no lock while actions run.
package task
