// Package dispatch runs tasks with bounded concurrency behind a shared
// rate-limit gate.
//
// Each task moves through Queued → Admitted → Running and ends Succeeded or
// Failed. A task that never gets a slot or clearance before the context
// ends finishes Canceled without running its body. Once running, a body is
// never interrupted by cancellation of the dispatch context: it receives a
// context detached from the caller's cancellation and runs to completion.
//
//	d := dispatch.New[string](dispatch.Config{MaxParallel: 4, Gate: coord})
//	results := d.RunBatch(ctx, tasks, func(r dispatch.Result[string]) {
//	    fmt.Println(r.Index, r.Status)
//	})
//
// Failures are isolated: one task's error never aborts its siblings, and
// results come back in submission order regardless of completion order.
// Throttling errors are reported to the gate so every worker backs off.
// The dispatcher never retries on its own.
package dispatch
