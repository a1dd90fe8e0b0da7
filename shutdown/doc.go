// Package shutdown coordinates an orderly stop of a trial batch.
//
// Components register handlers against numbered phases. On shutdown the
// phases run in ascending order; handlers sharing a phase run
// concurrently and the next phase starts only once they have all
// returned. A batch process typically registers:
//
//	PhaseStopAdmission (10)  cancel the batch context so no new runs start
//	PhaseDrain         (20)  wait for in-flight runs to report
//	PhasePersist       (30)  save the cost ledger, flush and close the cache
//
// Example:
//
//	coord := shutdown.NewCoordinator(shutdown.Config{Timeout: 30 * time.Second})
//	coord.RegisterFunc("admission", shutdown.PhaseStopAdmission, func(ctx context.Context) error {
//	    cancel()
//	    return nil
//	})
//	coord.RegisterFunc("ledger", shutdown.PhasePersist, func(ctx context.Context) error {
//	    return controller.SaveFile(path)
//	})
//
//	ctx, stop := coord.Watch(context.Background())
//	defer stop()
//
// Watch returns a context that is canceled on SIGINT or SIGTERM and runs
// the shutdown sequence when that happens.
package shutdown
