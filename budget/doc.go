// Package budget gates run admission against spend ceilings and keeps the
// ledger of what each run actually cost.
//
// A Controller answers one question before every run: may another run
// start? With a BudgetLimit set, admission is denied once TotalSpent
// reaches the limit. With a PerRunLimit also set, admission is denied as
// soon as the remaining budget could not cover one more run at that
// ceiling, even if some money is left.
//
//	ctrl := budget.NewController(budget.Config{Limit: budget.Float(10), PerRunLimit: budget.Float(0.5)})
//	if ok, reason := ctrl.CanStart(); !ok {
//	    return errors.BudgetExhausted(reason)
//	}
//	cost := run()
//	ctrl.Record(runID, variationID, cost, true)
//	ctrl.CheckRunCost(cost)
//
// Denial is advisory: the controller never cancels anything, callers
// enforce it. Recorded rows are immutable, so total spend only grows.
//
// The ledger can be snapshotted and restored, and saved to or loaded from a
// JSON summary file. Restoring rebuilds per-variation aggregates by
// replaying the rows.
package budget
