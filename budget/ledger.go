package budget

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/renameio/v2"

	"github.com/vinayprograms/trialkit/errors"
)

// Snapshot is the full ledger state.
type Snapshot struct {
	TotalSpent  float64
	BudgetLimit *float64
	PerRunLimit *float64
	Rows        []RunCost
	Completed   int
	Failed      int
	Exceeded    int
	StartTime   time.Time
	EndTime     *time.Time
}

// Snapshot captures the ledger.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows := make([]RunCost, len(c.rows))
	copy(rows, c.rows)
	s := Snapshot{
		TotalSpent:  c.totalSpent,
		BudgetLimit: copyFloat(c.limit),
		PerRunLimit: copyFloat(c.perRunLimit),
		Rows:        rows,
		Completed:   c.completed,
		Failed:      c.failed,
		Exceeded:    c.exceeded,
		StartTime:   c.startTime,
	}
	if c.endTime != nil {
		end := *c.endTime
		s.EndTime = &end
	}
	return s
}

// Restore replaces the ledger with s. Totals, counters and per-variation
// aggregates are rebuilt by replaying the rows; only the exceeded counter
// and the timestamps are taken from s as-is.
func (c *Controller) Restore(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.limit = copyFloat(s.BudgetLimit)
	c.perRunLimit = copyFloat(s.PerRunLimit)
	c.totalSpent = 0
	c.rows = nil
	c.variations = make(map[string]*VariationStats)
	c.completed = 0
	c.failed = 0
	for _, row := range s.Rows {
		c.appendLocked(row)
	}
	c.exceeded = s.Exceeded
	if !s.StartTime.IsZero() {
		c.startTime = s.StartTime
	}
	c.endTime = nil
	if s.EndTime != nil {
		end := *s.EndTime
		c.endTime = &end
	}
}

// Summary is the ledger file document.
type Summary struct {
	TotalSpent         float64                   `json:"total_spent"`
	BudgetLimit        *float64                  `json:"budget_limit"`
	CostPerRunLimit    *float64                  `json:"cost_per_run_limit"`
	RemainingBudget    *float64                  `json:"remaining_budget"`
	RunsCompleted      int                       `json:"runs_completed"`
	RunsFailed         int                       `json:"runs_failed"`
	RunsBudgetExceeded int                       `json:"runs_budget_exceeded"`
	AvgCostPerRun      float64                   `json:"avg_cost_per_run"`
	DurationSeconds    float64                   `json:"duration_seconds"`
	StartTime          time.Time                 `json:"start_time"`
	EndTime            *time.Time                `json:"end_time"`
	Runs               []RunCost                 `json:"runs"`
	Variations         map[string]VariationStats `json:"variations"`
}

// Summary derives the ledger file document. The duration runs to the end
// time, or to now when the ledger has not been finalized.
func (c *Controller) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	runs := make([]RunCost, len(c.rows))
	copy(runs, c.rows)
	variations := make(map[string]VariationStats, len(c.variations))
	for id, v := range c.variations {
		variations[id] = *v
	}

	end := c.nowFunc()
	var endPtr *time.Time
	if c.endTime != nil {
		end = *c.endTime
		e := end
		endPtr = &e
	}

	s := Summary{
		TotalSpent:         c.totalSpent,
		BudgetLimit:        copyFloat(c.limit),
		CostPerRunLimit:    copyFloat(c.perRunLimit),
		RemainingBudget:    c.remainingLocked(),
		RunsCompleted:      c.completed,
		RunsFailed:         c.failed,
		RunsBudgetExceeded: c.exceeded,
		DurationSeconds:    end.Sub(c.startTime).Seconds(),
		StartTime:          c.startTime,
		EndTime:            endPtr,
		Runs:               runs,
		Variations:         variations,
	}
	if c.completed > 0 {
		s.AvgCostPerRun = c.totalSpent / float64(c.completed)
	}
	return s
}

// Snapshot converts a ledger document back into a restorable snapshot.
func (s Summary) Snapshot() Snapshot {
	rows := make([]RunCost, len(s.Runs))
	copy(rows, s.Runs)
	return Snapshot{
		TotalSpent:  s.TotalSpent,
		BudgetLimit: copyFloat(s.BudgetLimit),
		PerRunLimit: copyFloat(s.CostPerRunLimit),
		Rows:        rows,
		Completed:   s.RunsCompleted,
		Failed:      s.RunsFailed,
		Exceeded:    s.RunsBudgetExceeded,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
	}
}

// SaveFile writes the summary document to path atomically.
func (c *Controller) SaveFile(path string) error {
	data, err := json.MarshalIndent(c.Summary(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode ledger")
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "write ledger", errors.WithMetadata("path", path))
	}
	return nil
}

// LoadFile restores the ledger from a summary document at path.
func (c *Controller) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read ledger", errors.WithMetadata("path", path))
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeCorruption, "decode ledger",
			errors.WithMetadata("path", path))
	}
	c.Restore(s.Snapshot())
	return nil
}
