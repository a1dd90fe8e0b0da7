package budget

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Config sets the spend ceilings. Nil means unbounded.
type Config struct {
	Limit       *float64
	PerRunLimit *float64
}

// Float returns a pointer to v, for optional limits.
func Float(v float64) *float64 {
	return &v
}

// RunCost is one immutable ledger row.
type RunCost struct {
	RunID       string    `json:"run_id"`
	VariationID string    `json:"variation_id"`
	Cost        float64   `json:"cost"`
	Success     bool      `json:"success"`
	Timestamp   time.Time `json:"timestamp"`
}

// VariationStats aggregates the rows of one variation.
type VariationStats struct {
	Runs      int     `json:"runs"`
	TotalCost float64 `json:"total_cost"`
	AvgCost   float64 `json:"avg_cost"`
	Successes int     `json:"successes"`
	Failures  int     `json:"failures"`
}

func (v *VariationStats) add(row RunCost) {
	v.Runs++
	v.TotalCost += row.Cost
	v.AvgCost = v.TotalCost / float64(v.Runs)
	if row.Success {
		v.Successes++
	} else {
		v.Failures++
	}
}

// Controller is the cost admission controller and ledger. It is safe for
// concurrent use.
type Controller struct {
	mu sync.Mutex

	limit       *float64
	perRunLimit *float64

	totalSpent float64
	rows       []RunCost
	variations map[string]*VariationStats
	completed  int
	failed     int
	exceeded   int

	startTime time.Time
	endTime   *time.Time

	nowFunc func() time.Time // for testing
}

// NewController creates an empty ledger starting now.
func NewController(cfg Config) *Controller {
	c := &Controller{
		variations: make(map[string]*VariationStats),
		nowFunc:    time.Now,
	}
	c.SetLimits(cfg.Limit, cfg.PerRunLimit)
	c.startTime = c.nowFunc()
	return c
}

// SetLimits replaces the spend ceilings.
func (c *Controller) SetLimits(limit, perRunLimit *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limit = copyFloat(limit)
	c.perRunLimit = copyFloat(perRunLimit)
}

// Limits returns copies of the spend ceilings. Nil means unbounded.
func (c *Controller) Limits() (limit, perRunLimit *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyFloat(c.limit), copyFloat(c.perRunLimit)
}

// CanStart reports whether another run may be admitted. The reason is
// empty when admission is allowed.
func (c *Controller) CanStart() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limit == nil {
		return true, ""
	}
	if c.totalSpent >= *c.limit {
		return false, fmt.Sprintf("budget exhausted: spent $%.4f of $%.4f", c.totalSpent, *c.limit)
	}
	if c.perRunLimit != nil {
		remaining := *c.limit - c.totalSpent
		if remaining < *c.perRunLimit {
			return false, fmt.Sprintf("insufficient budget for another run: remaining $%.4f < per-run limit $%.4f",
				remaining, *c.perRunLimit)
		}
	}
	return true, ""
}

// CheckRunCost compares an observed run cost with the per-run limit. A
// violation is counted but never undoes the recorded run.
func (c *Controller) CheckRunCost(observed float64) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.perRunLimit == nil || observed <= *c.perRunLimit {
		return true, ""
	}
	c.exceeded++
	return false, fmt.Sprintf("run cost $%.4f exceeds per-run limit $%.4f", observed, *c.perRunLimit)
}

// Record appends a ledger row. Negative and non-finite costs are recorded
// as zero.
func (c *Controller) Record(runID, variationID string, cost float64, success bool) {
	if cost < 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
		cost = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(RunCost{
		RunID:       runID,
		VariationID: variationID,
		Cost:        cost,
		Success:     success,
		Timestamp:   c.nowFunc(),
	})
}

func (c *Controller) appendLocked(row RunCost) {
	c.rows = append(c.rows, row)
	c.totalSpent += row.Cost
	v, ok := c.variations[row.VariationID]
	if !ok {
		v = &VariationStats{}
		c.variations[row.VariationID] = v
	}
	v.add(row)
	if row.Success {
		c.completed++
	} else {
		c.failed++
	}
}

// TotalSpent returns the sum of all recorded costs.
func (c *Controller) TotalSpent() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSpent
}

// RemainingBudget returns max(0, limit - spent), or nil when unbounded.
func (c *Controller) RemainingBudget() *float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked()
}

func (c *Controller) remainingLocked() *float64 {
	if c.limit == nil {
		return nil
	}
	return Float(math.Max(0, *c.limit-c.totalSpent))
}

// EstimateRemainingRuns estimates how many more runs the budget covers.
// It divides by the per-run limit when set, otherwise by the observed
// average cost of completed runs. Nil when no estimate is possible.
func (c *Controller) EstimateRemainingRuns() *int {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.remainingLocked()
	if remaining == nil {
		return nil
	}
	var perRun float64
	switch {
	case c.perRunLimit != nil && *c.perRunLimit > 0:
		perRun = *c.perRunLimit
	case c.completed > 0 && c.totalSpent > 0:
		perRun = c.totalSpent / float64(c.completed)
	default:
		return nil
	}
	n := int(*remaining / perRun)
	return &n
}

// Variations returns a copy of the per-variation aggregates.
func (c *Controller) Variations() map[string]VariationStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]VariationStats, len(c.variations))
	for id, v := range c.variations {
		out[id] = *v
	}
	return out
}

// Counts returns the completed, failed and budget-exceeded counters.
func (c *Controller) Counts() (completed, failed, exceeded int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed, c.failed, c.exceeded
}

// Finalize stamps the end time.
func (c *Controller) Finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	end := c.nowFunc()
	c.endTime = &end
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return Float(*p)
}
