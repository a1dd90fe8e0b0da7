package budget

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/trialkit/errors"
)

func newTestController(cfg Config) (*Controller, *time.Time) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	c := NewController(cfg)
	c.nowFunc = func() time.Time { return now }
	c.startTime = now
	return c, &now
}

func TestCanStart_Unbounded(t *testing.T) {
	c, _ := newTestController(Config{})
	c.Record("r1", "v1", 1e6, true)

	ok, reason := c.CanStart()
	assert.True(t, ok)
	assert.Empty(t, reason)
	assert.Nil(t, c.RemainingBudget())
	assert.Nil(t, c.EstimateRemainingRuns())
}

func TestCanStart_LimitReached(t *testing.T) {
	c, _ := newTestController(Config{Limit: Float(5)})

	c.Record("r1", "v1", 4.5, true)
	ok, _ := c.CanStart()
	assert.True(t, ok)

	c.Record("r2", "v1", 0.5, true)
	ok, reason := c.CanStart()
	assert.False(t, ok)
	assert.Contains(t, reason, "budget exhausted")
}

func TestCanStart_InsufficientForAnotherRun(t *testing.T) {
	c, _ := newTestController(Config{Limit: Float(10), PerRunLimit: Float(5)})

	c.Record("r1", "v1", 7, true)

	assert.Less(t, c.TotalSpent(), 10.0)
	ok, reason := c.CanStart()
	assert.False(t, ok)
	assert.Contains(t, reason, "insufficient budget")
	assert.Contains(t, reason, "3.0000")
	assert.Contains(t, reason, "5.0000")
}

func TestCanStart_PerRunLimitWithoutBudget(t *testing.T) {
	c, _ := newTestController(Config{PerRunLimit: Float(1)})
	c.Record("r1", "v1", 50, true)

	ok, _ := c.CanStart()
	assert.True(t, ok)
}

func TestCanStart_Property(t *testing.T) {
	costs := []float64{0.5, 1.25, 0, 2, 3.5, 0.75, 1}
	limit, perRun := 8.0, 1.5
	c, _ := newTestController(Config{Limit: Float(limit), PerRunLimit: Float(perRun)})

	var sum float64
	for i, cost := range costs {
		c.Record("r", "v", cost, true)
		sum += cost
		require.InDelta(t, sum, c.TotalSpent(), 1e-9, "after %d records", i+1)

		ok, _ := c.CanStart()
		want := !(sum >= limit || limit-sum < perRun)
		assert.Equal(t, want, ok, "after %d records (spent %.2f)", i+1, sum)
	}
}

func TestCheckRunCost(t *testing.T) {
	c, _ := newTestController(Config{Limit: Float(10), PerRunLimit: Float(2)})

	ok, _ := c.CheckRunCost(2)
	assert.True(t, ok)

	c.Record("r1", "v1", 3, true)
	ok, reason := c.CheckRunCost(3)
	assert.False(t, ok)
	assert.Contains(t, reason, "exceeds per-run limit")

	_, _, exceeded := c.Counts()
	assert.Equal(t, 1, exceeded)
	assert.Equal(t, 3.0, c.TotalSpent(), "violation must not undo the run")
}

func TestRecord_ClampsInvalidCost(t *testing.T) {
	c, _ := newTestController(Config{})
	c.Record("r1", "v1", 2, true)
	c.Record("r2", "v1", -1, false)
	c.Record("r3", "v1", math.Inf(1), false)
	c.Record("r4", "v1", math.NaN(), false)

	assert.Equal(t, 2.0, c.TotalSpent())
	completed, failed, _ := c.Counts()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 3, failed)

	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, c.SaveFile(path))
}

func TestLimits_ReturnsCopies(t *testing.T) {
	c, _ := newTestController(Config{Limit: Float(3)})
	limit, perRun := c.Limits()
	require.NotNil(t, limit)
	assert.Nil(t, perRun)

	*limit = 100
	again, _ := c.Limits()
	assert.Equal(t, 3.0, *again)
}

func TestRecord_Variations(t *testing.T) {
	c, _ := newTestController(Config{})
	c.Record("r1", "baseline", 1, true)
	c.Record("r2", "baseline", 3, false)
	c.Record("r3", "variant", 0.5, true)

	want := map[string]VariationStats{
		"baseline": {Runs: 2, TotalCost: 4, AvgCost: 2, Successes: 1, Failures: 1},
		"variant":  {Runs: 1, TotalCost: 0.5, AvgCost: 0.5, Successes: 1},
	}
	if diff := cmp.Diff(want, c.Variations()); diff != "" {
		t.Errorf("variations mismatch (-want +got):\n%s", diff)
	}
}

func TestRemainingBudget(t *testing.T) {
	c, _ := newTestController(Config{Limit: Float(3)})
	c.Record("r1", "v", 1, true)
	assert.InDelta(t, 2.0, *c.RemainingBudget(), 1e-9)

	c.Record("r2", "v", 5, true)
	assert.Equal(t, 0.0, *c.RemainingBudget())
}

func TestEstimateRemainingRuns(t *testing.T) {
	t.Run("per-run limit", func(t *testing.T) {
		c, _ := newTestController(Config{Limit: Float(10), PerRunLimit: Float(3)})
		c.Record("r1", "v", 1, true)
		require.NotNil(t, c.EstimateRemainingRuns())
		assert.Equal(t, 3, *c.EstimateRemainingRuns())
	})

	t.Run("observed average", func(t *testing.T) {
		c, _ := newTestController(Config{Limit: Float(10)})
		assert.Nil(t, c.EstimateRemainingRuns(), "no runs yet")

		c.Record("r1", "v", 2, true)
		require.NotNil(t, c.EstimateRemainingRuns())
		assert.Equal(t, 4, *c.EstimateRemainingRuns())
	})

	t.Run("zero spend", func(t *testing.T) {
		c, _ := newTestController(Config{Limit: Float(10)})
		c.Record("r1", "v", 0, true)
		assert.Nil(t, c.EstimateRemainingRuns())
	})
}

func TestSnapshotRestore(t *testing.T) {
	c, now := newTestController(Config{Limit: Float(20), PerRunLimit: Float(4)})
	c.Record("r1", "a", 1.5, true)
	*now = now.Add(time.Second)
	c.Record("r2", "b", 2.5, false)
	c.CheckRunCost(5)
	c.Finalize()

	snap := c.Snapshot()

	restored := NewController(Config{})
	restored.Restore(snap)

	if diff := cmp.Diff(snap, restored.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(c.Variations(), restored.Variations()); diff != "" {
		t.Errorf("variations not rebuilt (-want +got):\n%s", diff)
	}
	ok1, r1 := c.CanStart()
	ok2, r2 := restored.CanStart()
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, r1, r2)
}

func TestRestore_RecomputesFromRows(t *testing.T) {
	c := NewController(Config{})
	c.Restore(Snapshot{
		TotalSpent: 999, // ignored in favour of the rows
		Completed:  42,
		Rows: []RunCost{
			{RunID: "r1", VariationID: "v", Cost: 1, Success: true},
			{RunID: "r2", VariationID: "v", Cost: 2, Success: true},
		},
	})

	assert.Equal(t, 3.0, c.TotalSpent())
	completed, failed, _ := c.Counts()
	assert.Equal(t, 2, completed)
	assert.Equal(t, 0, failed)
}

func TestSummary(t *testing.T) {
	c, now := newTestController(Config{Limit: Float(10)})
	c.Record("r1", "v", 2, true)
	c.Record("r2", "v", 1, false)
	*now = now.Add(90 * time.Second)
	c.Finalize()

	s := c.Summary()
	assert.Equal(t, 3.0, s.TotalSpent)
	assert.Equal(t, 7.0, *s.RemainingBudget)
	assert.Nil(t, s.CostPerRunLimit)
	assert.Equal(t, 1, s.RunsCompleted)
	assert.Equal(t, 1, s.RunsFailed)
	assert.Equal(t, 3.0, s.AvgCostPerRun)
	assert.Equal(t, 90.0, s.DurationSeconds)
	require.NotNil(t, s.EndTime)
	assert.Len(t, s.Runs, 2)
	assert.Equal(t, 2, s.Variations["v"].Runs)
}

func TestLedgerFileRoundTrip(t *testing.T) {
	c, now := newTestController(Config{Limit: Float(10), PerRunLimit: Float(2)})
	c.Record("r1", "a", 1.25, true)
	*now = now.Add(time.Minute)
	c.Record("r2", "b", 0.5, false)
	c.CheckRunCost(3)
	c.Finalize()

	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, c.SaveFile(path))

	loaded, _ := newTestController(Config{})
	require.NoError(t, loaded.LoadFile(path))

	opts := cmpopts.EquateApproxTime(0)
	if diff := cmp.Diff(c.Snapshot(), loaded.Snapshot(), opts); diff != "" {
		t.Errorf("ledger round trip mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(c.Summary(), loaded.Summary(), opts); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()
	c := NewController(Config{})

	err := c.LoadFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("[1,2"), 0644))
	err = c.LoadFile(bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeCorruption))
}

func TestController_Concurrent(t *testing.T) {
	c := NewController(Config{Limit: Float(1000)})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.CanStart()
			c.Record("r", "v", 0.5, true)
			c.CheckRunCost(0.5)
		}()
	}
	wg.Wait()

	assert.InDelta(t, 50.0, c.TotalSpent(), 1e-9)
	assert.Len(t, c.Snapshot().Rows, 100)
}
