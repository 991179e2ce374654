package arbiter

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/bloodlink/core/model"
)

func resp(donor string, d model.Decision) model.DonorResponse {
	return model.DonorResponse{DonorID: donor, RequestID: "r1", Decision: d}
}

func TestSubmitLifecycle(t *testing.T) {
	a := New()
	require.NoError(t, a.Open("r1", 2))
	require.NoError(t, a.Admit("r1", "d1", "d2", "d3"))

	v, err := a.Submit(resp("d1", model.DecisionAccept))
	require.NoError(t, err)
	assert.Equal(t, Accepted, v.Result)
	assert.False(t, v.Fulfilled)

	v, _ = a.Submit(resp("d1", model.DecisionAccept))
	assert.Equal(t, Redundant, v.Result)

	v, err = a.Submit(resp("d1", model.DecisionDecline))
	assert.ErrorIs(t, err, ErrConflictingResponse)
	assert.Equal(t, Rejected, v.Result)

	v, _ = a.Submit(resp("d2", model.DecisionAccept))
	assert.Equal(t, Accepted, v.Result)
	assert.True(t, v.Fulfilled)
	assert.Equal(t, 2, v.FulfilledUnits)

	v, _ = a.Submit(resp("d3", model.DecisionAccept))
	assert.Equal(t, Redundant, v.Result)

	recs, err := a.Responses("r1")
	require.NoError(t, err)
	assert.Len(t, recs, 5)
}

func TestSubmitRejectsUnknown(t *testing.T) {
	a := New()
	v, err := a.Submit(resp("d1", model.DecisionAccept))
	assert.ErrorIs(t, err, ErrUnknownRequest)
	assert.Equal(t, Rejected, v.Result)

	require.NoError(t, a.Open("r1", 1))
	v, err = a.Submit(resp("stranger", model.DecisionAccept))
	assert.ErrorIs(t, err, ErrNotNotified)
	assert.Equal(t, Rejected, v.Result)
	snap, _ := a.Snapshot("r1")
	assert.Empty(t, snap.Accepted)
}

func TestAcceptAfterCloseIsRedundant(t *testing.T) {
	a := New()
	require.NoError(t, a.Open("r1", 3))
	require.NoError(t, a.Admit("r1", "d1"))
	require.NoError(t, a.Close("r1"))
	v, err := a.Submit(resp("d1", model.DecisionAccept))
	require.NoError(t, err)
	assert.Equal(t, Redundant, v.Result)
}

func TestLateAcceptAfterTimeoutIsHonored(t *testing.T) {
	a := New()
	require.NoError(t, a.Open("r1", 1))
	require.NoError(t, a.Admit("r1", "d1"))
	v, _ := a.Submit(resp("d1", model.DecisionTimeout))
	assert.Equal(t, Accepted, v.Result)
	v, _ = a.Submit(resp("d1", model.DecisionAccept))
	assert.Equal(t, Accepted, v.Result)
	assert.True(t, v.Fulfilled)
	v, _ = a.Submit(resp("d1", model.DecisionTimeout))
	assert.Equal(t, Redundant, v.Result)
}

func TestOpenTwice(t *testing.T) {
	a := New()
	require.NoError(t, a.Open("r1", 1))
	assert.ErrorIs(t, a.Open("r1", 1), ErrAlreadyOpen)
	assert.Error(t, a.Open("r2", 0))
	a.Forget("r1")
	_, err := a.Snapshot("r1")
	assert.True(t, errors.Is(err, ErrUnknownRequest))
}

func TestConcurrentAcceptsNeverOvercommit(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 42))
	for round := 0; round < 50; round++ {
		donors := 1 + rng.IntN(40)
		units := 1 + rng.IntN(10)
		a := New()
		require.NoError(t, a.Open("r1", units))
		ids := make([]string, donors)
		for i := range ids {
			ids[i] = fmt.Sprintf("d%d", i)
		}
		require.NoError(t, a.Admit("r1", ids...))

		// Each donor accepts one to three times, in random order.
		var submissions []string
		for _, id := range ids {
			for n := 1 + rng.IntN(3); n > 0; n-- {
				submissions = append(submissions, id)
			}
		}
		rng.Shuffle(len(submissions), func(i, j int) {
			submissions[i], submissions[j] = submissions[j], submissions[i]
		})
		closeAt := -1
		if rng.IntN(3) == 0 {
			closeAt = rng.IntN(len(submissions))
		}

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted = map[string]int{}
		)
		for i, id := range submissions {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				if i == closeAt {
					_ = a.Close("r1")
				}
				v, err := a.Submit(resp(id, model.DecisionAccept))
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if v.Result == Accepted {
					mu.Lock()
					accepted[id]++
					mu.Unlock()
				}
			}(i, id)
		}
		wg.Wait()

		total := 0
		for id, n := range accepted {
			if n != 1 {
				t.Fatalf("donor %s accepted %d times", id, n)
			}
			total += n
		}
		if total > units {
			t.Fatalf("round %d: %d accepts for %d units", round, total, units)
		}
		if closeAt < 0 && total != min(units, donors) {
			t.Fatalf("round %d: expected %d accepts got %d", round, min(units, donors), total)
		}
		snap, err := a.Snapshot("r1")
		require.NoError(t, err)
		assert.Len(t, snap.Accepted, total)
	}
}
