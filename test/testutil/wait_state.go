package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/segpool/types"
)

// CoordinatorWaiter is the subset of Coordinator methods needed for waiting.
type CoordinatorWaiter interface {
	// WaitState waits for the coordinator to reach the expected state within the timeout.
	WaitState(expectedState types.State, timeout time.Duration) <-chan error
}

// WaitAllCoordinatorsState waits for all coordinators to reach the expected state.
//
// The first failure cancels the remaining waits and is returned.
//
// Parameters:
//   - ctx: Context for cancellation
//   - coords: Coordinators to wait on
//   - expectedState: Target state for all coordinators
//   - timeout: Maximum time to wait for each coordinator
//
// Returns:
//   - error: nil if all coordinators reached the state, the first failure otherwise
//
// Example:
//
//	err := testutil.WaitAllCoordinatorsState(ctx, []testutil.CoordinatorWaiter{c1, c2}, types.StateRunning, 10*time.Second)
//	require.NoError(t, err)
func WaitAllCoordinatorsState(
	ctx context.Context,
	coords []CoordinatorWaiter,
	expectedState types.State,
	timeout time.Duration,
) error {
	if len(coords) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(len(coords))
	for i, c := range coords {
		go func(index int, c CoordinatorWaiter) {
			defer wg.Done()

			select {
			case err := <-c.WaitState(expectedState, timeout):
				if err != nil {
					errOnce.Do(func() {
						firstErr = fmt.Errorf("coordinator[%d] failed to reach state %s: %w", index, expectedState, err)
						cancel()
					})
				}
			case <-waitCtx.Done():
			}
		}(i, c)
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}

	return ctx.Err()
}
