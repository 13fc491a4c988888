package task

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/arloliu/segpool/internal/future"
	"github.com/arloliu/segpool/internal/logging"
	"github.com/arloliu/segpool/internal/metrics"
	"github.com/arloliu/segpool/types"
)

const (
	// DefaultAbortTimeout bounds how long a task waits for a work package to stop.
	DefaultAbortTimeout = 10 * time.Second

	// DefaultReleaseTimeout bounds a claim release made after the task's
	// context may already be cancelled.
	DefaultReleaseTimeout = 5 * time.Second
)

// Package is the part of a work package a task interacts with.
type Package interface {
	Segment() types.Segment
	Abort(cause error) *future.Future[error]
}

// Registry is the coordinator's segment registry as seen by tasks.
//
// The dispatcher only calls it from the goroutine running Run, which must be
// the goroutine that owns the registry.
type Registry interface {
	// Lookup returns the live work package of a segment.
	Lookup(segmentID int) (Package, bool)

	// Remove drops a segment from the registry after its package stopped.
	Remove(segmentID int)

	// Block keeps a segment out of the claim loop until the given time.
	Block(segmentID int, until time.Time)
}

// Dispatcher executes tasks for one processor.
type Dispatcher struct {
	Processor string
	Store     types.TokenStore

	// Registry is nil when tasks run without a coordinator.
	Registry Registry

	AbortTimeout time.Duration
	Logger       types.Logger
	Metrics      types.MetricsCollector
	Clock        func() time.Time
}

// Abort causes handed to work packages stopped by a task.
var (
	errSplitAborted   = errors.New("segment split requested")
	errMergeAborted   = errors.New("segment merge requested")
	errReleaseAborted = errors.New("segment release requested")
)

// Run executes t and resolves its Result future.
//
// Run never panics out; a panicking task resolves its future with an error.
func (d *Dispatcher) Run(ctx context.Context, t Task) {
	start := d.now()
	log := d.logger()

	var (
		ok  bool
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s panicked: %v", t.Description(), r)
			}
		}()

		switch t.Kind {
		case KindSplit:
			ok, err = d.split(ctx, t.SegmentID)
		case KindMerge:
			ok, err = d.merge(ctx, t.SegmentID)
		case KindRelease:
			ok, err = d.release(ctx, t.SegmentID, t.Until)
		default:
			err = fmt.Errorf("unknown task kind %d", t.Kind)
		}
	}()

	d.collector().RecordTask(t.Kind.String(), err == nil, d.now().Sub(start).Seconds())
	if err != nil {
		log.Warn("task failed", "task", t.Description(), "processor", d.Processor, "error", err)
	} else {
		log.Info("task completed", "task", t.Description(), "processor", d.Processor, "changed", ok)
	}

	if t.Result != nil {
		t.Result.Complete(ok, err)
	}
}

// split follows a fixed order: claim, create the new child entry, rewrite
// the original token if needed, then release. A crash before the child entry
// exists leaves the original untouched.
func (d *Dispatcher) split(ctx context.Context, segmentID int) (bool, error) {
	seg, err := d.stopOrCompute(ctx, segmentID, errSplitAborted)
	if err != nil {
		return false, err
	}

	token, err := d.Store.FetchToken(ctx, d.Processor, segmentID)
	if err != nil {
		return false, fmt.Errorf("claim segment %d for split: %w", segmentID, err)
	}

	status := types.TrackerStatus{Segment: seg, Token: token}
	keep, created, err := status.Split()
	if err != nil {
		d.releaseQuietly(ctx, segmentID)
		return false, fmt.Errorf("split segment %s: %w", seg, err)
	}

	if err := d.Store.InitializeSegment(ctx, created.Token, d.Processor, created.Segment.ID); err != nil {
		d.releaseQuietly(ctx, segmentID)
		return false, fmt.Errorf("initialize segment %d: %w", created.Segment.ID, err)
	}

	if !types.TokensEqual(keep.Token, token) {
		if err := d.Store.StoreToken(ctx, keep.Token, d.Processor, segmentID); err != nil {
			d.releaseQuietly(ctx, segmentID)
			return false, fmt.Errorf("store token of segment %d: %w", segmentID, err)
		}
	}

	if err := d.releaseClaim(ctx, segmentID); err != nil {
		return false, fmt.Errorf("release segment %d: %w", segmentID, err)
	}

	d.logger().Info("segment split",
		"processor", d.Processor, "segment", seg.String(),
		"children", []string{keep.Segment.String(), created.Segment.String()})

	return true, nil
}

// merge stores the combined token under the lower id before deleting the
// upper entry, so a crash in between never loses progress of either half.
func (d *Dispatcher) merge(ctx context.Context, segmentID int) (bool, error) {
	ids, err := d.Store.FetchSegments(ctx, d.Processor)
	if err != nil {
		return false, fmt.Errorf("fetch segments: %w", err)
	}
	if !slices.Contains(ids, segmentID) {
		return false, fmt.Errorf("merge segment %d: %w", segmentID, types.ErrSegmentNotFound)
	}

	seg := types.ComputeSegment(segmentID, ids...)
	if seg.Mask == 0 {
		return false, nil
	}
	siblingID := seg.MergeableSegmentID()
	if !slices.Contains(ids, siblingID) {
		return false, nil
	}
	sibling := types.ComputeSegment(siblingID, ids...)
	if !seg.IsMergeableWith(sibling) {
		return false, nil
	}

	lower, upper := seg, sibling
	if upper.ID < lower.ID {
		lower, upper = upper, lower
	}

	if err := d.stopPackage(ctx, lower.ID, errMergeAborted); err != nil {
		return false, err
	}
	if err := d.stopPackage(ctx, upper.ID, errMergeAborted); err != nil {
		return false, err
	}

	lowerToken, err := d.Store.FetchToken(ctx, d.Processor, lower.ID)
	if err != nil {
		return false, fmt.Errorf("claim segment %d for merge: %w", lower.ID, err)
	}
	upperToken, err := d.Store.FetchToken(ctx, d.Processor, upper.ID)
	if err != nil {
		d.releaseQuietly(ctx, lower.ID)
		return false, fmt.Errorf("claim segment %d for merge: %w", upper.ID, err)
	}

	merged := types.Merged(lowerToken, upperToken)
	if err := d.Store.StoreToken(ctx, merged, d.Processor, lower.ID); err != nil {
		d.releaseQuietly(ctx, lower.ID)
		d.releaseQuietly(ctx, upper.ID)

		return false, fmt.Errorf("store merged token: %w", err)
	}
	if err := d.Store.DeleteToken(ctx, d.Processor, upper.ID); err != nil {
		d.releaseQuietly(ctx, lower.ID)
		d.releaseQuietly(ctx, upper.ID)

		return false, fmt.Errorf("delete segment %d: %w", upper.ID, err)
	}
	if err := d.releaseClaim(ctx, lower.ID); err != nil {
		return false, fmt.Errorf("release segment %d: %w", lower.ID, err)
	}

	d.logger().Info("segments merged",
		"processor", d.Processor, "lower", lower.String(), "upper", upper.String(), "token", merged)

	return true, nil
}

func (d *Dispatcher) release(ctx context.Context, segmentID int, until time.Time) (bool, error) {
	if d.Registry == nil {
		if err := d.Store.ReleaseClaim(ctx, d.Processor, segmentID); err != nil {
			return false, fmt.Errorf("release segment %d: %w", segmentID, err)
		}

		return true, nil
	}

	d.Registry.Block(segmentID, until)
	if err := d.stopPackage(ctx, segmentID, errReleaseAborted); err != nil {
		return false, err
	}

	return true, nil
}

// stopOrCompute aborts the live package of segmentID and returns its
// segment, or computes the segment from the persisted layout.
func (d *Dispatcher) stopOrCompute(ctx context.Context, segmentID int, cause error) (types.Segment, error) {
	if d.Registry != nil {
		if pkg, ok := d.Registry.Lookup(segmentID); ok {
			seg := pkg.Segment()
			if err := d.awaitAbort(ctx, segmentID, pkg, cause); err != nil {
				return types.Segment{}, err
			}

			return seg, nil
		}
	}

	ids, err := d.Store.FetchSegments(ctx, d.Processor)
	if err != nil {
		return types.Segment{}, fmt.Errorf("fetch segments: %w", err)
	}
	if !slices.Contains(ids, segmentID) {
		return types.Segment{}, fmt.Errorf("segment %d: %w", segmentID, types.ErrSegmentNotFound)
	}

	return types.ComputeSegment(segmentID, ids...), nil
}

func (d *Dispatcher) stopPackage(ctx context.Context, segmentID int, cause error) error {
	if d.Registry == nil {
		return nil
	}
	pkg, ok := d.Registry.Lookup(segmentID)
	if !ok {
		return nil
	}

	return d.awaitAbort(ctx, segmentID, pkg, cause)
}

func (d *Dispatcher) awaitAbort(ctx context.Context, segmentID int, pkg Package, cause error) error {
	timeout := d.AbortTimeout
	if timeout <= 0 {
		timeout = DefaultAbortTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := pkg.Abort(cause).Wait(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("segment %d: %w", segmentID, types.ErrAbortTimeout)
		}

		return err
	}
	d.Registry.Remove(segmentID)

	return nil
}

// releaseClaim gives up a claim taken by the task. It ignores cancellation
// of ctx so a stopping coordinator does not leave the claim until ClaimTimeout.
func (d *Dispatcher) releaseClaim(ctx context.Context, segmentID int) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultReleaseTimeout)
	defer cancel()

	return d.Store.ReleaseClaim(ctx, d.Processor, segmentID)
}

func (d *Dispatcher) releaseQuietly(ctx context.Context, segmentID int) {
	if err := d.releaseClaim(ctx, segmentID); err != nil {
		d.logger().Warn("failed to release claim after task error", "segment", segmentID, "error", err)
	}
}

func (d *Dispatcher) logger() types.Logger {
	if d.Logger == nil {
		return logging.NewNop()
	}

	return d.Logger
}

func (d *Dispatcher) collector() types.MetricsCollector {
	if d.Metrics == nil {
		return metrics.NewNop()
	}

	return d.Metrics
}

func (d *Dispatcher) now() time.Time {
	if d.Clock == nil {
		return time.Now()
	}

	return d.Clock()
}
