package segpool

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/segpool/internal/hooks"
	"github.com/arloliu/segpool/internal/kvutil"
	"github.com/arloliu/segpool/internal/logging"
	"github.com/arloliu/segpool/internal/metrics"
	"github.com/arloliu/segpool/internal/statuspub"
	"github.com/arloliu/segpool/internal/task"
	"github.com/arloliu/segpool/internal/workpackage"
	"github.com/arloliu/segpool/routing"
	"github.com/arloliu/segpool/types"
)

// errCoordinatorStopping resolves tasks still queued when the coordinator stops.
var errCoordinatorStopping = fmt.Errorf("%w: coordinator stopping", ErrNotStarted)

// Coordinator runs the segments of one processor group inside one process.
//
// Coordinator is the main entry point of segpool. It handles:
//   - Creating the initial segment layout for a new processor
//   - Claiming available segments up to Config.MaxSegments
//   - Running one work package per claimed segment
//   - Splitting, merging, and releasing segments on request
//   - Optional status publishing to NATS KV
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - The segment registry is owned by a single coordination goroutine;
//     tasks run on that goroutine one at a time
//
// Lifecycle:
//   - Create with NewCoordinator()
//   - Call Start() to create the layout and begin claiming
//   - Call Stop() to abort work packages and release their claims
type Coordinator struct {
	cfg     Config
	store   TokenStore
	source  EventSource
	handler EventHandler

	// Optional dependencies
	errorHandler ErrorHandler
	hasher       routing.Hasher
	hooks        Hooks
	metrics      MetricsCollector
	logger       Logger
	balance      BalancePolicy
	statusKV     jetstream.KeyValue
	js           jetstream.JetStream

	dispatcher *task.Dispatcher
	publisher  *statuspub.Publisher

	// Owned by the coordination goroutine
	packages map[int]*workpackage.WorkPackage
	blocked  map[int]time.Time
	halted   map[int]error

	// Readable from any goroutine
	status *xsync.Map[int, TrackerStatus]
	shared atomic.Pointer[[]*workpackage.WorkPackage]
	state  atomic.Int32

	tasks    chan task.Task
	resumeCh chan resumeRequest
	wake     chan struct{}

	// Lifecycle management
	ctx       context.Context
	cancel    context.CancelFunc
	pkgCtx    context.Context
	pkgCancel context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
}

type resumeRequest struct {
	segmentID int
	done      chan struct{}
}

// registry exposes the coordination goroutine's package map to tasks.
type registry struct {
	c *Coordinator
}

var _ task.Registry = registry{}

// Lookup implements task.Registry.
func (r registry) Lookup(segmentID int) (task.Package, bool) {
	pkg, ok := r.c.packages[segmentID]
	if !ok {
		return nil, false
	}

	return pkg, true
}

// Remove implements task.Registry.
func (r registry) Remove(segmentID int) {
	if pkg, ok := r.c.packages[segmentID]; ok {
		r.c.retire(segmentID, pkg)
	}
	delete(r.c.packages, segmentID)
	if _, halted := r.c.halted[segmentID]; !halted {
		r.c.status.Delete(segmentID)
	}
	r.c.publishShared()
}

// Block implements task.Registry.
func (r registry) Block(segmentID int, until time.Time) {
	r.c.blocked[segmentID] = until
}

// NewCoordinator creates a Coordinator for one processor group.
//
// Returns a concrete *Coordinator following the "accept interfaces, return structs" principle.
//
// Parameters:
//   - cfg: Configuration; missing values are filled with defaults
//   - store: Token store shared by all processes of the group
//   - source: Ordered event source
//   - handler: Business handler invoked for every event of a claimed segment
//   - opts: Optional configuration (hooks, metrics, logger, error handler, status KV)
//
// Returns:
//   - *Coordinator: Initialized coordinator in StateInit
//   - error: Validation error if a dependency is missing or the configuration is invalid
//
// Example:
//
//	cfg := segpool.DefaultConfig()
//	cfg.ProcessorName = "orders"
//	store := memory.New()
//	coord, err := segpool.NewCoordinator(&cfg, store, src, segpool.HandlerFunc(handle))
func NewCoordinator(cfg *Config, store TokenStore, source EventSource, handler EventHandler, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if store == nil {
		return nil, ErrTokenStoreRequired
	}
	if source == nil {
		return nil, ErrEventSourceRequired
	}
	if handler == nil {
		return nil, ErrHandlerRequired
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &coordinatorOptions{}
	for _, opt := range opts {
		opt(options)
	}

	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	var loggerInstance Logger = logging.NewNop()
	if options.logger != nil {
		loggerInstance = options.logger
	}

	cfg.ValidateWithWarnings(loggerInstance)

	hasher := options.hasher
	if hasher == nil {
		h, err := routing.ByName(cfg.Hasher)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		hasher = h
	}

	errorHandler := options.errorHandler
	if errorHandler == nil {
		errorHandler = types.HaltOnError
	}

	c := &Coordinator{
		cfg:          *cfg,
		store:        store,
		source:       source,
		handler:      handler,
		errorHandler: errorHandler,
		hasher:       hasher,
		hooks:        hooks.WithDefaults(options.hooks),
		metrics:      metricsCollector,
		logger:       loggerInstance,
		balance:      options.balance,
		statusKV:     options.statusKV,
		js:           options.js,
		packages:     make(map[int]*workpackage.WorkPackage),
		blocked:      make(map[int]time.Time),
		halted:       make(map[int]error),
		status:       xsync.NewMap[int, TrackerStatus](),
		tasks:        make(chan task.Task),
		resumeCh:     make(chan resumeRequest),
		wake:         make(chan struct{}, 1),
	}
	c.dispatcher = &task.Dispatcher{
		Processor:    cfg.ProcessorName,
		Store:        store,
		Registry:     registry{c: c},
		AbortTimeout: cfg.AbortTimeout,
		Logger:       loggerInstance,
		Metrics:      metricsCollector,
	}
	c.state.Store(int32(StateInit))

	return c, nil
}

// Start creates the segment layout if the processor has none and begins claiming.
//
// Start returns once the coordination goroutine runs; segments are claimed
// asynchronously.
//
// Parameters:
//   - ctx: Context for the startup calls to the token store and event source
//
// Returns:
//   - error: ErrAlreadyStarted, or the layout or status bucket failure
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.ctx != nil {
		c.mu.Unlock()

		return ErrAlreadyStarted
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.pkgCtx, c.pkgCancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.transitionState(StateInit, StateStarting)

	if err := c.initializeLayout(ctx); err != nil {
		c.abortStart()
		return fmt.Errorf("failed to initialize segments: %w", err)
	}

	if err := c.startStatusPublisher(ctx); err != nil {
		c.abortStart()
		return fmt.Errorf("failed to start status publisher: %w", err)
	}

	if watcher, ok := c.store.(SegmentWatcher); ok {
		changes, err := watcher.WatchSegments(c.ctx, c.cfg.ProcessorName)
		if err != nil {
			c.logger.Warn("segment watch unavailable, relying on reconcile interval", "error", err)
		} else {
			c.wg.Add(1)
			go c.forwardChanges(changes)
		}
	}

	c.wg.Add(1)
	go c.loop()

	if c.cfg.EventDelivery == DeliveryShared {
		c.wg.Add(1)
		go c.sharedReader()
	}

	c.transitionState(StateStarting, StateRunning)
	c.logger.Info("coordinator started",
		"processor", c.cfg.ProcessorName,
		"owner", c.store.Owner(),
		"delivery", c.cfg.EventDelivery,
	)

	return nil
}

func (c *Coordinator) abortStart() {
	c.cancel()
	c.pkgCancel()
	c.transitionState(StateStarting, StateStopped)
}

// Stop aborts all work packages, releases their claims, and waits for the
// coordinator's goroutines.
//
// Parameters:
//   - ctx: Context bounding the wait
//
// Returns:
//   - error: ErrNotStarted if not running, ctx.Err() on timeout, or a shutdown failure
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.ctx == nil {
		c.mu.Unlock()

		return ErrNotStarted
	}
	current := c.State()
	if current != StateRunning {
		c.mu.Unlock()

		return ErrNotStarted
	}
	c.transitionState(current, StateStopping)
	c.cancel()
	c.mu.Unlock()

	var shutdownErr error
	if c.publisher != nil {
		if err := c.publisher.Stop(); err != nil && !errors.Is(err, statuspub.ErrNotStarted) {
			c.logger.Error("failed to stop status publisher", "error", err)
			shutdownErr = fmt.Errorf("status publisher stop failed: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.transitionState(StateStopping, StateStopped)
		c.logger.Info("coordinator stopped", "processor", c.cfg.ProcessorName)

		return shutdownErr
	case <-ctx.Done():
		c.logger.Error("shutdown timeout exceeded, some work packages may still be running")
		if shutdownErr == nil {
			return ctx.Err()
		}

		return fmt.Errorf("shutdown timeout: %w; additional error: %w", ctx.Err(), shutdownErr)
	}
}

// State returns the current coordinator state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Processor returns the processor group name.
func (c *Coordinator) Processor() string {
	return c.cfg.ProcessorName
}

// Owner returns the token store identity this coordinator claims under.
func (c *Coordinator) Owner() string {
	return c.store.Owner()
}

// Status returns the status of every work package this process runs, keyed
// by segment ID. Segments halted by a handler failure stay listed in the
// Terminated state until ResumeSegment is called.
func (c *Coordinator) Status() map[int]TrackerStatus {
	out := make(map[int]TrackerStatus, c.status.Size())
	c.status.Range(func(id int, st TrackerStatus) bool {
		out[id] = st
		return true
	})

	return out
}

// StatusList returns Status ordered by segment ID.
func (c *Coordinator) StatusList() []TrackerStatus {
	out := make([]TrackerStatus, 0, c.status.Size())
	c.status.Range(func(_ int, st TrackerStatus) bool {
		out = append(out, st)
		return true
	})
	slices.SortFunc(out, func(a, b TrackerStatus) int { return cmp.Compare(a.Segment.ID, b.Segment.ID) })

	return out
}

// WaitState waits for the coordinator to reach the expected state.
//
// Parameters:
//   - expectedState: The state to wait for
//   - timeout: Maximum time to wait
//
// Returns:
//   - <-chan error: Receives nil on success, context.DeadlineExceeded on timeout
//
// Example:
//
//	if err := <-coord.WaitState(segpool.StateRunning, 5*time.Second); err != nil {
//	    log.Fatal(err)
//	}
func (c *Coordinator) WaitState(expectedState State, timeout time.Duration) <-chan error {
	ch := make(chan error, 1)

	go func() {
		defer close(ch)

		if c.State() == expectedState {
			ch <- nil
			return
		}

		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		timeoutTimer := time.NewTimer(timeout)
		defer timeoutTimer.Stop()

		for {
			select {
			case <-ticker.C:
				if c.State() == expectedState {
					ch <- nil
					return
				}
			case <-timeoutTimer.C:
				ch <- context.DeadlineExceeded
				return
			}
		}
	}()

	return ch
}

// SplitSegment splits a segment into two halves.
//
// A live work package for the segment is aborted first; both halves are
// then claimed again by the reconcile loop of whichever process gets them.
//
// Returns:
//   - bool: true when the segment was split
//   - error: ErrNotStarted, ErrSegmentNotFound, ErrSegmentNotSplittable,
//     ErrUnableToClaim, ErrAbortTimeout, or a store failure
func (c *Coordinator) SplitSegment(ctx context.Context, segmentID int) (bool, error) {
	return c.submit(ctx, task.NewSplit(segmentID))
}

// MergeSegment merges a segment with its sibling.
//
// Returns:
//   - bool: false when the segment is the root or its sibling is split further
//   - error: ErrNotStarted, ErrSegmentNotFound, ErrUnableToClaim, or a store failure
func (c *Coordinator) MergeSegment(ctx context.Context, segmentID int) (bool, error) {
	return c.submit(ctx, task.NewMerge(segmentID))
}

// ReleaseSegment stops processing a segment in this process for d, letting
// other processes claim it.
//
// Returns:
//   - bool: true once the package stopped
//   - error: ErrNotStarted or ErrAbortTimeout
func (c *Coordinator) ReleaseSegment(ctx context.Context, segmentID int, d time.Duration) (bool, error) {
	return c.submit(ctx, task.NewRelease(segmentID, time.Now().Add(d)))
}

// ResumeSegment lifts a halt or release deadline so the segment can be
// claimed again on the next reconcile pass.
//
// Returns:
//   - error: ErrNotStarted or ctx.Err()
func (c *Coordinator) ResumeSegment(ctx context.Context, segmentID int) error {
	if c.State() != StateRunning {
		return ErrNotStarted
	}

	req := resumeRequest{segmentID: segmentID, done: make(chan struct{})}
	select {
	case c.resumeCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.lifecycle().Done():
		return ErrNotStarted
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) submit(ctx context.Context, t task.Task) (bool, error) {
	if c.State() != StateRunning {
		return false, ErrNotStarted
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.OperationTimeout)
		defer cancel()
	}

	select {
	case c.tasks <- t:
	case <-ctx.Done():
		return false, ctx.Err()
	case <-c.lifecycle().Done():
		return false, ErrNotStarted
	}

	return t.Result.Wait(ctx)
}

func (c *Coordinator) lifecycle() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.ctx
}

// loop is the coordination goroutine. It alone touches the package registry.
func (c *Coordinator) loop() {
	defer c.wg.Done()
	defer c.shutdownPackages()

	ctx := c.ctx
	ticker := time.NewTicker(c.cfg.ReconcileInterval)
	defer ticker.Stop()

	c.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			c.drainTasks()
			return
		case t := <-c.tasks:
			c.dispatcher.Run(ctx, t)
			c.reconcile(ctx)
		case req := <-c.resumeCh:
			delete(c.halted, req.segmentID)
			delete(c.blocked, req.segmentID)
			if _, live := c.packages[req.segmentID]; !live {
				c.status.Delete(req.segmentID)
			}
			close(req.done)
			c.reconcile(ctx)
		case <-c.wake:
			c.reconcile(ctx)
		case <-ticker.C:
			c.reconcile(ctx)
		}
	}
}

func (c *Coordinator) drainTasks() {
	for {
		select {
		case t := <-c.tasks:
			t.Result.Complete(false, errCoordinatorStopping)
		default:
			return
		}
	}
}

// signal requests a reconcile pass without blocking.
func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) forwardChanges(changes <-chan struct{}) {
	defer c.wg.Done()

	for range changes {
		c.signal()
	}
}

// reconcile drops terminated packages, claims available segments, and
// consults the balance policy.
func (c *Coordinator) reconcile(ctx context.Context) {
	start := time.Now()
	defer func() {
		c.metrics.RecordReconcileDuration(time.Since(start).Seconds())
		c.metrics.RecordActiveSegments(len(c.packages))
	}()

	c.dropTerminated()

	now := time.Now()
	for id, until := range c.blocked {
		if !now.Before(until) {
			delete(c.blocked, id)
		}
	}

	if len(c.packages) < c.cfg.MaxSegments {
		available, err := c.store.FetchAvailableSegments(ctx, c.cfg.ProcessorName)
		if err != nil {
			if ctx.Err() == nil {
				c.reportError("failed to fetch available segments", err)
			}

			return
		}

		for _, seg := range available {
			if len(c.packages) >= c.cfg.MaxSegments || ctx.Err() != nil {
				break
			}
			if !c.claimable(seg.ID) {
				continue
			}
			c.claim(ctx, seg)
		}
		c.publishShared()
	}

	c.rebalance(ctx)
}

func (c *Coordinator) claimable(segmentID int) bool {
	if _, live := c.packages[segmentID]; live {
		return false
	}
	if _, halted := c.halted[segmentID]; halted {
		return false
	}
	_, blocked := c.blocked[segmentID]

	return !blocked
}

func (c *Coordinator) dropTerminated() {
	changed := false
	for id, pkg := range c.packages {
		// Done closes after the cause is resolved and the last status published.
		select {
		case <-pkg.Done():
		default:
			continue
		}
		delete(c.packages, id)
		changed = true
		if !c.retire(id, pkg) {
			c.status.Delete(id)
		}
	}

	if changed {
		c.publishShared()
	}
}

// retire records the outcome of a stopped package and reports whether it
// halted on a handler failure. The abort future of pkg must be resolved.
func (c *Coordinator) retire(segmentID int, pkg *workpackage.WorkPackage) bool {
	cause, _, _ := pkg.Released().Result()
	halted := errors.Is(cause, ErrHandlerFailure)
	if halted {
		c.halted[segmentID] = cause
		c.logger.Error("segment halted until resumed",
			"processor", c.cfg.ProcessorName, "segment", pkg.Segment().String(), "error", cause)
	}
	c.runReleasedHook(pkg.Segment(), cause)

	return halted
}

// claim fetches the segment's token and starts a work package for it.
func (c *Coordinator) claim(ctx context.Context, seg Segment) {
	token, err := c.store.FetchToken(ctx, c.cfg.ProcessorName, seg.ID)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnableToClaim):
		c.metrics.RecordClaimAttempt("contended")
		return
	case errors.Is(err, ErrSegmentNotFound):
		c.metrics.RecordClaimAttempt("not_found")
		return
	default:
		c.metrics.RecordClaimAttempt("error")
		c.reportError("failed to claim segment", fmt.Errorf("segment %d: %w", seg.ID, err))

		return
	}

	token, err = c.resolveDangling(ctx, seg, token)
	if err != nil {
		c.metrics.RecordClaimAttempt("error")
		c.reportError("failed to repair merged token", err)
		if rerr := c.store.ReleaseClaim(ctx, c.cfg.ProcessorName, seg.ID); rerr != nil {
			c.logger.Warn("failed to release claim", "segment", seg.String(), "error", rerr)
		}

		return
	}

	pkg := workpackage.New(c.packageConfig(seg, token))
	c.packages[seg.ID] = pkg
	pkg.Start(c.pkgCtx)

	c.metrics.RecordClaimAttempt("claimed")
	c.logger.Info("segment claimed",
		"processor", c.cfg.ProcessorName, "segment", seg.String(), "token", token)

	go func() {
		if err := c.hooks.OnSegmentClaimed(c.ctx, seg); err != nil {
			c.logger.Error("segment claimed hook error", "segment", seg.String(), "error", err)
		}
	}()
}

// resolveDangling repairs a merged token left behind by a merge that stored
// the merged token but never deleted the other half. While the sibling entry
// still exists, this segment only owns its own half of the merged progress.
func (c *Coordinator) resolveDangling(ctx context.Context, seg Segment, token TrackingToken) (TrackingToken, error) {
	merged, ok := types.Unwrap(token).(MergedToken)
	if !ok || seg.Mask == 0 {
		return token, nil
	}

	ids, err := c.store.FetchSegments(ctx, c.cfg.ProcessorName)
	if err != nil {
		return nil, fmt.Errorf("fetch segments: %w", err)
	}
	siblingID := seg.MergeableSegmentID()
	if !slices.Contains(ids, siblingID) {
		return token, nil
	}
	if sibling := types.ComputeSegment(siblingID, ids...); sibling.Mask != seg.Mask {
		return token, nil
	}

	half := merged.LowerSegment
	if seg.ID > siblingID {
		half = merged.UpperSegment
	}
	repaired := half
	if r, ok := token.(ReplayToken); ok {
		repaired = types.NewReplayToken(r.TokenAtReset, half)
	}

	if err := c.store.StoreToken(ctx, repaired, c.cfg.ProcessorName, seg.ID); err != nil {
		return nil, fmt.Errorf("store repaired token of segment %d: %w", seg.ID, err)
	}
	c.logger.Warn("repaired merged token of unfinished merge",
		"segment", seg.String(), "sibling", siblingID, "token", repaired)

	return repaired, nil
}

func (c *Coordinator) packageConfig(seg Segment, token TrackingToken) workpackage.Config {
	var src EventSource
	if c.cfg.EventDelivery == DeliveryPull {
		src = c.source
	}

	return workpackage.Config{
		Processor:              c.cfg.ProcessorName,
		Segment:                seg,
		Token:                  token,
		Store:                  c.store,
		Source:                 src,
		Handler:                c.handler,
		ErrorHandler:           c.errorHandler,
		Hasher:                 c.hasher,
		BatchSize:              c.cfg.BatchSize,
		PollInterval:           c.cfg.PollInterval,
		ClaimExtensionInterval: c.cfg.ClaimExtensionInterval,
		MaxQueuedEvents:        c.cfg.MaxQueuedEvents,
		StoreRetry:             c.cfg.StoreRetry.Policy(),
		Logger:                 c.logger,
		Metrics:                c.metrics,
		OnStatus: func(st TrackerStatus) {
			c.status.Store(st.Segment.ID, st)
		},
		OnTerminated: c.signal,
	}
}

// rebalance splits segments picked by the balance policy.
func (c *Coordinator) rebalance(ctx context.Context) {
	if c.balance == nil || ctx.Err() != nil {
		return
	}

	view := BalanceView{Capacity: c.cfg.MaxSegments - len(c.packages)}
	if view.Capacity <= 0 {
		return
	}
	for id := range c.packages {
		if st, ok := c.status.Load(id); ok {
			view.Owned = append(view.Owned, st)
		}
	}
	if head, ok := c.source.(HeadTokenSource); ok {
		token, err := head.HeadToken(ctx)
		if err != nil {
			c.logger.Debug("head token unavailable for balancing", "error", err)
		} else {
			view.Head = token
		}
	}

	ids := c.balance.SegmentsToSplit(view)
	for _, id := range ids {
		if _, owned := c.packages[id]; !owned {
			continue
		}
		c.logger.Info("balance policy splits segment", "segment", id)
		c.dispatcher.Run(ctx, task.NewSplit(id))
	}
	if len(ids) > 0 {
		c.signal()
	}
}

// publishShared hands the current packages to the shared reader.
func (c *Coordinator) publishShared() {
	pkgs := make([]*workpackage.WorkPackage, 0, len(c.packages))
	for _, pkg := range c.packages {
		pkgs = append(pkgs, pkg)
	}
	c.shared.Store(&pkgs)
}

// sharedReader reads the stream once for all packages of this process,
// starting from the lowest position any package has been offered.
func (c *Coordinator) sharedReader() {
	defer c.wg.Done()

	ctx := c.ctx
	for ctx.Err() == nil {
		var pkgs []*workpackage.WorkPackage
		if p := c.shared.Load(); p != nil {
			pkgs = *p
		}

		live := pkgs[:0:0]
		for _, pkg := range pkgs {
			if pkg.State() < WorkPackageAborting {
				live = append(live, pkg)
			}
		}
		if len(live) == 0 {
			c.pause(ctx, c.cfg.PollInterval)
			continue
		}

		from := lowestScheduled(live)
		events, err := c.source.ReadEvents(ctx, from, RootSegment, c.cfg.BatchSize)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("shared reader failed to read events", "error", err)
				c.pause(ctx, c.cfg.PollInterval)
			}

			continue
		}

		// A package that rejected an event for lack of queue space gets no
		// later events of this batch; the next pass starts at its position.
		saturated := make([]bool, len(live))
		for _, ev := range events {
			for i, pkg := range live {
				if saturated[i] {
					continue
				}
				if !pkg.ScheduleEvent(ev) && !types.Covers(pkg.Scheduled(), ev.Token) {
					saturated[i] = true
				}
			}
		}

		// No package moved: the stream is at its head or every package
		// interested in the next event has a full queue.
		if types.TokensEqual(lowestScheduled(live), from) {
			c.pause(ctx, c.cfg.PollInterval)
		}
	}
}

func lowestScheduled(pkgs []*workpackage.WorkPackage) TrackingToken {
	low := pkgs[0].Scheduled()
	for _, pkg := range pkgs[1:] {
		low = types.LowerBound(low, pkg.Scheduled())
	}

	return low
}

func (c *Coordinator) pause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// shutdownPackages aborts all packages in parallel and waits up to ShutdownTimeout.
func (c *Coordinator) shutdownPackages() {
	defer c.pkgCancel()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
	defer cancel()

	var g errgroup.Group
	for id, pkg := range c.packages {
		released := pkg.Abort(nil)
		g.Go(func() error {
			if _, err := released.Wait(ctx); err != nil {
				return fmt.Errorf("segment %d: %w", id, ErrAbortTimeout)
			}

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Error("work packages did not stop in time", "error", err)
	}

	for id, pkg := range c.packages {
		cause, _, _ := pkg.Released().Result()
		c.runReleasedHook(pkg.Segment(), cause)
		delete(c.packages, id)
		c.status.Delete(id)
	}
	c.publishShared()
	c.metrics.RecordActiveSegments(0)
}

func (c *Coordinator) runReleasedHook(seg Segment, cause error) {
	go func() {
		if err := c.hooks.OnSegmentReleased(c.ctx, seg, cause); err != nil {
			c.logger.Error("segment released hook error", "segment", seg.String(), "error", err)
		}
	}()
}

func (c *Coordinator) reportError(msg string, err error) {
	c.logger.Warn(msg, "processor", c.cfg.ProcessorName, "error", err)
	go func() {
		if herr := c.hooks.OnError(c.ctx, err); herr != nil {
			c.logger.Error("error hook failed", "error", herr)
		}
	}()
}

// initializeLayout creates InitialSegmentCount segments when the processor has none.
func (c *Coordinator) initializeLayout(ctx context.Context) error {
	ids, err := c.store.FetchSegments(ctx, c.cfg.ProcessorName)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		c.logger.Debug("using existing segment layout", "processor", c.cfg.ProcessorName, "segments", len(ids))
		return nil
	}

	initial, err := InitialToken(ctx, c.source, c.cfg.InitialPosition)
	if err != nil {
		return err
	}

	return InitializeSegments(ctx, c.store, c.cfg.ProcessorName, c.cfg.InitialSegmentCount, initial)
}

func (c *Coordinator) startStatusPublisher(ctx context.Context) error {
	if !c.cfg.StatusPublishing.Enabled {
		return nil
	}

	kv := c.statusKV
	if kv == nil {
		if c.js == nil {
			c.logger.Warn("status publishing enabled without WithStatusKV or WithJetStream, skipping")
			return nil
		}

		const maxRetries = 5
		created, err := kvutil.EnsureKVBucketWithRetry(ctx, c.js, jetstream.KeyValueConfig{
			Bucket:  c.cfg.StatusPublishing.Bucket,
			History: 1,
			TTL:     c.cfg.StatusPublishing.TTL,
		}, maxRetries)
		if err != nil {
			return fmt.Errorf("failed to create/open KV bucket %s: %w", c.cfg.StatusPublishing.Bucket, err)
		}
		kv = created
	}

	c.publisher = statuspub.New(kv, c.cfg.ProcessorName, c.store.Owner(), c.cfg.StatusPublishing.Interval, c.StatusList)
	c.publisher.SetLogger(c.logger)

	return c.publisher.Start(ctx)
}

// transitionState moves the coordinator to a new state.
func (c *Coordinator) transitionState(from, to State) {
	if !isValidTransition(from, to) {
		c.logger.Error("invalid state transition attempted", "from", from.String(), "to", to.String())
		return
	}
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		c.logger.Error("state changed concurrently", "from", from.String(), "to", to.String(), "current", c.State().String())
		return
	}

	c.logger.Info("state transition",
		"from", from.String(),
		"to", to.String(),
		"processor", c.cfg.ProcessorName,
	)

	// Stop cancels c.ctx before the final transitions; hooks still get to run.
	hookCtx := context.WithoutCancel(c.ctx)
	go func() {
		if err := c.hooks.OnStateChanged(hookCtx, from, to); err != nil {
			c.logger.Error("state change hook error", "from", from, "to", to, "error", err)
		}
	}()

	c.metrics.RecordStateTransition(from, to)
}

// isValidTransition validates that a state transition is allowed.
func isValidTransition(from, to State) bool {
	validTransitions := map[State][]State{
		StateInit:     {StateStarting},
		StateStarting: {StateRunning, StateStopped},
		StateRunning:  {StateStopping},
		StateStopping: {StateStopped},
		StateStopped:  {},
	}

	return slices.Contains(validTransitions[from], to)
}
