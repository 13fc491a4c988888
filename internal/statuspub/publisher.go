package statuspub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/segpool/internal/logging"
	"github.com/arloliu/segpool/internal/natsutil"
	"github.com/arloliu/segpool/types"
)

// Common errors for status publishing.
var (
	ErrNotStarted     = errors.New("publisher not started")
	ErrAlreadyStarted = errors.New("publisher already started")
	ErrNoOwner        = errors.New("owner not set")
)

// Snapshot is the status of one process of a processor group.
type Snapshot struct {
	Processor   string                `json:"processor"`
	Owner       string                `json:"owner"`
	PublishedAt time.Time             `json:"publishedAt"`
	Segments    []types.TrackerStatus `json:"segments"`
}

// Publisher periodically writes a Snapshot to NATS KV.
type Publisher struct {
	kv        jetstream.KeyValue
	processor string
	owner     string
	interval  time.Duration
	collect   func() []types.TrackerStatus
	logger    types.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a status publisher.
//
// Parameters:
//   - kv: Bucket receiving the snapshots
//   - processor: Processor group name
//   - owner: Token store identity of this process
//   - interval: Publish interval
//   - collect: Returns the current work package statuses
//
// Returns:
//   - *Publisher: Publisher ready to Start
//
// Example:
//
//	kv, _ := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
//	    Bucket: "segpool-status",
//	    TTL:    15 * time.Second, // 3x interval
//	})
//	pub := statuspub.New(kv, "orders", store.Owner(), 5*time.Second, coord.StatusList)
func New(kv jetstream.KeyValue, processor, owner string, interval time.Duration, collect func() []types.TrackerStatus) *Publisher {
	return &Publisher{
		kv:        kv,
		processor: processor,
		owner:     owner,
		interval:  interval,
		collect:   collect,
		logger:    logging.NewNop(),
	}
}

// SetLogger sets the logger used for publish failures.
func (p *Publisher) SetLogger(logger types.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Start publishes the first snapshot and keeps publishing every interval
// until Stop is called.
//
// Returns:
//   - error: ErrAlreadyStarted, ErrNoOwner, or the initial publish failure
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if p.owner == "" {
		return ErrNoOwner
	}

	if err := p.publish(ctx); err != nil {
		return fmt.Errorf("failed to publish initial status: %w", err)
	}

	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.loop(p.stopCh, p.doneCh)

	return nil
}

// Stop ends publishing and deletes this process's snapshot.
//
// Returns:
//   - error: ErrNotStarted if not running, or the delete failure
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.started = false
	close(p.stopCh)
	done := p.doneCh
	p.mu.Unlock()

	<-done

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.kv.Delete(ctx, p.Key()); err != nil {
		return fmt.Errorf("stopped but failed to delete status: %w", err)
	}

	return nil
}

// IsStarted reports whether the publisher is running.
func (p *Publisher) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.started
}

// Key returns the KV key this publisher writes.
func (p *Publisher) Key() string {
	return Key(p.processor, p.owner)
}

// Key returns the KV key of a process's snapshot.
func Key(processor, owner string) string {
	return natsutil.SanitizeToken(processor) + "." + natsutil.SanitizeToken(owner)
}

func (p *Publisher) loop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := p.publish(ctx)
			cancel()

			if err != nil {
				p.logger.Warn("failed to publish status", "processor", p.processor, "error", err)
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context) error {
	statuses := p.collect()
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Segment.ID < statuses[j].Segment.ID })

	data, err := json.Marshal(Snapshot{
		Processor:   p.processor,
		Owner:       p.owner,
		PublishedAt: time.Now(),
		Segments:    statuses,
	})
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}

	if _, err := p.kv.Put(ctx, p.Key(), data); err != nil {
		return natsutil.StoreError("publish status", err)
	}

	return nil
}

// Read returns the snapshots of every process of a processor group, sorted by owner.
//
// Keys that fail to decode are skipped.
func Read(ctx context.Context, kv jetstream.KeyValue, processor string) ([]Snapshot, error) {
	keys, err := kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) || types.IsNoKeysFoundError(err) {
			return nil, nil
		}

		return nil, natsutil.StoreError("list status keys", err)
	}

	prefix := natsutil.SanitizeToken(processor) + "."
	var out []Snapshot
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		entry, err := kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			continue
		}
		if err != nil {
			return nil, natsutil.StoreError("read status", err)
		}

		var snap Snapshot
		if err := json.Unmarshal(entry.Value(), &snap); err != nil {
			continue
		}
		out = append(out, snap)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })

	return out, nil
}
