// Package presence publishes and reads this host's liveness into a NATS
// JetStream KeyValue bucket, giving the load balancer (C7) a way to learn
// how many hosts are currently active without inferring it purely from
// lease ownership — a host that owns zero leases (freshly started, or
// fully starved by an uneven previous tick) is otherwise invisible to
// every other host's fair-share computation.
//
// This is the teacher's internal/heartbeat.Publisher, generalized from a
// leader-watches-workers crash detector into a symmetric presence
// registry every balancer reads from, on the same bucket-TTL-expiry
// mechanism: a host's key is deleted on graceful Stop and otherwise
// expires on its own once the host stops renewing it.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/feedflow/cfp/internal/types"
)

// Common errors for presence publishing.
var (
	ErrNotStarted     = errors.New("presence publisher not started")
	ErrAlreadyStarted = errors.New("presence publisher already started")
)

// Publisher periodically renews this host's presence key in a NATS KV
// bucket so other hosts can discover it. The bucket should be configured
// with a TTL of roughly 3x interval, so a crashed host's key expires
// after about 3 missed renewals.
type Publisher struct {
	kv       jetstream.KeyValue
	prefix   string
	host     string
	interval time.Duration
	metrics  types.MetricsCollector

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	ticker  *time.Ticker
}

// New creates a presence publisher for host, renewing its key in kv every
// interval under prefix.
func New(kv jetstream.KeyValue, prefix, host string, interval time.Duration) *Publisher {
	return &Publisher{kv: kv, prefix: prefix, host: host, interval: interval}
}

// SetMetrics attaches a metrics collector. Optional.
func (p *Publisher) SetMetrics(metrics types.MetricsCollector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = metrics
}

// Start publishes an initial presence key and renews it every interval
// until Stop is called.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.started = true
	p.ticker = time.NewTicker(p.interval)

	if err := p.publish(ctx); err != nil {
		p.started = false
		return fmt.Errorf("publish initial presence: %w", err)
	}

	go p.publishLoop()
	return nil
}

// Stop halts renewal and deletes this host's key so its absence is
// immediate rather than waiting out the bucket TTL.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.ticker.Stop()
	close(p.stopCh)
	p.started = false
	p.mu.Unlock()

	<-p.doneCh

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.kv.Delete(ctx, p.key()); err != nil {
		return fmt.Errorf("stopped but failed to delete presence key: %w", err)
	}
	return nil
}

func (p *Publisher) publishLoop() {
	defer close(p.doneCh)
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := p.publish(ctx)
			cancel()
			p.recordMetric(err == nil)
		}
	}
}

func (p *Publisher) publish(ctx context.Context) error {
	_, err := p.kv.Put(ctx, p.key(), []byte(time.Now().Format(time.RFC3339Nano)))
	if err != nil {
		return fmt.Errorf("publish presence for %s: %w", p.host, err)
	}
	return nil
}

func (p *Publisher) key() string {
	return fmt.Sprintf("%s.%s", p.prefix, p.host)
}

func (p *Publisher) recordMetric(success bool) {
	p.mu.Lock()
	metrics := p.metrics
	host := p.host
	p.mu.Unlock()
	if metrics != nil {
		metrics.RecordHeartbeat(host, success)
	}
}

// Registry reads the set of currently live hosts from the same bucket a
// Publisher renews into.
type Registry struct {
	kv     jetstream.KeyValue
	prefix string
}

// NewRegistry wraps kv as a host registry reader.
func NewRegistry(kv jetstream.KeyValue, prefix string) *Registry {
	return &Registry{kv: kv, prefix: prefix}
}

// ActiveHosts lists the hosts with a currently unexpired presence key.
func (r *Registry) ActiveHosts(ctx context.Context) ([]string, error) {
	keys, err := r.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list presence keys: %w", err)
	}

	want := r.prefix + "."
	hosts := make([]string, 0, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, want) {
			continue
		}
		hosts = append(hosts, strings.TrimPrefix(key, want))
	}
	return hosts, nil
}
