package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/gogpu/vision"
	"github.com/gogpu/vision/gpucore"
)

// Option configures a Pipeline during creation.
//
// Example:
//
//	p, err := pipeline.New(
//	    pipeline.WithPoolCapacity(32),
//	    pipeline.WithMetrics(prometheus.DefaultRegisterer),
//	)
type Option func(*options)

type options struct {
	adapter      gpucore.Adapter
	poolCapacity int
	registerer   prometheus.Registerer
}

// WithAdapter runs the pipeline on the given adapter. By default the
// pipeline creates a gpucore.SoftwareAdapter and closes it on Release.
func WithAdapter(a gpucore.Adapter) Option {
	return func(o *options) {
		o.adapter = a
	}
}

// WithPoolCapacity sets the number of pooled textures. Zero selects
// gpucore.DefaultPoolCapacity.
func WithPoolCapacity(n int) Option {
	return func(o *options) {
		o.poolCapacity = n
	}
}

// WithMetrics registers the pipeline collectors with reg. Pipelines sharing
// a registry share their collectors.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

type pipelineState int

const (
	stateNew pipelineState = iota
	stateInitialized
	stateReleased
)

// Pipeline executes a graph of nodes in topological order.
//
// Run calls are serialized in arrival order: a Run issued while another is
// in progress waits for it. Init and Release must not be called concurrently
// with each other.
type Pipeline struct {
	adapter      gpucore.Adapter
	ownsAdapter  bool
	poolCapacity int
	metrics      *metrics

	sem *semaphore.Weighted

	mu       sync.Mutex
	state    pipelineState
	pool     *gpucore.TexturePool
	sequence []Node
}

// New creates an empty pipeline.
func New(opts ...Option) (*Pipeline, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.poolCapacity < 0 {
		return nil, vision.InvalidArgument("pipeline: pool capacity %d", o.poolCapacity)
	}

	p := &Pipeline{
		adapter:      o.adapter,
		poolCapacity: o.poolCapacity,
		sem:          semaphore.NewWeighted(1),
	}
	if p.adapter == nil {
		p.adapter = gpucore.NewSoftwareAdapter()
		p.ownsAdapter = true
	}
	if o.registerer != nil {
		m, err := newMetrics(o.registerer)
		if err != nil {
			return nil, fmt.Errorf("pipeline: register metrics: %w", err)
		}
		p.metrics = m
	}
	return p, nil
}

// Init sorts the nodes, validates the sequence and initializes every node
// in order. Duplicate nodes are ignored. Every node linked to an input port
// of another node must be given.
//
// When Init fails, every node is left Unbound: the caller may fix the
// configuration and call Init again with the same nodes.
func (p *Pipeline) Init(nodes ...Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateNew {
		return vision.IllegalOperation("pipeline: pipeline has already been initialized")
	}
	if len(nodes) == 0 {
		return vision.InvalidArgument("pipeline: can't initialize a pipeline with no nodes")
	}

	var unique []Node
	for _, n := range nodes {
		if n == nil {
			return vision.InvalidArgument("pipeline: nil node")
		}
		if !slices.ContainsFunc(unique, func(m Node) bool { return m.base() == n.base() }) {
			unique = append(unique, n)
		}
	}

	seq, err := sortNodes(unique)
	if err != nil {
		return err
	}
	if err := validateSequence(seq); err != nil {
		return err
	}
	if err := checkSinkNames(seq); err != nil {
		return err
	}
	if err := checkPortals(seq, false); err != nil {
		return err
	}

	pool, err := gpucore.NewTexturePool(p.adapter, p.poolCapacity)
	if err != nil {
		return err
	}

	for i, n := range seq {
		if err := n.Init(pool); err != nil {
			return multierr.Append(err, rollback(seq[:i], pool))
		}
	}
	// A portal written by a node of this pipeline opens during the loop.
	if err := checkPortals(seq, true); err != nil {
		return multierr.Append(err, rollback(seq, pool))
	}

	p.pool, p.sequence, p.state = pool, seq, stateInitialized
	vision.Logger().Info("pipeline: initialized", "nodes", len(seq), "pool", pool.Capacity())
	return nil
}

func checkSinkNames(seq []Node) error {
	seen := make(map[string]bool)
	for _, n := range seq {
		if !isSink(n) {
			continue
		}
		if seen[n.Name()] {
			return vision.IllegalOperation("pipeline: two sinks named %q", n.Name())
		}
		seen[n.Name()] = true
	}
	return nil
}

// checkPortals reports a portal reader without a portal and, when
// requireOpen is set, one whose portal is closed.
func checkPortals(seq []Node, requireOpen bool) error {
	for _, n := range seq {
		r, ok := n.(PortalReader)
		if !ok {
			continue
		}
		for _, portal := range r.Portals() {
			if portal == nil {
				return vision.IllegalOperation("pipeline: %s has no portal to read", n.base())
			}
			if requireOpen && !portal.IsOpen() {
				return vision.IllegalOperation("pipeline: %s reads a portal that is not initialized", n.base())
			}
		}
	}
	return nil
}

// rollback undoes a failed Init: nodes are released in reverse order and
// returned to Unbound, then the pool is released. The nodes can be given to
// Init again.
func rollback(seq []Node, pool *gpucore.TexturePool) error {
	var err error
	for i := len(seq) - 1; i >= 0; i-- {
		err = multierr.Append(err, seq[i].Release(pool))
		seq[i].base().unbind()
	}
	return multierr.Append(err, pool.Release())
}

// releaseAll releases nodes in reverse order, then the pool.
func releaseAll(seq []Node, pool *gpucore.TexturePool) error {
	var err error
	for i := len(seq) - 1; i >= 0; i-- {
		err = multierr.Append(err, seq[i].Release(pool))
	}
	return multierr.Append(err, pool.Release())
}

// Run executes every node in order, awaiting asynchronous steps before the
// next node starts, then exports the result of each sink keyed by its name.
// Ports are cleared when the run ends, whether it failed or not.
//
// ctx bounds the wait for a busy pipeline and for readbacks.
func (p *Pipeline) Run(ctx context.Context) (map[string]any, error) {
	if !p.sem.TryAcquire(1) {
		vision.Logger().Warn("pipeline: busy, run deferred")
		p.metrics.queue(1)
		err := p.sem.Acquire(ctx, 1)
		p.metrics.queue(-1)
		if err != nil {
			return nil, err
		}
	}
	defer p.sem.Release(1)

	p.mu.Lock()
	state, pool, seq := p.state, p.pool, p.sequence
	p.mu.Unlock()
	if state != stateInitialized {
		return nil, vision.IllegalOperation("pipeline: run of a pipeline that is not initialized")
	}

	start := time.Now()
	defer func() {
		for i := len(seq) - 1; i >= 0; i-- {
			seq[i].base().ClearPorts()
		}
		p.metrics.texturesInUse(pool.InUse())
	}()

	results, err := p.run(ctx, pool, seq)
	p.metrics.observeRun(start, err)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Pipeline) run(ctx context.Context, pool *gpucore.TexturePool, seq []Node) (map[string]any, error) {
	for _, n := range seq {
		start := time.Now()
		fut, err := n.Execute(ctx, pool)
		if err == nil && fut != nil {
			err = fut.Await(ctx)
		}
		p.metrics.observeNode(n.Name(), start)
		if err != nil {
			return nil, err
		}
	}

	var (
		mu      sync.Mutex
		results = make(map[string]any)
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range seq {
		if !isSink(n) {
			continue
		}
		e := n.(Exporter)
		g.Go(func() error {
			v, err := e.Export(gctx)
			if err != nil {
				return fmt.Errorf("pipeline: export %s: %w", n.base(), err)
			}
			mu.Lock()
			results[n.Name()] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Release waits for the run in progress, releases the nodes in reverse
// order and then the texture pool.
func (p *Pipeline) Release() error {
	if err := p.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateInitialized {
		return vision.IllegalOperation("pipeline: release of a pipeline that is not initialized")
	}
	p.state = stateReleased

	err := releaseAll(p.sequence, p.pool)
	if c, ok := p.adapter.(interface{ Close() }); ok && p.ownsAdapter {
		c.Close()
	}
	vision.Logger().Info("pipeline: released", "nodes", len(p.sequence))
	return err
}

// Node returns the node with the given name, or nil.
func (p *Pipeline) Node(name string) Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.sequence {
		if n.Name() == name {
			return n
		}
	}
	return nil
}

// Sequence returns the nodes in execution order.
func (p *Pipeline) Sequence() []Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sequence)
}

// Pool returns the texture pool, or nil before Init.
func (p *Pipeline) Pool() *gpucore.TexturePool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool
}
