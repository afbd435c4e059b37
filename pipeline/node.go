package pipeline

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/multierr"

	"github.com/gogpu/vision"
	"github.com/gogpu/vision/gpucore"
)

// State is the lifecycle state of a node.
type State int

const (
	// Unbound nodes have no resources yet.
	Unbound State = iota
	// Initialized nodes own their private textures and may execute.
	Initialized
	// Released nodes gave their textures back. The state is terminal,
	// except that a failed Pipeline.Init returns its nodes to Unbound.
	Released
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Initialized:
		return "initialized"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Task is the node-specific part of an execution. It reads its inputs and
// writes its outputs through x. A task that finishes synchronously returns
// a nil Future.
type Task func(ctx context.Context, x *Exec) (Future, error)

// Node is a vertex of a pipeline.
//
// Concrete nodes embed *Base, which implements the lifecycle. A node may
// override Init or Release to set up extra state, calling the Base method
// first (Init) or last (Release).
type Node interface {
	ID() int
	Name() string
	State() State
	Input(name string) *Port
	Output(name string) *Port

	Init(pool *gpucore.TexturePool) error
	Execute(ctx context.Context, pool *gpucore.TexturePool) (Future, error)
	Release(pool *gpucore.TexturePool) error

	base() *Base
}

// Exporter is implemented by sink nodes. Export returns the result of the
// last run; the pipeline collects it under the node name.
type Exporter interface {
	Export(ctx context.Context) (any, error)
}

// PortalReader is implemented by nodes that read a Portal. The pipeline
// checks that every portal is open before the first run.
type PortalReader interface {
	Portals() []*Portal
}

// Base implements the lifecycle shared by all nodes.
type Base struct {
	id       int
	name     string
	inputs   []*Port
	outputs  []*Port
	textures []*gpucore.Texture
	task     Task
	state    State
}

// NewBase creates the common part of a node with the given number of
// private textures. The textures are allocated by Init and freed by
// Release; the task may use them through Exec.Texture.
func NewBase(ids *IDs, name string, textures int, task Task, ports ...PortSpec) (*Base, error) {
	if ids == nil {
		return nil, vision.InvalidArgument("pipeline: node %q without an ID allocator", name)
	}
	if task == nil {
		return nil, fmt.Errorf("%w: node %q has no task", vision.ErrAbstractMethod, name)
	}
	if textures < 0 {
		return nil, vision.InvalidArgument("pipeline: node %q with %d private textures", name, textures)
	}
	if len(ports) == 0 {
		return nil, vision.InvalidArgument("pipeline: node %q has no ports", name)
	}

	b := &Base{id: ids.Next(), name: name, task: task, textures: make([]*gpucore.Texture, textures)}
	if b.name == "" {
		b.name = defaultName(b.id)
	}

	seen := make(map[string]bool, len(ports))
	for _, spec := range ports {
		if err := spec.validate(); err != nil {
			return nil, fmt.Errorf("%w (node %s)", err, b.name)
		}
		key := fmt.Sprintf("%t/%s", spec.input, spec.name)
		if seen[key] {
			return nil, vision.InvalidArgument("pipeline: duplicate port %q in node %s", spec.name, b.name)
		}
		seen[key] = true

		p := &Port{spec: spec, owner: b}
		if spec.input {
			b.inputs = append(b.inputs, p)
		} else {
			b.outputs = append(b.outputs, p)
		}
	}
	return b, nil
}

func (b *Base) base() *Base { return b }

// ID returns the node identifier.
func (b *Base) ID() int { return b.id }

// Name returns the node name.
func (b *Base) Name() string { return b.name }

// State returns the lifecycle state.
func (b *Base) State() State { return b.state }

// String returns "name#id".
func (b *Base) String() string { return fmt.Sprintf("%s#%d", b.name, b.id) }

// Input returns the named input port, or nil. An empty name selects
// DefaultInput.
func (b *Base) Input(name string) *Port {
	if name == "" {
		name = DefaultInput
	}
	for _, p := range b.inputs {
		if p.spec.name == name {
			return p
		}
	}
	return nil
}

// Output returns the named output port, or nil. An empty name selects
// DefaultOutput.
func (b *Base) Output(name string) *Port {
	if name == "" {
		name = DefaultOutput
	}
	for _, p := range b.outputs {
		if p.spec.name == name {
			return p
		}
	}
	return nil
}

// InputPorts returns the input ports in declaration order.
func (b *Base) InputPorts() []*Port { return slices.Clone(b.inputs) }

// OutputPorts returns the output ports in declaration order.
func (b *Base) OutputPorts() []*Port { return slices.Clone(b.outputs) }

// Texture returns private texture i, or nil when the node is not
// initialized.
func (b *Base) Texture(i int) *gpucore.Texture {
	if i < 0 || i >= len(b.textures) {
		return nil
	}
	return b.textures[i]
}

// IsSource reports whether the node has no input ports.
func (b *Base) IsSource() bool { return len(b.inputs) == 0 }

// Init allocates the private textures.
func (b *Base) Init(pool *gpucore.TexturePool) error {
	if b.state != Unbound {
		return vision.IllegalOperation("pipeline: can't initialize %s node %s", b.state, b)
	}
	for i := range b.textures {
		t, err := pool.Allocate()
		if err != nil {
			return multierr.Append(fmt.Errorf("pipeline: init %s: %w", b, err), b.freeTextures(pool))
		}
		b.textures[i] = t
	}
	b.state = Initialized
	return nil
}

// Release frees the private textures in reverse order.
func (b *Base) Release(pool *gpucore.TexturePool) error {
	if b.state != Initialized {
		return vision.IllegalOperation("pipeline: can't release %s node %s", b.state, b)
	}
	b.state = Released
	b.ClearPorts()
	return b.freeTextures(pool)
}

// Unwind undoes Base.Init for an Init override that fails after it: the
// ports are cleared, the private textures freed and the node is Unbound
// again.
func (b *Base) Unwind(pool *gpucore.TexturePool) error {
	if b.state != Initialized {
		return vision.IllegalOperation("pipeline: can't unwind %s node %s", b.state, b)
	}
	b.state = Unbound
	b.ClearPorts()
	return b.freeTextures(pool)
}

// unbind returns a released node to Unbound. Release has freed its
// textures already.
func (b *Base) unbind() {
	if b.state == Released {
		b.state = Unbound
	}
}

func (b *Base) freeTextures(pool *gpucore.TexturePool) error {
	var err error
	for i := len(b.textures) - 1; i >= 0; i-- {
		if b.textures[i] != nil {
			err = multierr.Append(err, pool.Free(b.textures[i]))
			b.textures[i] = nil
		}
	}
	return err
}

// Execute clears the output ports, pulls every input port and runs the
// task. Every output port must hold a message once the task is done; for an
// asynchronous task this is checked when the returned Future completes.
//
// Scratch textures the task did not free are returned to the pool before
// Execute (or the Future) returns.
func (b *Base) Execute(ctx context.Context, pool *gpucore.TexturePool) (Future, error) {
	if b.state != Initialized {
		return nil, vision.IllegalOperation("pipeline: can't execute %s node %s", b.state, b)
	}
	for _, p := range b.outputs {
		p.clear()
	}
	for _, p := range b.inputs {
		if err := p.pull(); err != nil {
			return nil, err
		}
	}

	x := &Exec{node: b, pool: pool}
	vision.Logger().Debug("pipeline: execute", "node", b.name, "id", b.id)

	fut, err := b.task(ctx, x)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("pipeline: %s: %w", b, err), x.reclaim(true))
	}
	if fut == nil {
		return nil, x.finish(nil)
	}
	return FutureFunc(func(ctx context.Context) error {
		if err := fut.Await(ctx); err != nil {
			return multierr.Append(fmt.Errorf("pipeline: %s: %w", b, err), x.reclaim(true))
		}
		return x.finish(nil)
	}), nil
}

// ClearPorts drops every message held by the ports of the node.
func (b *Base) ClearPorts() {
	for _, p := range b.inputs {
		p.clear()
	}
	for _, p := range b.outputs {
		p.clear()
	}
}

// upstream returns the nodes linked to the input ports.
func (b *Base) upstream() []*Base {
	var nodes []*Base
	for _, p := range b.inputs {
		if p.link != nil && !slices.Contains(nodes, p.link.owner) {
			nodes = append(nodes, p.link.owner)
		}
	}
	return nodes
}

// Exec is the view of a node execution given to its task. It implements
// streamops.Env; scratch textures are tracked per execution.
type Exec struct {
	node    *Base
	pool    *gpucore.TexturePool
	scratch []*gpucore.Texture
}

// Node returns the executing node.
func (x *Exec) Node() *Base { return x.node }

// Pool returns the texture pool.
func (x *Exec) Pool() *gpucore.TexturePool { return x.pool }

// Adapter returns the GPU adapter.
func (x *Exec) Adapter() gpucore.Adapter { return x.pool.Adapter() }

// Texture returns private texture i of the node.
func (x *Exec) Texture(i int) *gpucore.Texture { return x.node.Texture(i) }

// Read returns the message pulled by the named input port.
func (x *Exec) Read(port string) (Message, error) {
	p := x.node.Input(port)
	if p == nil {
		return Message{}, vision.InvalidArgument("pipeline: can't find input port %q in node %s", port, x.node)
	}
	return p.read()
}

// Write stores a message in the named output port.
func (x *Exec) Write(port string, m Message) error {
	p := x.node.Output(port)
	if p == nil {
		return vision.InvalidArgument("pipeline: can't find output port %q in node %s", port, x.node)
	}
	return p.write(m)
}

// AcquireScratch allocates a temporary texture from the pool.
func (x *Exec) AcquireScratch() (*gpucore.Texture, error) {
	t, err := x.pool.Allocate()
	if err != nil {
		return nil, err
	}
	x.scratch = append(x.scratch, t)
	return t, nil
}

// FreeScratch returns a texture obtained with AcquireScratch.
func (x *Exec) FreeScratch(t *gpucore.Texture) error {
	i := slices.Index(x.scratch, t)
	if i < 0 {
		return vision.IllegalOperation("pipeline: %s frees a texture it did not acquire", x.node)
	}
	x.scratch = slices.Delete(x.scratch, i, i+1)
	return x.pool.Free(t)
}

// finish checks the outputs and reclaims leftover scratch textures.
func (x *Exec) finish(err error) error {
	err = multierr.Append(err, x.reclaim(false))
	for _, p := range x.node.outputs {
		if p.msg.IsEmpty() {
			err = multierr.Append(err, vision.IllegalOperation("pipeline: %s wrote no data to output port %s", x.node, p.spec.name))
		}
	}
	return err
}

// reclaim frees scratch textures still held, newest first.
func (x *Exec) reclaim(failed bool) error {
	if len(x.scratch) == 0 {
		return nil
	}
	vision.Logger().Warn("pipeline: reclaiming scratch textures", "node", x.node.name, "count", len(x.scratch), "failed", failed)
	var err error
	for i := len(x.scratch) - 1; i >= 0; i-- {
		err = multierr.Append(err, x.pool.Free(x.scratch[i]))
	}
	x.scratch = nil
	return err
}
