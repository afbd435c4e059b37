package pipeline

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gogpu/vision"
)

// testNode is a node whose task is given by the test. It exports "name"
// when it has no outputs.
type testNode struct {
	*Base
}

func (n *testNode) Export(context.Context) (any, error) { return n.Name(), nil }

func newNode(t *testing.T, ids *IDs, name string, textures int, task Task, ports ...PortSpec) *testNode {
	t.Helper()
	b, err := NewBase(ids, name, textures, task, ports...)
	assert.NoError(t, err)
	return &testNode{Base: b}
}

// emit writes private texture 0 as an image to every output port.
func emit(_ context.Context, x *Exec) (Future, error) {
	m, err := ImageMessage(x.Texture(0), RGBA)
	if err != nil {
		return nil, err
	}
	for _, p := range x.Node().OutputPorts() {
		if err := x.Write(p.Name(), m); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// forward copies the first input message to every output port.
func forward(_ context.Context, x *Exec) (Future, error) {
	m, err := x.Read(x.Node().InputPorts()[0].Name())
	if err != nil {
		return nil, err
	}
	for _, p := range x.Node().OutputPorts() {
		if err := x.Write(p.Name(), m); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func source(t *testing.T, ids *IDs, name string) *testNode {
	return newNode(t, ids, name, 1, emit, Out("").Expects(KindImage))
}

func relay(t *testing.T, ids *IDs, name string, inputs ...string) *testNode {
	ports := []PortSpec{Out("").Expects(KindImage)}
	for _, in := range inputs {
		ports = append(ports, In(in).Expects(KindImage))
	}
	return newNode(t, ids, name, 0, forward, ports...)
}

func sink(t *testing.T, ids *IDs, name string) *testNode {
	return newNode(t, ids, name, 0, forward, In("").Expects(KindImage))
}

func connect(t *testing.T, from, to Node, input string) {
	t.Helper()
	assert.NoError(t, from.Output("").ConnectTo(to.Input(input)))
}

func newPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(opts...)
	assert.NoError(t, err)
	return p
}

func names(seq []Node) []string {
	out := make([]string, len(seq))
	for i, n := range seq {
		out[i] = n.Name()
	}
	return out
}

func TestNewBase(t *testing.T) {
	ids := new(IDs)

	_, err := NewBase(ids, "x", 0, nil, Out("").Expects(KindImage))
	assert.True(t, errors.Is(err, vision.ErrAbstractMethod))

	_, err = NewBase(ids, "x", 0, forward)
	assert.True(t, errors.Is(err, vision.ErrInvalidArgument))

	_, err = NewBase(ids, "x", 0, forward, Out(""))
	assert.True(t, errors.Is(err, vision.ErrInvalidArgument))

	_, err = NewBase(ids, "x", 0, forward, In("a").Expects(KindImage), In("a").Expects(KindImage))
	assert.True(t, errors.Is(err, vision.ErrInvalidArgument))

	_, err = NewBase(nil, "x", 0, forward, Out("").Expects(KindImage))
	assert.True(t, errors.Is(err, vision.ErrInvalidArgument))

	a, err := NewBase(ids, "", 0, forward, Out("").Expects(KindImage))
	assert.NoError(t, err)
	b, err := NewBase(ids, "", 0, forward, Out("").Expects(KindImage))
	assert.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotEqual(t, a.Name(), b.Name())
}

func TestPortConnectTo(t *testing.T) {
	ids := new(IDs)
	src := source(t, ids, "src")
	other := source(t, ids, "other")
	snk := sink(t, ids, "sink")
	kp := newNode(t, ids, "kp", 0, forward, In("").Expects(KindKeypoints))

	tests := []struct {
		name     string
		from, to *Port
		want     error
	}{
		{"unknown port", src.Output("missing"), snk.Input(""), vision.ErrInvalidArgument},
		{"input as source", snk.Input(""), snk.Input(""), vision.ErrIllegalOperation},
		{"output as target", src.Output(""), other.Output(""), vision.ErrIllegalOperation},
		{"kind mismatch", src.Output(""), kp.Input(""), vision.ErrIllegalOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.from.ConnectTo(tt.to)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	assert.NoError(t, src.Output("").ConnectTo(snk.Input("")))
	assert.NoError(t, src.Output("").ConnectTo(snk.Input("")), "relinking the same ports")
	err := other.Output("").ConnectTo(snk.Input(""))
	assert.True(t, errors.Is(err, vision.ErrIllegalOperation))
	assert.Equal(t, src.Output(""), snk.Input("").Link())
}

func TestInit_TopologicalOrder(t *testing.T) {
	// a -> b -> d -> sink
	// a -> c -> d
	ids := new(IDs)
	a := source(t, ids, "a")
	b := relay(t, ids, "b", "in")
	c := relay(t, ids, "c", "in")
	d := relay(t, ids, "d", "in0", "in1")
	s := sink(t, ids, "sink")
	connect(t, a, b, "in")
	connect(t, a, c, "in")
	connect(t, b, d, "in0")
	connect(t, c, d, "in1")
	connect(t, d, s, "")

	p := newPipeline(t)
	assert.NoError(t, p.Init(s, d, c, b, a, d))
	t.Cleanup(func() { assert.NoError(t, p.Release()) })

	seq := names(p.Sequence())
	assert.Equal(t, 5, len(seq))
	pos := func(name string) int { return slices.Index(seq, name) }
	edges := [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}, {"d", "sink"}}
	for _, e := range edges {
		assert.True(t, pos(e[0]) < pos(e[1]), "%s must run before %s in %v", e[0], e[1], seq)
	}
	assert.Equal(t, "a", seq[0])
	assert.Equal(t, Node(d), p.Node("d"))
	assert.Zero(t, p.Node("nope"))
}

func TestInit_RejectsCycles(t *testing.T) {
	t.Run("through two nodes", func(t *testing.T) {
		ids := new(IDs)
		a := source(t, ids, "a")
		b := relay(t, ids, "b", "in0", "in1")
		c := relay(t, ids, "c", "in")
		s := sink(t, ids, "sink")
		connect(t, a, b, "in0")
		connect(t, b, c, "in")
		connect(t, c, b, "in1")
		connect(t, c, s, "")

		ran := false
		spy := newNode(t, ids, "spy", 0, func(context.Context, *Exec) (Future, error) {
			ran = true
			return nil, nil
		}, In("").Expects(KindImage))
		connect(t, a, spy, "")

		p := newPipeline(t)
		err := p.Init(a, b, c, s, spy)
		assert.True(t, errors.Is(err, vision.ErrCycleDetected), "got %v", err)
		assert.True(t, errors.Is(err, vision.ErrIllegalOperation))
		assert.False(t, ran)
		assert.Equal(t, Unbound, a.State())
	})

	t.Run("self loop", func(t *testing.T) {
		ids := new(IDs)
		a := source(t, ids, "a")
		b := relay(t, ids, "b", "in0", "in1")
		s := sink(t, ids, "sink")
		connect(t, a, b, "in0")
		connect(t, b, b, "in1")
		connect(t, b, s, "")

		err := newPipeline(t).Init(a, b, s)
		assert.True(t, errors.Is(err, vision.ErrCycleDetected), "got %v", err)
	})
}

func TestInit_Validation(t *testing.T) {
	ids := new(IDs)

	t.Run("empty", func(t *testing.T) {
		err := newPipeline(t).Init()
		assert.True(t, errors.Is(err, vision.ErrInvalidArgument))
	})

	t.Run("missing upstream node", func(t *testing.T) {
		a := source(t, ids, "a")
		s := sink(t, ids, "sink")
		connect(t, a, s, "")
		err := newPipeline(t).Init(s)
		assert.True(t, errors.Is(err, vision.ErrIllegalOperation))
		assert.Contains(t, err.Error(), "forget")
	})

	t.Run("no sink", func(t *testing.T) {
		a := source(t, ids, "a")
		err := newPipeline(t).Init(a)
		assert.True(t, errors.Is(err, vision.ErrIllegalOperation))
	})

	t.Run("first node not a source", func(t *testing.T) {
		s := sink(t, ids, "sink")
		err := newPipeline(t).Init(s)
		assert.True(t, errors.Is(err, vision.ErrIllegalOperation))
	})

	t.Run("duplicate sink names", func(t *testing.T) {
		a := source(t, ids, "a")
		s1, s2 := sink(t, ids, "out"), sink(t, ids, "out")
		connect(t, a, s1, "")
		connect(t, a, s2, "")
		err := newPipeline(t).Init(a, s1, s2)
		assert.True(t, errors.Is(err, vision.ErrIllegalOperation))
	})

	t.Run("twice", func(t *testing.T) {
		a := source(t, ids, "a")
		s := sink(t, ids, "sink")
		connect(t, a, s, "")
		p := newPipeline(t)
		assert.NoError(t, p.Init(a, s))
		err := p.Init(a, s)
		assert.True(t, errors.Is(err, vision.ErrIllegalOperation))
		assert.NoError(t, p.Release())
	})

	t.Run("pool exhausted", func(t *testing.T) {
		a, b := source(t, ids, "a"), source(t, ids, "b")
		s := sink(t, ids, "sink")
		connect(t, a, s, "")
		p := newPipeline(t, WithPoolCapacity(1))
		err := p.Init(a, b, s)
		assert.True(t, errors.Is(err, vision.ErrOutOfMemory), "got %v", err)
		assert.Equal(t, Unbound, a.State())
		assert.Equal(t, Unbound, b.State())

		// The same nodes initialize once the pool is large enough.
		p = newPipeline(t, WithPoolCapacity(2))
		assert.NoError(t, p.Init(a, b, s))
		assert.Equal(t, Initialized, a.State())
		assert.NoError(t, p.Release())
	})
}

func TestRun(t *testing.T) {
	ids := new(IDs)
	a := source(t, ids, "a")
	b := relay(t, ids, "b", "in")
	s1 := sink(t, ids, "left")
	s2 := sink(t, ids, "right")
	connect(t, a, b, "in")
	connect(t, b, s1, "")
	connect(t, a, s2, "")

	reg := prometheus.NewRegistry()
	p := newPipeline(t, WithMetrics(reg))
	assert.NoError(t, p.Init(a, b, s1, s2))

	for range 3 {
		results, err := p.Run(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, map[string]any{"left": "left", "right": "right"}, results)
		for _, n := range p.Sequence() {
			for _, port := range slices.Concat(n.base().InputPorts(), n.base().OutputPorts()) {
				assert.True(t, port.msg.IsEmpty(), "port %s keeps a message after the run", port)
			}
		}
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(p.metrics.runs.WithLabelValues("ok")))
	assert.Equal(t, 1, p.Pool().InUse())

	assert.NoError(t, p.Release())
	assert.Equal(t, Released, a.State())

	_, err := p.Run(context.Background())
	assert.True(t, errors.Is(err, vision.ErrIllegalOperation))
	assert.True(t, errors.Is(p.Release(), vision.ErrIllegalOperation))
}

func TestRun_EmptyOutputPort(t *testing.T) {
	ids := new(IDs)
	a := source(t, ids, "a")
	lazy := newNode(t, ids, "lazy", 0, func(context.Context, *Exec) (Future, error) {
		return nil, nil
	}, In("").Expects(KindImage), Out("").Expects(KindImage))
	s := sink(t, ids, "sink")
	connect(t, a, lazy, "")
	connect(t, lazy, s, "")

	p := newPipeline(t)
	assert.NoError(t, p.Init(a, lazy, s))
	defer p.Release()

	_, err := p.Run(context.Background())
	assert.True(t, errors.Is(err, vision.ErrIllegalOperation))
	assert.Contains(t, err.Error(), "wrote no data")
}

func TestRun_UnlinkedInput(t *testing.T) {
	ids := new(IDs)
	a := source(t, ids, "a")
	b := relay(t, ids, "b", "in0", "in1")
	s := sink(t, ids, "sink")
	connect(t, a, b, "in0")
	connect(t, b, s, "")

	p := newPipeline(t)
	assert.NoError(t, p.Init(a, b, s))
	defer p.Release()

	_, err := p.Run(context.Background())
	assert.True(t, errors.Is(err, vision.ErrIllegalOperation))
	assert.Contains(t, err.Error(), "no incoming link")
}

func TestRun_PredicateRejectsMessage(t *testing.T) {
	ids := new(IDs)
	a := source(t, ids, "a")
	picky := newNode(t, ids, "picky", 0, forward,
		In("").Expects(KindImage).Satisfying(func(m Message) bool {
			_, format, _ := m.Image()
			return format == Greyscale
		}))
	connect(t, a, picky, "")

	p := newPipeline(t)
	assert.NoError(t, p.Init(a, picky))
	defer p.Release()

	_, err := p.Run(context.Background())
	assert.True(t, errors.Is(err, vision.ErrIllegalOperation))
	assert.Contains(t, err.Error(), "rejected")
}

func TestRun_ReclaimsScratchOnFailure(t *testing.T) {
	boom := errors.New("boom")
	ids := new(IDs)
	a := source(t, ids, "a")
	leaky := newNode(t, ids, "leaky", 0, func(_ context.Context, x *Exec) (Future, error) {
		for range 3 {
			if _, err := x.AcquireScratch(); err != nil {
				return nil, err
			}
		}
		return nil, boom
	}, In("").Expects(KindImage))
	connect(t, a, leaky, "")

	p := newPipeline(t, WithPoolCapacity(4))
	assert.NoError(t, p.Init(a, leaky))
	defer p.Release()

	for range 3 {
		_, err := p.Run(context.Background())
		assert.True(t, errors.Is(err, boom))
		assert.Equal(t, 1, p.Pool().InUse())
	}
}

func TestRun_AsyncTask(t *testing.T) {
	ids := new(IDs)
	a := source(t, ids, "a")

	var order []string
	gate := make(chan struct{})
	slow := newNode(t, ids, "slow", 0, func(ctx context.Context, x *Exec) (Future, error) {
		m, err := x.Read("")
		if err != nil {
			return nil, err
		}
		return FutureFunc(func(ctx context.Context) error {
			<-gate
			order = append(order, "slow")
			return x.Write("", m)
		}), nil
	}, In("").Expects(KindImage), Out("").Expects(KindImage))
	after := newNode(t, ids, "after", 0, func(_ context.Context, x *Exec) (Future, error) {
		order = append(order, "after")
		return nil, nil
	}, In("").Expects(KindImage))
	connect(t, a, slow, "")
	connect(t, slow, after, "")

	p := newPipeline(t)
	assert.NoError(t, p.Init(a, slow, after))
	defer p.Release()

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(gate)
	}()
	_, err := p.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"slow", "after"}, order)
}

type callerKey struct{}

func TestRun_FIFO(t *testing.T) {
	const callers = 5

	var (
		mu    sync.Mutex
		order []int
	)
	gate := make(chan struct{})

	ids := new(IDs)
	a := newNode(t, ids, "a", 1, func(ctx context.Context, x *Exec) (Future, error) {
		i := ctx.Value(callerKey{}).(int)
		if i == 0 {
			<-gate
		}
		mu.Lock()
		order = append(order, i)
		mu.Unlock()
		return emit(ctx, x)
	}, Out("").Expects(KindImage))
	s := sink(t, ids, "sink")
	connect(t, a, s, "")

	p := newPipeline(t, WithMetrics(prometheus.NewRegistry()))
	assert.NoError(t, p.Init(a, s))
	defer p.Release()

	var wg sync.WaitGroup
	run := func(i int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Run(context.WithValue(context.Background(), callerKey{}, i))
			assert.NoError(t, err)
		}()
	}

	// Caller 0 holds the pipeline until the gate opens; the others queue up
	// one at a time behind it.
	run(0)
	time.Sleep(10 * time.Millisecond)
	for i := 1; i < callers; i++ {
		run(i)
		waitFor(t, func() bool { return testutil.ToFloat64(p.metrics.queued) == float64(i) })
		time.Sleep(10 * time.Millisecond)
	}
	close(gate)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRun_ContextCanceledWhileQueued(t *testing.T) {
	gate := make(chan struct{})
	ids := new(IDs)
	a := newNode(t, ids, "a", 1, func(ctx context.Context, x *Exec) (Future, error) {
		<-gate
		return emit(ctx, x)
	}, Out("").Expects(KindImage))
	s := sink(t, ids, "sink")
	connect(t, a, s, "")

	p := newPipeline(t)
	assert.NoError(t, p.Init(a, s))
	defer p.Release()

	done := make(chan error)
	go func() {
		_, err := p.Run(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(gate)
	assert.NoError(t, <-done)
}

func TestNodeLifecycle(t *testing.T) {
	ids := new(IDs)
	a := source(t, ids, "a")
	p := newPipeline(t)
	_, err := a.Execute(context.Background(), nil)
	assert.True(t, errors.Is(err, vision.ErrIllegalOperation))

	s := sink(t, ids, "sink")
	connect(t, a, s, "")
	assert.NoError(t, p.Init(a, s))
	pool := p.Pool()

	assert.True(t, errors.Is(a.Init(pool), vision.ErrIllegalOperation))
	assert.NoError(t, p.Release())

	_, err = a.Execute(context.Background(), pool)
	assert.True(t, errors.Is(err, vision.ErrIllegalOperation))
	assert.True(t, errors.Is(a.Release(pool), vision.ErrIllegalOperation))
}

func TestExecFreeScratch(t *testing.T) {
	ids := new(IDs)
	a := source(t, ids, "a")
	var freeErr error
	s := newNode(t, ids, "sink", 0, func(_ context.Context, x *Exec) (Future, error) {
		tex, err := x.AcquireScratch()
		if err != nil {
			return nil, err
		}
		if err := x.FreeScratch(tex); err != nil {
			return nil, err
		}
		freeErr = x.FreeScratch(tex)
		return nil, nil
	}, In("").Expects(KindImage))
	connect(t, a, s, "")

	p := newPipeline(t)
	assert.NoError(t, p.Init(a, s))
	defer p.Release()

	_, err := p.Run(context.Background())
	assert.NoError(t, err)
	assert.True(t, errors.Is(freeErr, vision.ErrIllegalOperation))
}
