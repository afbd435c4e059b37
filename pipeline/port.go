package pipeline

import (
	"github.com/gogpu/vision"
)

// Default port names.
const (
	DefaultInput  = "in"
	DefaultOutput = "out"
)

// Predicate constrains the messages an input port accepts.
type Predicate func(Message) bool

// PortSpec declares a port of a node.
//
//	In("in").Expects(KindKeypoints).Satisfying(hasDescriptors)
//	Out("out").Expects(KindKeypoints)
type PortSpec struct {
	name  string
	input bool
	kind  MessageKind
	pred  Predicate
}

// In declares an input port. An empty name selects DefaultInput.
func In(name string) PortSpec {
	if name == "" {
		name = DefaultInput
	}
	return PortSpec{name: name, input: true}
}

// Out declares an output port. An empty name selects DefaultOutput.
func Out(name string) PortSpec {
	if name == "" {
		name = DefaultOutput
	}
	return PortSpec{name: name}
}

// Expects sets the message kind the port carries.
func (s PortSpec) Expects(kind MessageKind) PortSpec {
	s.kind = kind
	return s
}

// Satisfying adds a constraint on incoming messages. It only applies to
// input ports.
func (s PortSpec) Satisfying(pred Predicate) PortSpec {
	s.pred = pred
	return s
}

// Name returns the port name.
func (s PortSpec) Name() string { return s.name }

func (s PortSpec) validate() error {
	if s.kind == KindNothing {
		return vision.InvalidArgument("pipeline: port %q expects no message kind", s.name)
	}
	if s.pred != nil && !s.input {
		return vision.InvalidArgument("pipeline: output port %q with a message constraint", s.name)
	}
	return nil
}

func (s PortSpec) accepts(m Message) bool {
	return m.Kind() == s.kind && (s.pred == nil || s.pred(m))
}

// Port is an input or output port of a node.
//
// An output port holds the message its node wrote during the current run.
// An input port has at most one incoming link; before its node executes it
// pulls the message of the linked output port.
type Port struct {
	spec  PortSpec
	owner *Base
	link  *Port
	msg   Message
}

// Name returns the port name.
func (p *Port) Name() string { return p.spec.name }

// Kind returns the message kind carried by the port.
func (p *Port) Kind() MessageKind { return p.spec.kind }

// IsInput reports whether p is an input port.
func (p *Port) IsInput() bool { return p.spec.input }

// Link returns the output port linked to input port p, or nil.
func (p *Port) Link() *Port { return p.link }

// ConnectTo links output port p to input port dst.
func (p *Port) ConnectTo(dst *Port) error {
	if p == nil || dst == nil {
		return vision.InvalidArgument("pipeline: connecting an unknown port")
	}
	if p.spec.input {
		return vision.IllegalOperation("pipeline: %s is an input port and cannot feed %s", p, dst)
	}
	if !dst.spec.input {
		return vision.IllegalOperation("pipeline: %s is an output port and cannot be fed by %s", dst, p)
	}
	if p.spec.kind != dst.spec.kind {
		return vision.IllegalOperation("pipeline: can't connect %s (%s) to %s (%s)", p, p.spec.kind, dst, dst.spec.kind)
	}
	if dst.link != nil && dst.link != p {
		return vision.IllegalOperation("pipeline: %s is already linked to %s", dst, dst.link)
	}
	dst.link = p
	return nil
}

// Disconnect removes the incoming link of input port p.
func (p *Port) Disconnect() {
	p.link = nil
}

// String returns "node.port".
func (p *Port) String() string {
	if p.owner == nil {
		return p.spec.name
	}
	return p.owner.name + "." + p.spec.name
}

// pull copies the message of the linked output port into p.
func (p *Port) pull() error {
	if p.link == nil {
		return vision.IllegalOperation("pipeline: no incoming link for input port %s", p)
	}
	m := p.link.msg
	if m.IsEmpty() {
		return vision.IllegalOperation("pipeline: input port %s pulled no message from %s", p, p.link)
	}
	if !p.spec.accepts(m) {
		return vision.IllegalOperation("pipeline: input port %s rejected a %s message from %s", p, m.Kind(), p.link)
	}
	p.msg = m
	return nil
}

// write stores a message in output port p.
func (p *Port) write(m Message) error {
	if p.spec.input {
		return vision.IllegalOperation("pipeline: can't write to input port %s", p)
	}
	if m.Kind() != p.spec.kind {
		return vision.IllegalOperation("pipeline: output port %s expects %s, got %s", p, p.spec.kind, m.Kind())
	}
	p.msg = m
	return nil
}

// read returns the message held by p.
func (p *Port) read() (Message, error) {
	if p.msg.IsEmpty() {
		return Message{}, vision.IllegalOperation("pipeline: port %s holds no message", p)
	}
	return p.msg, nil
}

func (p *Port) clear() {
	p.msg = Message{}
}
