package pipeline

import (
	"sync"

	"github.com/gogpu/vision"
)

// Portal carries the latest message of a portal sink to portal sources,
// possibly in another pipeline. It is a side channel: reading a portal does
// not create a graph edge, so it never takes part in dependency inference
// or cycle detection.
//
// A portal is open between the Init and the Release of its writer. Reading
// a closed portal is an illegal operation.
type Portal struct {
	mu   sync.RWMutex
	name string
	kind MessageKind
	msg  Message
	open bool
}

// NewPortal returns a closed portal for messages of the given kind.
func NewPortal(name string, kind MessageKind) *Portal {
	return &Portal{name: name, kind: kind}
}

// Name returns the portal name.
func (p *Portal) Name() string { return p.name }

// Kind returns the message kind carried by the portal.
func (p *Portal) Kind() MessageKind { return p.kind }

// Publish stores m and opens the portal.
func (p *Portal) Publish(m Message) error {
	if m.Kind() != p.kind {
		return vision.IllegalOperation("pipeline: portal %s carries %s, got %s", p.name, p.kind, m.Kind())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msg, p.open = m, true
	return nil
}

// Close drops the message and closes the portal.
func (p *Portal) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msg, p.open = Message{}, false
}

// IsOpen reports whether the portal holds data.
func (p *Portal) IsOpen() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.open
}

// Read returns the latest published message.
func (p *Portal) Read() (Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.open {
		return Message{}, vision.IllegalOperation("pipeline: portal %s holds no data", p.name)
	}
	return p.msg, nil
}
