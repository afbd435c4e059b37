package pipeline

import (
	"strconv"
	"sync/atomic"
)

// IDs allocates node identifiers. Create one per graph and pass it to every
// node constructor of that graph. The zero value is ready to use.
type IDs struct {
	next atomic.Int64
}

// Next returns a fresh identifier, starting at 1.
func (ids *IDs) Next() int {
	return int(ids.next.Add(1))
}

// defaultName names a node that was given no name.
func defaultName(id int) string {
	return "node" + strconv.Itoa(id)
}
