/*package mpi is a small, MPI-shaped communication layer for a fixed-size group
of cooperating processes. The processes are goroutines inside a single Go
program, but the rules are the same ones MPI imposes: every collective
function must be called by every process in the group, in the same order,
before any of them returns. There are no timeouts. If one process never
reaches a collective call, the rest of the group waits forever.

Misusing a collective (mismatched buffer lengths, an invalid root) is a
programming error and panics, the same way the old cgo wrapper panicked on any
non-zero MPI error code.
*/
package mpi

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Comm is a single process's handle on its group. Rank() identifies the
// process and Size() gives the number of processes in the group.
type Comm struct {
	rank  int
	world *world
}

// world is the state shared by every Comm in a group. Each collective call is
// one "round": every rank deposits its contribution, the last rank to arrive
// publishes the full set of contributions, and everyone wakes up.
type world struct {
	mu      sync.Mutex
	cond    *sync.Cond
	size    int
	arrived int
	round   uint64
	slots   []interface{}
	result  []interface{}
}

// World creates a group of n connected communicators. comms[i].Rank() == i.
func World(n int) []*Comm {
	if n <= 0 {
		panic(fmt.Sprintf("mpi.World called with %d processes.", n))
	}

	w := &world{size: n, slots: make([]interface{}, n)}
	w.cond = sync.NewCond(&w.mu)

	comms := make([]*Comm, n)
	for i := range comms {
		comms[i] = &Comm{rank: i, world: w}
	}
	return comms
}

// Run starts a group of n processes, each running f with its own Comm, and
// waits for all of them to return. The first non-nil error is returned.
func Run(n int, f func(comm *Comm) error) error {
	g := &errgroup.Group{}
	for _, comm := range World(n) {
		comm := comm
		g.Go(func() error { return f(comm) })
	}
	return g.Wait()
}

// Rank returns the rank of this process within its group.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of processes in the group.
func (c *Comm) Size() int { return c.world.size }

// exchange is the primitive all collectives are built on. It blocks until
// every rank has called it and returns every rank's contribution, indexed by
// rank. The returned slice must not be modified.
func (c *Comm) exchange(x interface{}) []interface{} {
	w := c.world
	w.mu.Lock()
	defer w.mu.Unlock()

	round := w.round
	w.slots[c.rank] = x
	w.arrived++

	if w.arrived == w.size {
		w.result = w.slots
		w.slots = make([]interface{}, w.size)
		w.arrived = 0
		w.round++
		w.cond.Broadcast()
		return w.result
	}

	// The next round can't complete until this rank joins it, so result is
	// still ours when we wake up.
	for round == w.round {
		w.cond.Wait()
	}
	return w.result
}

func (c *Comm) checkRoot(root int) {
	if root < 0 || root >= c.Size() {
		panic(fmt.Sprintf("Root rank %d is not in a group of %d processes.",
			root, c.Size()))
	}
}

// Barrier blocks until every process in the group has called Barrier.
func (c *Comm) Barrier() {
	c.exchange(nil)
}

// BcastBytes copies root's buffer into every other process's buffer. All
// buffers must have the same length.
func (c *Comm) BcastBytes(buffer []byte, root int) {
	c.checkRoot(root)

	var send interface{}
	if c.rank == root {
		send = append([]byte{}, buffer...)
	}
	recv := c.exchange(send)[root].([]byte)

	if len(recv) != len(buffer) {
		panic(fmt.Sprintf("BcastBytes on rank %d has a buffer of length %d, "+
			"but root %d broadcast %d bytes.", c.rank, len(buffer), root,
			len(recv)))
	}
	copy(buffer, recv)
}

// BcastUint64s copies root's buffer into every other process's buffer. All
// buffers must have the same length.
func (c *Comm) BcastUint64s(buffer []uint64, root int) {
	b := make([]byte, 8*len(buffer))
	if c.rank == root {
		for i := range buffer {
			binary.LittleEndian.PutUint64(b[8*i:], buffer[i])
		}
	}
	c.BcastBytes(b, root)
	for i := range buffer {
		buffer[i] = binary.LittleEndian.Uint64(b[8*i:])
	}
}

// AllgatherBytes gives every process the send buffers of every process. send
// must have the same length on all processes. recv must have length
// len(send)*Size(), and rank i's buffer is placed at recv[i*len(send):].
func (c *Comm) AllgatherBytes(send, recv []byte) {
	if len(recv) != len(send)*c.Size() {
		panic(fmt.Sprintf("AllgatherBytes on rank %d has a receive buffer of "+
			"length %d, but needs %d*%d bytes.", c.rank, len(recv),
			len(send), c.Size()))
	}

	all := c.exchange(append([]byte{}, send...))
	for i := range all {
		b := all[i].([]byte)
		if len(b) != len(send) {
			panic(fmt.Sprintf("AllgatherBytes called with %d bytes on rank %d "+
				"and %d bytes on rank %d.", len(send), c.rank, len(b), i))
		}
		copy(recv[i*len(send):], b)
	}
}

// AllgatherUint64s is AllgatherBytes for []uint64 buffers.
func (c *Comm) AllgatherUint64s(send, recv []uint64) {
	if len(recv) != len(send)*c.Size() {
		panic(fmt.Sprintf("AllgatherUint64s on rank %d has a receive buffer "+
			"of length %d, but needs %d*%d values.", c.rank, len(recv),
			len(send), c.Size()))
	}

	all := c.exchange(append([]uint64{}, send...))
	for i := range all {
		x := all[i].([]uint64)
		if len(x) != len(send) {
			panic(fmt.Sprintf("AllgatherUint64s called with %d values on rank "+
				"%d and %d values on rank %d.", len(send), c.rank, len(x), i))
		}
		copy(recv[i*len(send):], x)
	}
}

// AllTrue returns true on every process if ok is true on every process.
func (c *Comm) AllTrue(ok bool) bool {
	flag := []byte{0}
	if ok {
		flag[0] = 1
	}
	flags := make([]byte, c.Size())
	c.AllgatherBytes(flag, flags)
	for _, f := range flags {
		if f == 0 {
			return false
		}
	}
	return true
}
