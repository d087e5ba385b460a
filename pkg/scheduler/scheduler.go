// Package scheduler implements the transmit scheduler: a single writer
// goroutine owning every outbound socket, draining
// four priority queues per transmit group under a token-bucket rate
// limiter, authenticating and obfuscating each message with Poly1305
// before it hits the wire.
package scheduler

import (
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	logpkg "github.com/blockstream/satellite-relay/pkg/log"
	"github.com/blockstream/satellite-relay/pkg/wire"
)

var log = logpkg.New("scheduler")

// maxConsecutiveTx bounds how many messages the writer drains from one
// group's queues before moving to the next group in the same pass.
const maxConsecutiveTx = 10

// Group is one transmit socket with its four priority queues and rate
// limiter. The queue set is constructed once and thereafter read-only.
type Group struct {
	Name string
	Conn *net.UDPConn
	Addr *net.UDPAddr

	limiter *RateLimiter
	magic   uint64
	queues  [numPriorities]*Queue
}

// NewGroup constructs a transmit group. magic seeds the Poly1305
// authenticator key shared with this group's peers; queueCapacity
// bounds each of the four priority ring buffers.
func NewGroup(name string, conn *net.UDPConn, addr *net.UDPAddr, limiter *RateLimiter, magic uint64, queueCapacity int, notify func()) *Group {
	g := &Group{Name: name, Conn: conn, Addr: addr, limiter: limiter, magic: magic}
	for i := range g.queues {
		g.queues[i] = newQueue(queueCapacity, notify)
	}
	return g
}

// Enqueue pushes a message onto the named priority's queue, blocking
// while that queue is full.
func (g *Group) Enqueue(priority Priority, o Outbound) bool {
	return g.queues[priority].PushBlocking(o)
}

// abort releases every blocked producer on this group's queues.
func (g *Group) abort() {
	for _, q := range g.queues {
		q.Abort()
	}
}

// QueueLen reports how many messages are currently queued at
// priority, for diagnostics and tests.
func (g *Group) QueueLen(priority Priority) int {
	return g.queues[priority].Len()
}

// Flush drains this group's queues in priority order until they are
// all empty or a send would block, returning how many messages were
// sent. Intended for tests and graceful-shutdown best-effort draining,
// not the writer's steady-state loop (Run uses drainOnePass directly).
func (g *Group) Flush() int {
	total := 0
	for {
		before := g.totalQueued()
		outcome, _ := g.drainOnePass()
		after := g.totalQueued()
		total += before - after
		if outcome == passEmpty || outcome == passBlocked {
			return total
		}
	}
}

func (g *Group) totalQueued() int {
	n := 0
	for _, q := range g.queues {
		n += q.Len()
	}
	return n
}

func (g *Group) peekHighest() (Priority, Outbound, bool) {
	for i, q := range g.queues {
		if o, ok := q.Peek(); ok {
			return Priority(i), o, true
		}
	}
	return 0, Outbound{}, false
}

type passOutcome int

const (
	passEmpty passOutcome = iota
	passBlocked
	passDrained
)

// drainOnePass emits up to maxConsecutiveTx messages from this group's
// highest-priority non-empty queue, reporting how the pass ended and,
// when rate-limited, when quota next becomes available.
func (g *Group) drainOnePass() (passOutcome, time.Time) {
	sent := 0
	for sent < maxConsecutiveTx {
		priority, o, ok := g.peekHighest()
		if !ok {
			if sent > 0 {
				return passDrained, time.Time{}
			}
			return passEmpty, time.Time{}
		}

		buf := marshalMessage(g.magic, o)
		n := len(buf)

		if !g.limiter.Unlimited() && !g.limiter.HasQuota(n) {
			wait := g.limiter.EstimateWait(n)
			if sent > 0 {
				return passDrained, time.Now().Add(wait)
			}
			return passBlocked, time.Now().Add(wait)
		}

		wouldBlock, err := trySend(g.Conn, g.Addr, buf)
		if err != nil {
			log.WithError(err).WithField("group", g.Name).Warn("dropping message after send error")
			g.queues[priority].Drop()
			continue
		}
		if wouldBlock {
			if sent > 0 {
				return passDrained, time.Time{}
			}
			return passBlocked, time.Time{}
		}

		g.queues[priority].Drop()
		sent++
	}
	return passDrained, time.Time{}
}

// marshalMessage lays out a fixed-size wire.Message for o and seals it
// with the group's Poly1305 authenticator and XOR obfuscation.
func marshalMessage(magic uint64, o Outbound) []byte {
	buf := make([]byte, wire.MessageSize)
	buf[16] = byte(o.MsgType)

	body := buf[wire.HeaderSize:]
	if o.Raw != nil {
		copy(body, o.Raw)
		buf[17] = byte(len(o.Raw))
	} else {
		wire.MarshalChunkPayload(o.Chunk, body)
		buf[17] = 0
	}

	sealMessage(magic, buf)
	return buf
}

// trySend attempts a single non-blocking write, reporting wouldBlock
// when the socket's send buffer is full (the Go-idiomatic equivalent
// of EAGAIN/EWOULDBLOCK on a raw nonblocking fd: a write deadline in
// the near past forces WriteToUDP to return immediately rather than
// wait for buffer space).
func trySend(conn *net.UDPConn, addr *net.UDPAddr, buf []byte) (wouldBlock bool, err error) {
	if err := conn.SetWriteDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false, err
	}
	_, err = conn.WriteToUDP(buf, addr)
	if err == nil {
		return false, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true, nil
	}
	return false, err
}

// Scheduler owns every transmit group and runs the single writer
// goroutine's loop.
type Scheduler struct {
	groups []*Group

	mu   sync.Mutex
	cond *sync.Cond

	stop chan struct{}
}

// New constructs a Scheduler over groups. Each group must have been
// built with NewGroup(..., notify) passing the returned Scheduler's
// Notify method so the writer wakes from its condition variable when
// a producer enqueues into an empty queue set.
func New() *Scheduler {
	s := &Scheduler{stop: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Notify wakes the writer loop if it is blocked waiting for work.
func (s *Scheduler) Notify() {
	s.cond.Broadcast()
}

// AddGroup registers g with the scheduler.
func (s *Scheduler) AddGroup(g *Group) {
	s.groups = append(s.groups, g)
}

// Stop signals the writer loop to exit and releases every blocked
// producer.
func (s *Scheduler) Stop() {
	close(s.stop)
	for _, g := range s.groups {
		g.abort()
	}
	s.cond.Broadcast()
}

// Run drives the writer loop until Stop is called: drain each group,
// then poll for writability when every queue was socket-blocked, wait
// for work when every queue was empty, or sleep until the earliest
// rate-limit quota frees up.
func (s *Scheduler) Run() {
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		allEmpty := true
		allBlocked := true
		var tNext time.Time

		for _, g := range s.groups {
			outcome, next := g.drainOnePass()
			switch outcome {
			case passEmpty:
				allBlocked = false
			case passBlocked:
				allEmpty = false
				if tNext.IsZero() || (!next.IsZero() && next.Before(tNext)) {
					tNext = next
				}
			case passDrained:
				allEmpty = false
				allBlocked = false
				if !next.IsZero() && (tNext.IsZero() || next.Before(tNext)) {
					tNext = next
				}
			}
		}

		select {
		case <-s.stop:
			return
		default:
		}

		switch {
		case len(s.groups) == 0:
			s.waitForWork()
		case allBlocked:
			s.pollWritable()
		case allEmpty:
			s.waitForWork()
		case !tNext.IsZero():
			sleepUntil(tNext)
		}
	}
}

func sleepUntil(t time.Time) {
	if d := time.Until(t); d > 0 {
		time.Sleep(d)
	}
}

// waitForWork blocks on the scheduler's condition variable until
// Notify or Stop is called.
func (s *Scheduler) waitForWork() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stop:
		return
	default:
	}
	s.cond.Wait()
}

// pollWritable blocks on poll(2) across every group's socket until one
// becomes writable, retrying on EINTR.
func (s *Scheduler) pollWritable() {
	fds := make([]unix.PollFd, 0, len(s.groups))
	for _, g := range s.groups {
		fd, err := rawFD(g.Conn)
		if err != nil {
			log.WithError(err).WithField("group", g.Name).Warn("could not obtain fd for poll")
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLOUT})
	}
	if len(fds) == 0 {
		time.Sleep(time.Millisecond)
		return
	}
	for {
		n, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			log.WithError(err).Warn("poll failed")
			return
		}
		if n > 0 {
			return
		}
	}
}

func rawFD(conn *net.UDPConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	ctrlErr := raw.Control(func(f uintptr) {
		fd = int(f)
	})
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	return fd, nil
}
