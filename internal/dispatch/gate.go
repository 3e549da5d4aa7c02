package dispatch

import (
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/tenant"
)

// stage tracks where a job is between the queue and completion.
type stage int

const (
	stageQueued   stage = iota // in the queue
	stageLaneWait              // taken off the queue, behind earlier commands for its device
	stageSlotWait              // holds its lane position, waits for a tenant slot
	stageReady                 // holds a tenant slot, waits for a worker
	stageRunning
	stageDone
)

func (s stage) parked() bool {
	return s == stageLaneWait || s == stageSlotWait
}

// admission outcomes for a job taken off the queue.
const (
	admitRun = iota
	admitParked
	admitGone
)

// gate decides when a job may run. A job needs a position within the first
// laneLimit unfinished commands of its device (in submission order) and then
// a slot of its tenant. Jobs that cannot proceed are parked instead of
// holding a worker; freeing a lane position or slot moves the next parked
// job onto the ready channel.
//
// Every tenant slot the dispatcher takes and returns goes through the gate's
// lock, so a release can never miss a parked waiter.
type gate struct {
	admission Admission
	laneLimit int
	ready     chan<- *job
	onExpire  func(*job)

	mu      sync.Mutex
	closed  bool
	lanes   map[string][]*job // device ID → unfinished jobs in submission order
	waiting map[string][]*job // tenant ID → jobs waiting for a slot, in arrival order
	parked  int
}

func newGate(admission Admission, laneLimit int, ready chan<- *job, onExpire func(*job)) *gate {
	return &gate{
		admission: admission,
		laneLimit: laneLimit,
		ready:     ready,
		onExpire:  onExpire,
		lanes:     make(map[string][]*job),
		waiting:   make(map[string][]*job),
	}
}

// enter gives j its lane position and queues it. The queue must have room.
func (g *gate) enter(j *job, queue chan<- *job) {
	g.mu.Lock()
	defer g.mu.Unlock()

	j.stage = stageQueued
	if g.laneLimit > 0 {
		g.lanes[j.cmd.DeviceID] = append(g.lanes[j.cmd.DeviceID], j)
	}
	queue <- j
}

// admit tries to start j. A job that must wait is parked until its deadline.
func (g *gate) admit(j *job) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if j.stage == stageDone || g.closed {
		return admitGone
	}
	if g.laneLimit > 0 && slices.Index(g.lanes[j.cmd.DeviceID], j) >= g.laneLimit {
		j.stage = stageLaneWait
		g.park(j)
		return admitParked
	}

	key := g.admission.Resolve(j.cmd.DeviceID)
	if len(g.waiting[key]) == 0 {
		if ticket, ok := g.admission.TryAcquire(j.cmd.DeviceID); ok {
			j.ticket = ticket
			j.stage = stageRunning
			return admitRun
		}
	}
	g.waitForSlot(j, key)
	g.park(j)
	return admitParked
}

func (g *gate) park(j *job) {
	g.parked++
	j.expiry = time.AfterFunc(time.Until(j.cmd.Deadline), func() { g.onExpire(j) })
}

func (g *gate) waitForSlot(j *job, key string) {
	j.stage = stageSlotWait
	j.waitKey = key
	g.waiting[key] = append(g.waiting[key], j)
}

// running marks a job taken from the ready channel as executing.
func (g *gate) running(j *job) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if j.stage != stageReady {
		return false
	}
	j.stage = stageRunning
	return true
}

// leave removes j for good, returning its lane position and tenant slot.
func (g *gate) leave(j *job) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remove(j)
}

// abandon removes j unless it is executing, in which case the executor
// returns its slot when the driver call ends. It reports the stage j was in.
func (g *gate) abandon(j *job) stage {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev := j.stage
	if prev == stageRunning || prev == stageDone {
		return prev
	}
	g.remove(j)
	return prev
}

// expire removes j if it is still parked.
func (g *gate) expire(j *job) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !j.stage.parked() {
		return false
	}
	g.remove(j)
	return true
}

func (g *gate) remove(j *job) {
	prev := j.stage
	if prev == stageDone {
		return
	}
	j.stage = stageDone
	if prev.parked() {
		g.parked--
		j.expiry.Stop()
	}
	if prev == stageSlotWait {
		g.dropWaiter(j)
	}

	var freed string
	if j.ticket != nil {
		freed = j.ticket.Key()
		j.ticket.Release()
		j.ticket = nil
	}

	if g.laneLimit > 0 {
		g.leaveLane(j)
	}
	if freed != "" {
		g.wake(freed)
	}
}

func (g *gate) dropWaiter(j *job) {
	waiters := g.waiting[j.waitKey]
	if i := slices.Index(waiters, j); i >= 0 {
		waiters = slices.Delete(waiters, i, i+1)
	}
	if len(waiters) == 0 {
		delete(g.waiting, j.waitKey)
		return
	}
	g.waiting[j.waitKey] = waiters
}

// leaveLane drops j from its device lane and lets in the job that slides
// into the lane window.
func (g *gate) leaveLane(j *job) {
	lane := g.lanes[j.cmd.DeviceID]
	i := slices.Index(lane, j)
	if i < 0 {
		return
	}
	lane = slices.Delete(lane, i, i+1)
	if len(lane) == 0 {
		delete(g.lanes, j.cmd.DeviceID)
		return
	}
	g.lanes[j.cmd.DeviceID] = lane

	if g.closed || i >= g.laneLimit || len(lane) < g.laneLimit {
		return
	}
	next := lane[g.laneLimit-1]
	if next.stage != stageLaneWait {
		return
	}

	key := g.admission.Resolve(next.cmd.DeviceID)
	if len(g.waiting[key]) == 0 {
		if ticket, ok := g.admission.TryAcquire(next.cmd.DeviceID); ok {
			g.parked--
			next.expiry.Stop()
			g.hand(next, ticket)
			return
		}
	}
	g.waitForSlot(next, key)
}

// wake hands freed slots of tenant key to its waiters in arrival order.
func (g *gate) wake(key string) {
	if g.closed {
		return
	}
	for len(g.waiting[key]) > 0 {
		next := g.waiting[key][0]
		ticket, ok := g.admission.TryAcquire(next.cmd.DeviceID)
		if !ok {
			return
		}
		g.dropWaiter(next)
		g.parked--
		next.expiry.Stop()
		g.hand(next, ticket)
	}
}

// hand passes a job that now holds a slot to the workers. The ready channel
// has room for every job holding a queue slot, so the send never blocks.
func (g *gate) hand(j *job, ticket *tenant.Ticket) {
	j.ticket = ticket
	j.stage = stageReady
	g.ready <- j
}

// close stops promotions and returns the parked jobs, now removed.
func (g *gate) close() []*job {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	var out []*job
	for _, lane := range g.lanes {
		for _, j := range lane {
			if j.stage == stageLaneWait {
				out = append(out, j)
			}
		}
	}
	for _, waiters := range g.waiting {
		out = append(out, waiters...)
	}
	for _, j := range out {
		g.remove(j)
	}
	return out
}

// parkedCount returns the number of parked jobs.
func (g *gate) parkedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.parked
}
