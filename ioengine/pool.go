package ioengine

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/vsockbridge/api"
	"github.com/momentics/vsockbridge/logging"
	"github.com/momentics/vsockbridge/socket"
)

// Pool owns a fixed set of IOThreads and dispatches newly-connected pairs
// across them round-robin via a single shared atomic counter — fairness
// is per-pool, not per-caller, so bursts arriving on different listener
// goroutines still spread evenly.
type Pool struct {
	threads []*IOThread
	next    atomic.Uint64
	log     *logging.Logger
}

// Config controls pool construction.
type Config struct {
	// Threads is the number of IOThreads to run. Defaults to 1 if <= 0.
	Threads int
	// QueueCapacity bounds each thread's adoption queue. 0 uses the
	// AdoptionQueue default.
	QueueCapacity int
	// CPUIDs optionally pins thread i to CPUIDs[i]; a shorter slice (or
	// nil) leaves the remaining threads unpinned.
	CPUIDs []int
}

// NewPool constructs and starts n IOThreads, each with its own poller
// obtained from factory.
func NewPool(cfg Config, factory api.PollerFactory, log *logging.Logger) (*Pool, error) {
	n := cfg.Threads
	if n <= 0 {
		n = 1
	}

	p := &Pool{log: log}
	for i := 0; i < n; i++ {
		poller, err := factory.New()
		if err != nil {
			p.Stop()
			return nil, fmt.Errorf("thread %d: new poller: %w", i, err)
		}
		cpuID := -1
		if i < len(cfg.CPUIDs) {
			cpuID = cfg.CPUIDs[i]
		}
		inbound := NewAdoptionQueue(cfg.QueueCapacity)
		t := NewIOThread(i, cpuID, poller, inbound, log)
		p.threads = append(p.threads, t)
		go t.Run()
	}
	return p, nil
}

// AddChannel enqueues (a, b) onto one thread's adoption queue, chosen by
// round-robin.
func (p *Pool) AddChannel(a, b *socket.Socket) error {
	idx := p.next.Add(1) % uint64(len(p.threads))
	return p.threads[idx].inbound.Push(a, b)
}

// Stop signals every thread to terminate after its current iteration.
// Does not wait for them to exit; callers that need a clean shutdown
// should give threads a moment to drain before the process exits.
func (p *Pool) Stop() {
	for _, t := range p.threads {
		t.Stop()
	}
}

// Size returns the number of threads in the pool.
func (p *Pool) Size() int { return len(p.threads) }
