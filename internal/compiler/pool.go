package compiler

import (
	"slices"
	"sync"

	"github.com/zjrosen/sassbridge/internal/log"
)

// SharedPool is the process-wide pool used by Clients created without
// WithPool. Clients with identical command lines share its cached handle.
var SharedPool = NewPool()

// Pool caches at most one one-shot process handle, keyed by its exact command
// line. The check-and-replace in Acquire runs under a single mutex so two
// callers never both spawn and overwrite the entry.
type Pool struct {
	mu      sync.Mutex
	command []string
	proc    Process
	spawns  int
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// Acquire returns the cached handle when its command line equals command and
// it is still running. Otherwise it creates a handle through launcher and
// caches it in place of the previous one.
func (p *Pool) Acquire(launcher Launcher, command []string) Process {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.proc != nil && slices.Equal(p.command, command) {
		if p.proc.IsRunning() {
			log.Debug(log.CatProcess, "Reusing cached worker", "status", p.proc.Status().String())
			return p.proc
		}
		log.Debug(log.CatProcess, "Cached worker is no longer running", "status", p.proc.Status().String())
	}

	p.proc = launcher.NewProcess(command)
	p.command = slices.Clone(command)
	p.spawns++
	log.Debug(log.CatProcess, "Created worker handle", "command", command[0], "spawns", p.spawns)

	return p.proc
}

// Spawns returns how many handles the pool has created.
func (p *Pool) Spawns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spawns
}

// Cached returns the cached handle and its command line, or nil.
func (p *Pool) Cached() (Process, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proc, slices.Clone(p.command)
}

// Reset stops and forgets the cached handle.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc != nil {
		_ = p.proc.Stop()
	}
	p.proc = nil
	p.command = nil
}
