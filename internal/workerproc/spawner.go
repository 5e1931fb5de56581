// Package workerproc runs game-automation workers as local subprocesses.
// The spawn config is passed to the worker on stdin as JSON; the worker
// reports back over stdout as line-delimited JSON events, with anything
// else captured as log output.
package workerproc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/kmajdoub/botfleet/internal/supervisor"
)

// DefaultBatchInterval is the interval between log batch flushes.
const DefaultBatchInterval = 500 * time.Millisecond

// maxBatchLines flushes a log batch early once it grows this large.
const maxBatchLines = 50

// Spawner launches bot worker subprocesses. It implements
// supervisor.Spawner.
type Spawner struct {
	Binary        string   // path to the worker binary
	Args          []string // extra args placed before "run"
	WorkDir       string   // working directory for the worker
	BatchInterval time.Duration
}

// Spawn starts a worker subprocess for the given config. The process
// outlives ctx: ctx only bounds the spawn itself.
func (s *Spawner) Spawn(ctx context.Context, cfg supervisor.WorkerConfig) (supervisor.Worker, error) {
	if s.Binary == "" {
		return nil, fmt.Errorf("workerproc: worker binary is required")
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("workerproc: encode config: %w", err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	args := append(append([]string(nil), s.Args...), "run")
	cmd := exec.CommandContext(procCtx, s.Binary, args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	cmd.WaitDelay = 10 * time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("workerproc: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("workerproc: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("workerproc: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("workerproc: start %s: %w", s.Binary, err)
	}

	go func() {
		stdin.Write(append(payload, '\n'))
		stdin.Close()
	}()

	interval := s.BatchInterval
	if interval <= 0 {
		interval = DefaultBatchInterval
	}

	p := &proc{
		cmd:    cmd,
		cancel: cancel,
		events: make(chan supervisor.Event, 64),
		done:   make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go p.readStdout(&readers, stdout, interval)
	go p.readLines(&readers, bufio.NewScanner(stderr), interval)

	// Wait goroutine: readers first (pipe contract), then reap, then
	// close the event stream.
	go func() {
		readers.Wait()
		waitErr := cmd.Wait()
		p.mu.Lock()
		p.exitErr = waitErr
		p.mu.Unlock()
		close(p.events)
		close(p.done)
	}()

	return p, nil
}

// proc is a running worker subprocess. It implements supervisor.Worker.
type proc struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	events chan supervisor.Event
	done   chan struct{}

	mu      sync.Mutex
	exitErr error
}

func (p *proc) Events() <-chan supervisor.Event { return p.events }

func (p *proc) Done() <-chan struct{} { return p.done }

func (p *proc) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Stop asks the worker to shut down with SIGTERM and waits for it to
// exit or for ctx to expire.
func (p *proc) Stop(ctx context.Context) error {
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("workerproc: signal worker: %w", err)
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workerproc: stop: %w", ctx.Err())
	}
}

// Kill terminates the worker immediately.
func (p *proc) Kill() error {
	p.cancel()
	return nil
}

// readStdout parses structured events off the worker's stdout and
// batches everything else as log lines.
func (p *proc) readStdout(wg *sync.WaitGroup, r interface{ Read([]byte) (int, error) }, interval time.Duration) {
	defer wg.Done()
	b := newBatcher(p.events, interval)
	defer b.close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if ev, ok := parseLine(line); ok {
			// Flush pending logs first so ordering across kinds holds.
			b.flush()
			p.events <- ev
			continue
		}
		if line != "" {
			b.add(line)
		}
	}
}

// readLines batches plain log lines (stderr).
func (p *proc) readLines(wg *sync.WaitGroup, scanner *bufio.Scanner, interval time.Duration) {
	defer wg.Done()
	b := newBatcher(p.events, interval)
	defer b.close()

	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			b.add(line)
		}
	}
}

// batcher accumulates log lines and flushes them as one event per
// interval, bounding per-line message overhead.
type batcher struct {
	out      chan<- supervisor.Event
	interval time.Duration

	mu      sync.Mutex
	pending []string
	timer   *time.Timer
	closed  bool
}

func newBatcher(out chan<- supervisor.Event, interval time.Duration) *batcher {
	return &batcher{out: out, interval: interval}
}

func (b *batcher) add(line string) {
	b.mu.Lock()
	b.pending = append(b.pending, line)
	full := len(b.pending) >= maxBatchLines
	if b.timer == nil && !full {
		b.timer = time.AfterFunc(b.interval, b.flush)
	}
	b.mu.Unlock()
	if full {
		b.flush()
	}
}

func (b *batcher) flush() {
	// The send happens under the lock so close() cannot complete while
	// a timer-fired flush is still writing to the event channel.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.closed || len(b.pending) == 0 {
		return
	}
	lines := b.pending
	b.pending = nil
	b.out <- supervisor.LogEvent(lines...)
}

// close flushes any pending lines and stops the timer. Must be called
// before the event channel is closed.
func (b *batcher) close() {
	b.flush()
	b.mu.Lock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
}
