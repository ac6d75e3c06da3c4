package engine

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	scanBufInitial = 64 * 1024
	scanBufMax     = 1024 * 1024
	stderrTail     = 20
)

// Proc runs an engine subprocess and streams its stdout line by line.
// The process runs in its own group so cancellation takes the whole
// tree down, not just the direct child.
type Proc struct {
	cmd   *exec.Cmd
	lines chan string

	mu      sync.Mutex
	errTail []string

	scanDone chan struct{}
	scanErr  error
}

// StartProc launches name with args in dir. Cancelling ctx kills the
// process group; Wait still reaps the child.
func StartProc(ctx context.Context, dir, name string, args ...string) (*Proc, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	setProcGroup(cmd)
	cmd.Cancel = func() error { return killProcGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	p := &Proc{
		cmd:      cmd,
		lines:    make(chan string, 64),
		scanDone: make(chan struct{}),
	}

	go func() {
		defer close(p.scanDone)
		defer close(p.lines)
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, scanBufInitial), scanBufMax)
		for sc.Scan() {
			p.lines <- sc.Text()
		}
		p.scanErr = sc.Err()
	}()

	go func() {
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 0, scanBufInitial), scanBufMax)
		for sc.Scan() {
			p.noteStderr(sc.Text())
		}
	}()

	return p, nil
}

// Lines yields stdout lines; the channel closes at EOF.
func (p *Proc) Lines() <-chan string { return p.lines }

func (p *Proc) noteStderr(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errTail = append(p.errTail, line)
	if len(p.errTail) > stderrTail {
		p.errTail = p.errTail[len(p.errTail)-stderrTail:]
	}
}

// StderrTail returns the last captured stderr lines, for error reports.
func (p *Proc) StderrTail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.errTail, "\n")
}

// Wait reaps the process after the stdout stream has drained. A
// non-zero exit is wrapped with the stderr tail when there is one.
func (p *Proc) Wait() error {
	<-p.scanDone
	err := p.cmd.Wait()
	if err == nil {
		return p.scanErr
	}
	if tail := p.StderrTail(); tail != "" {
		return fmt.Errorf("%w\n%s", err, tail)
	}
	return err
}
