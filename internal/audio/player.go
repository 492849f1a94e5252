package audio

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Player plays one file at a time.
type Player interface {
	// Load stops whatever is playing and selects path for the next Play.
	Load(path string) error
	Play() error
	Pause() error
	Stop() error
}

// NopPlayer records calls without producing sound. It is used when no
// player command is available and in tests.
type NopPlayer struct {
	mu      sync.Mutex
	Path    string
	Playing bool
	Plays   int
	Stops   int
}

func (p *NopPlayer) Load(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Path = path
	p.Playing = false
	return nil
}

func (p *NopPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Playing = true
	p.Plays++
	return nil
}

func (p *NopPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Playing = false
	return nil
}

func (p *NopPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Playing = false
	p.Stops++
	return nil
}

// ExecPlayer plays files with an external command such as
// "ffplay -nodisp -autoexit". The file path is appended as the last argument.
// Pausing suspends the process where the platform supports it.
type ExecPlayer struct {
	command []string

	mu     sync.Mutex
	path   string
	cmd    *exec.Cmd
	done   chan struct{}
	paused bool
}

// NewExecPlayer checks that the command exists on PATH.
func NewExecPlayer(command []string) (*ExecPlayer, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("audio: player command is empty")
	}
	if _, err := exec.LookPath(command[0]); err != nil {
		return nil, fmt.Errorf("audio: player %s: %w", command[0], err)
	}
	return &ExecPlayer{command: append([]string(nil), command...)}, nil
}

func (p *ExecPlayer) Load(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.stopLocked()
	p.path = path
	return err
}

func (p *ExecPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path == "" {
		return nil
	}
	if p.runningLocked() {
		if !p.paused {
			return nil
		}
		if err := resume(p.cmd.Process); err != nil {
			return err
		}
		p.paused = false
		return nil
	}
	args := append(append([]string(nil), p.command[1:]...), p.path)
	cmd := exec.Command(p.command[0], args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("audio: start player: %w", err)
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	p.cmd, p.done, p.paused = cmd, done, false
	return nil
}

func (p *ExecPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.runningLocked() || p.paused {
		return nil
	}
	if err := suspend(p.cmd.Process); err != nil {
		return err
	}
	p.paused = true
	return nil
}

func (p *ExecPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

func (p *ExecPlayer) runningLocked() bool {
	if p.cmd == nil || p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *ExecPlayer) stopLocked() error {
	if !p.runningLocked() {
		p.cmd, p.done, p.paused = nil, nil, false
		return nil
	}
	err := p.cmd.Process.Kill()
	<-p.done
	p.cmd, p.done, p.paused = nil, nil, false
	return err
}
