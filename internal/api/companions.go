package api

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// ErrAlreadyRunning is returned by Launch while the running flag is set.
var ErrAlreadyRunning = errors.New("already running")

// Companion tracks an external helper process by a boolean running flag.
// The flag is set by Launch and cleared only by Closed, which the helper
// calls when it exits.
type Companion struct {
	name    string
	command []string
	log     *slog.Logger

	mu      sync.Mutex
	running bool

	start func(argv []string) error
}

// NewCompanion creates a companion. An empty command makes Launch only flip
// the flag.
func NewCompanion(name, command string, log *slog.Logger) *Companion {
	c := &Companion{
		name:    name,
		command: strings.Fields(command),
		log:     log.With("companion", name),
	}
	c.start = c.spawn
	return c
}

// Launch starts the companion unless it is already marked running.
func (c *Companion) Launch() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("%s: %w", c.name, ErrAlreadyRunning)
	}
	if len(c.command) > 0 {
		if err := c.start(c.command); err != nil {
			return fmt.Errorf("launch %s: %w", c.name, err)
		}
	}
	c.running = true
	c.log.Info("companion launched", "command", strings.Join(c.command, " "))
	return nil
}

// Closed clears the running flag.
func (c *Companion) Closed() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	c.log.Info("companion reported closed")
}

// Running reports the flag.
func (c *Companion) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Companion) spawn(argv []string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		err := cmd.Wait()
		c.log.Info("companion process exited", "pid", cmd.Process.Pid, "error", err)
	}()
	return nil
}
