// Package solver drives the external configuration solver and decodes its
// output. The solver runs as a child process; Run blocks until it exits.
package solver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"varforge/internal/featuremodel"
	"varforge/internal/logger"
)

// OutputFileName is the configurations file the solver writes.
const OutputFileName = "generatedConfigs.txt"

// DefaultMode is the solver sub-command that samples dissimilar products.
const DefaultMode = "generate_products"

var (
	ErrSolverFailed            = errors.New("solver: process failed")
	ErrNotEnoughConfigurations = errors.New("solver: fewer configurations than requested")
	ErrMalformedConfiguration  = errors.New("solver: malformed configuration line")
)

// stderrTail bounds the stderr excerpt attached to ErrSolverFailed.
const stderrTail = 2048

// Client invokes the solver.
type Client struct {
	// Command is the argv prefix, e.g. ["java", "-jar", "pledge.jar"].
	Command []string
	// Mode is the solver sub-command; DefaultMode when empty.
	Mode string
}

// NewJarClient returns a client that runs generator with the java
// executable (or "java" when empty).
func NewJarClient(java, generator string) *Client {
	if java == "" {
		java = "java"
	}
	return &Client{Command: []string{java, "-jar", generator}, Mode: DefaultMode}
}

// Request describes one solver invocation.
type Request struct {
	FeatureModel string
	Count        int
	TimeBudget   time.Duration
	Output       string
}

// Args returns the full argv for req.
func (c *Client) Args(req Request) []string {
	mode := c.Mode
	if mode == "" {
		mode = DefaultMode
	}
	args := append([]string{}, c.Command...)
	return append(args,
		mode,
		"-fm", req.FeatureModel,
		"-nbProds", strconv.Itoa(req.Count),
		"-timeAllowedMS", strconv.FormatInt(req.TimeBudget.Milliseconds(), 10),
		"-o", req.Output,
	)
}

// Run starts the solver and waits for it to exit. A non-zero exit or a
// start failure wraps ErrSolverFailed with the tail of stderr.
func (c *Client) Run(ctx context.Context, req Request) error {
	if len(c.Command) == 0 {
		return fmt.Errorf("%w: empty command", ErrSolverFailed)
	}
	log := logger.ForComponent("solver")
	argv := c.Args(req)
	log.Info("starting solver", "argv", strings.Join(argv, " "))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v\n%s", ErrSolverFailed, err, tail(stderr.Bytes()))
	}
	log.Info("solver finished", "elapsed", time.Since(start))
	return nil
}

func tail(b []byte) string {
	if len(b) > stderrTail {
		b = b[len(b)-stderrTail:]
	}
	return strings.TrimSpace(string(b))
}

// ---------------------------------------------------------------------------
// Output decoding
// ---------------------------------------------------------------------------

// Configuration is one solver output row: signed node numbers, positive for
// selected and negative for deselected.
type Configuration []int

// ParseConfiguration decodes one ';'-separated row.
func ParseConfiguration(line string) (Configuration, error) {
	var cfg Configuration
	for _, field := range strings.Split(line, ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedConfiguration, line, err)
		}
		cfg = append(cfg, v)
	}
	return cfg, nil
}

// SelectedIndices returns the sorted, unique zero-based catalog indices of
// selected features. The root and values outside [0, n) are ignored.
func (c Configuration) SelectedIndices(n int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, v := range c {
		i, ok := featuremodel.NodeIndex(v)
		if !ok || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// ReadConfigurations reads the solver output at path. Empty lines and
// header lines containing "->" are dropped. At least want configurations
// must be present; extra rows are discarded.
func ReadConfigurations(path string, want int) ([]Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("solver: read output: %w", err)
	}
	defer f.Close()

	var configs []Configuration
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.Contains(line, "->") {
			continue
		}
		cfg, err := ParseConfiguration(line)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("solver: read output: %w", err)
	}
	if len(configs) < want {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrNotEnoughConfigurations, want, len(configs))
	}
	return configs[:want], nil
}
