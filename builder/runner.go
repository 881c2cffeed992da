package builder

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
)

type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// OutputFunc receives child process output one line at a time. Calls are
// serialized.
type OutputFunc func(stream Stream, line string)

// Runner runs a shell command in dir. A non-nil error means the process
// could not be started or waited on; a non-zero exit is reported through the
// exit code only.
type Runner interface {
	Run(ctx context.Context, command, dir string, onOutput OutputFunc) (exitCode int, err error)
}

const (
	readBufferSize = 64 * 1024
	maxLineSize    = 1024 * 1024
)

type ShellRunner struct {
	shell string
	env   []string
}

func NewShellRunner() *ShellRunner {
	return &ShellRunner{
		shell: "sh",
		env:   append(os.Environ(), "GIT_TERMINAL_PROMPT=0"),
	}
}

func (r *ShellRunner) Run(ctx context.Context, command, dir string, onOutput OutputFunc) (int, error) {
	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	cmd.Dir = dir
	cmd.Env = r.env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, err
	}
	if err := cmd.Start(); err != nil {
		return -1, err
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	scan := func(rd io.Reader, stream Stream) {
		defer wg.Done()
		br := bufio.NewReaderSize(rd, readBufferSize)
		var line []byte
		emit := func() {
			mu.Lock()
			onOutput(stream, strings.TrimSuffix(string(line), "\r"))
			mu.Unlock()
			line = line[:0]
		}
		for {
			chunk, err := br.ReadSlice('\n')
			line = append(line, chunk...)
			switch {
			case err == nil:
				line = line[:len(line)-1]
				emit()
			case errors.Is(err, bufio.ErrBufferFull):
				// Lines longer than maxLineSize are delivered in pieces.
				if len(line) >= maxLineSize {
					emit()
				}
			default:
				if len(line) > 0 {
					emit()
				}
				// Keep the child from blocking on a full pipe after a read error.
				_, _ = io.Copy(io.Discard, rd)
				return
			}
		}
	}
	wg.Add(2)
	go scan(stdout, Stdout)
	go scan(stderr, Stderr)
	wg.Wait()

	err = cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

// CleanLines strips terminal control sequences from a chunk of process
// output and splits it into lines.
func CleanLines(chunk string) []string {
	s := strings.TrimSuffix(ansi.Strip(chunk), "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines
}
