package trigger

import (
	"bufio"
	"context"
	"io"
	"strings"

	"imx296-capture/corelog"
	"imx296-capture/models"
)

// KeyboardSource reads newline-terminated commands from an input stream
// (normally os.Stdin) in the foreground and emits the same Command shape
// the remote source produces, tagged models.TriggerKeyboard.
type KeyboardSource struct {
	r io.Reader
}

// NewKeyboardSource wraps r (typically os.Stdin).
func NewKeyboardSource(r io.Reader) *KeyboardSource {
	return &KeyboardSource{r: r}
}

// Run scans lines from the reader until it's exhausted or ctx is cancelled,
// emitting each parsed Command onto out. Unparsable lines are logged and
// skipped rather than treated as errors.
func (k *KeyboardSource) Run(ctx context.Context, out chan<- Command) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(k.r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			k.handleLine(line, out)
		}
	}
}

func (k *KeyboardSource) handleLine(line string, out chan<- Command) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	cmd, ok := parseTextCommand(line)
	if !ok {
		corelog.L().Warn("trigger: unrecognized keyboard command: %q", line)
		return
	}
	cmd.Source = models.TriggerKeyboard
	out <- cmd
}
