package runner

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/loykin/frpmon/internal/event"
)

// maxLineSize caps a single output line; longer lines end the reader with an error.
const maxLineSize = 1 << 20

// pump forwards rd line by line as events of kind, teeing into tee when set.
func (r *Runner) pump(wg *sync.WaitGroup, rd io.ReadCloser, kind event.Kind, tee io.WriteCloser) {
	defer wg.Done()
	defer func() { _ = rd.Close() }()
	if tee != nil {
		defer func() { _ = tee.Close() }()
	}

	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if tee != nil {
			_, _ = io.WriteString(tee, line+"\n")
		}
		if kind == event.KindStderr {
			r.events.Emit(event.Stderr(line))
		} else {
			r.events.Emit(event.Stdout(line))
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		r.events.Emit(event.Error(fmt.Sprintf("read %s error: %v", streamName(kind), err)))
	}
}

func streamName(k event.Kind) string {
	if k == event.KindStderr {
		return "stderr"
	}
	return "stdout"
}

func drainPumps(h *handle, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
