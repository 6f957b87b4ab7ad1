package claude

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
)

const streamReadBuffer = 64 * 1024

// Events returns a lazy sequence of the events read from r, which carries
// newline-delimited JSON. Lines may arrive split across arbitrary read
// boundaries; a trailing line without a newline gets one parse attempt at
// EOF. Lines that do not parse are dropped. The sequence is single-use and
// ends quietly on a read error; use readEvents to observe it.
func Events(r io.Reader, log *slog.Logger) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if err := readEvents(r, log, yield); err != nil {
			log.Debug("stream read ended with error", "error", err)
		}
	}
}

// readEvents feeds every parsed event to yield until r is exhausted or yield
// returns false. EOF and a closed pipe are normal ends and return nil.
func readEvents(r io.Reader, log *slog.Logger, yield func(Event) bool) error {
	br := bufio.NewReaderSize(r, streamReadBuffer)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if ev, ok := ParseEvent(line, log); ok {
				if !yield(ev) {
					return nil
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
}
