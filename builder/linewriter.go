package builder

import (
	"bytes"
	"strings"
)

// lineWriter turns clone progress output into transcript lines. Carriage
// return updates collapse to the last state of the line.
type lineWriter struct {
	buf  bytes.Buffer
	emit func(string)
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.writeLine(line)
	}
	return len(p), nil
}

func (w *lineWriter) Flush() {
	if w.buf.Len() > 0 {
		w.writeLine(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) writeLine(line string) {
	line = strings.TrimRight(line, "\r\n")
	if i := strings.LastIndexByte(line, '\r'); i >= 0 {
		line = line[i+1:]
	}
	for _, l := range CleanLines(line) {
		if strings.TrimSpace(l) != "" {
			w.emit(l)
		}
	}
}
