package realtime

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/r3labs/sse/v2"
)

// maxEvent bounds a single SSE event block.
const maxEvent = 1 << 20

// eofMark is appended after the body ends. 0xFF never occurs in UTF-8 text,
// so a block ending in it is the unterminated tail of the stream.
const eofMark byte = 0xff

// frame is one dispatched SSE event.
type frame struct {
	id    string
	event string
	data  string
}

// parser implements the text/event-stream field rules. The last event ID and
// the retry hint persist across frames as they do in a browser EventSource.
type parser struct {
	lastID string
	retry  time.Duration

	event   string
	data    strings.Builder
	hasData bool
}

// line feeds one line (without its terminator) and returns a frame when the
// line ends one.
func (p *parser) line(l string) (frame, bool) {
	if l == "" {
		return p.dispatch()
	}
	if l[0] == ':' {
		return frame{}, false
	}

	field, value, found := strings.Cut(l, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "event":
		p.event = value
	case "data":
		p.data.WriteString(value)
		p.data.WriteByte('\n')
		p.hasData = true
	case "id":
		if !strings.ContainsRune(value, 0) {
			p.lastID = value
		}
	case "retry":
		if ms, err := strconv.Atoi(value); err == nil && ms >= 0 && isDigits(value) {
			p.retry = time.Duration(ms) * time.Millisecond
		}
	}
	return frame{}, false
}

func (p *parser) dispatch() (frame, bool) {
	defer func() {
		p.event = ""
		p.data.Reset()
		p.hasData = false
	}()
	if !p.hasData {
		return frame{}, false
	}
	f := frame{
		id:    p.lastID,
		event: p.event,
		data:  strings.TrimSuffix(p.data.String(), "\n"),
	}
	if f.event == "" {
		f.event = "message"
	}
	return f, true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// readFrames parses r until EOF or until fn returns an error. A frame cut off
// by EOF is dropped.
func (p *parser) readFrames(r io.Reader, fn func(frame) error) error {
	rd := sse.NewEventStreamReader(io.MultiReader(r, bytes.NewReader([]byte{eofMark})), maxEvent)
	first := true
	for {
		raw, err := rd.ReadEvent()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(raw) > 0 && raw[len(raw)-1] == eofMark {
			return nil
		}

		block := string(raw)
		if first {
			block = strings.TrimPrefix(block, "\ufeff")
			first = false
		}
		// A block ends at a blank line, so it always closes with a dispatch.
		for _, l := range append(splitLines(block), "") {
			if f, ok := p.line(l); ok {
				if err := fn(f); err != nil {
					return err
				}
			}
		}
	}
}

// splitLines splits a block on "\r\n", "\n" or a lone "\r".
func splitLines(block string) []string {
	block = strings.ReplaceAll(block, "\r\n", "\n")
	block = strings.ReplaceAll(block, "\r", "\n")
	return strings.Split(block, "\n")
}
