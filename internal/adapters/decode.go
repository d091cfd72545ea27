package adapters

import (
	"context"
	"io"
	"strings"
)

// LineDecoder splits an arbitrarily chunked byte stream into complete lines.
// A line straddling two reads is held as a trailing fragment and prepended to
// the next feed, so the set of decoded lines is independent of how the stream
// was fragmented.
type LineDecoder struct {
	rem []byte
}

// Feed appends p to the held fragment and returns every complete line found.
// Trailing carriage returns are stripped.
func (d *LineDecoder) Feed(p []byte) []string {
	d.rem = append(d.rem, p...)

	var lines []string
	for {
		i := -1
		for j, b := range d.rem {
			if b == '\n' {
				i = j
				break
			}
		}
		if i < 0 {
			return lines
		}
		line := string(d.rem[:i])
		d.rem = d.rem[i+1:]
		lines = append(lines, strings.TrimSuffix(line, "\r"))
	}
}

// Flush returns the held incomplete fragment, if any, as a final line.
func (d *LineDecoder) Flush() (string, bool) {
	if len(d.rem) == 0 {
		return "", false
	}
	line := strings.TrimSuffix(string(d.rem), "\r")
	d.rem = nil
	return line, true
}

// SSEEvent is one server-sent event: the event name (empty for unnamed
// events) and the joined data payload.
type SSEEvent struct {
	Name string
	Data string
}

// SSEDecoder assembles server-sent events from an arbitrarily chunked byte
// stream. An event completes on a blank line; multiple data: lines join with
// a newline, per the SSE format.
type SSEDecoder struct {
	lines LineDecoder
	name  string
	data  []string
}

// Feed consumes the next read's bytes and returns every event completed by it.
func (d *SSEDecoder) Feed(p []byte) []SSEEvent {
	var events []SSEEvent
	for _, line := range d.lines.Feed(p) {
		if line == "" {
			if ev, ok := d.take(); ok {
				events = append(events, ev)
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			d.name = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			d.data = append(d.data, strings.TrimSpace(line[len("data:"):]))
		}
		// Comment lines (":...") and unknown fields are ignored.
	}
	return events
}

// Flush returns the in-progress event, if its data is nonempty. Used when the
// stream ends without a trailing blank line.
func (d *SSEDecoder) Flush() (SSEEvent, bool) {
	if line, ok := d.lines.Flush(); ok && strings.HasPrefix(line, "data:") {
		d.data = append(d.data, strings.TrimSpace(line[len("data:"):]))
	}
	return d.take()
}

func (d *SSEDecoder) take() (SSEEvent, bool) {
	if len(d.data) == 0 {
		d.name = ""
		return SSEEvent{}, false
	}
	ev := SSEEvent{Name: d.name, Data: strings.Join(d.data, "\n")}
	d.name = ""
	d.data = nil
	return ev, true
}

// readStream pumps body through feed in small reads until EOF, an error, or
// context cancellation. feed returning false stops the pump early (terminal
// record already seen).
func readStream(ctx context.Context, body io.Reader, feed func(p []byte) bool) error {
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := body.Read(buf)
		if n > 0 {
			if !feed(buf[:n]) {
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
