package nixmate

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// LogLine is one reassembled output line: the raw text, its classified event
// (nil when no rule matched) and a monotonically increasing sequence number.
// Immutable once appended to the buffer.
type LogLine struct {
	Seq   uint64
	Raw   string
	Event *Event
}

// Display returns the classified form when available, the raw text otherwise.
func (l LogLine) Display() string {
	if l.Event != nil {
		return l.Event.Display
	}
	return l.Raw
}

// LineAssembler reassembles UTF-8-safe lines from raw byte chunks and runs
// each through the classifier. Bytes after the last newline are carried over
// to the next Feed call, so a multi-byte character split at a chunk boundary
// is never decoded until it is fully present. Feed never fails, whatever the
// input.
type LineAssembler struct {
	carry []byte
	seq   uint64
}

// Feed consumes one raw chunk and returns the lines completed by it.
func (a *LineAssembler) Feed(chunk []byte) []LogLine {
	if len(chunk) == 0 {
		return nil
	}
	a.carry = append(a.carry, chunk...)

	var lines []LogLine
	for {
		i := bytes.IndexByte(a.carry, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, a.emit(a.carry[:i]))
		a.carry = a.carry[i+1:]
	}
	// A child that never writes a newline (carriage-return progress
	// spinners) must not grow the carry without bound. Anything past the
	// line cap would be cut at emit anyway, so drop it now.
	if len(a.carry) > maxLineBytes {
		a.carry = a.carry[:maxLineBytes]
	}
	// Reclaim the consumed prefix; the carry usually shrinks to a partial
	// line or nothing.
	if len(lines) > 0 {
		a.carry = append([]byte(nil), a.carry...)
	}
	return lines
}

// Flush emits any trailing partial line once the stream has ended. Only here
// may an incomplete UTF-8 sequence be replaced with U+FFFD, since no more
// bytes can arrive to complete it.
func (a *LineAssembler) Flush() []LogLine {
	if len(a.carry) == 0 {
		return nil
	}
	line := a.emit(a.carry)
	a.carry = nil
	return []LogLine{line}
}

// Synthesize emits a line produced by the monitor itself rather than the
// child process, keeping it in the same sequence space as the stream.
func (a *LineAssembler) Synthesize(raw string) LogLine {
	a.seq++
	return LogLine{Seq: a.seq, Raw: raw}
}

func (a *LineAssembler) emit(b []byte) LogLine {
	raw := sanitizeLine(b)
	a.seq++
	return LogLine{Seq: a.seq, Raw: raw, Event: Classify(raw)}
}

// sanitizeLine strips a trailing CR, replaces invalid UTF-8 with U+FFFD and
// truncates overlength lines at a valid rune boundary.
func sanitizeLine(b []byte) string {
	b = bytes.TrimSuffix(b, []byte{'\r'})
	var raw string
	if utf8.Valid(b) {
		raw = string(b)
	} else {
		raw = strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	return truncateUTF8(raw, maxLineBytes)
}

// truncateUTF8 shortens s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// LogBuffer is the capacity-bounded line store. Oldest lines are dropped
// first once the cap is exceeded; the length never exceeds the cap.
type LogBuffer struct {
	lines []LogLine
	cap   int
}

func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = logBufferCap
	}
	return &LogBuffer{cap: capacity}
}

// Append adds lines in order, evicting from the front as needed.
func (b *LogBuffer) Append(lines ...LogLine) {
	b.lines = append(b.lines, lines...)
	if over := len(b.lines) - b.cap; over > 0 {
		// Copy down instead of reslicing so the evicted prefix can be
		// collected.
		n := copy(b.lines, b.lines[over:])
		b.lines = b.lines[:n]
	}
}

// Len returns the number of buffered lines.
func (b *LogBuffer) Len() int { return len(b.lines) }

// Tail returns a copy of the most recent n lines in arrival order.
func (b *LogBuffer) Tail(n int) []LogLine {
	if n <= 0 || len(b.lines) == 0 {
		return nil
	}
	if n > len(b.lines) {
		n = len(b.lines)
	}
	out := make([]LogLine, n)
	copy(out, b.lines[len(b.lines)-n:])
	return out
}

// All returns a copy of every buffered line.
func (b *LogBuffer) All() []LogLine {
	return b.Tail(len(b.lines))
}
