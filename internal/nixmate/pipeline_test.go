package nixmate

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestAssemblerSplitsOnNewlines(t *testing.T) {
	t.Parallel()
	var asm LineAssembler

	lines := asm.Feed([]byte("first\nsecond\npartial"))
	if len(lines) != 2 {
		t.Fatalf("Feed: got %d lines, want 2", len(lines))
	}
	if lines[0].Raw != "first" || lines[1].Raw != "second" {
		t.Errorf("Feed: got %q, %q", lines[0].Raw, lines[1].Raw)
	}

	lines = asm.Feed([]byte(" done\n"))
	if len(lines) != 1 || lines[0].Raw != "partial done" {
		t.Errorf("carry-over: got %v, want one line %q", lines, "partial done")
	}
}

func TestAssemblerSequenceNumbersIncrease(t *testing.T) {
	t.Parallel()
	var asm LineAssembler

	lines := asm.Feed([]byte("a\nb\nc\n"))
	for i := 1; i < len(lines); i++ {
		if lines[i].Seq <= lines[i-1].Seq {
			t.Fatalf("seq not increasing: %d then %d", lines[i-1].Seq, lines[i].Seq)
		}
	}
	synth := asm.Synthesize("note")
	if synth.Seq <= lines[len(lines)-1].Seq {
		t.Errorf("Synthesize seq %d not after stream seq %d", synth.Seq, lines[len(lines)-1].Seq)
	}
}

func TestAssemblerMultiByteRuneAcrossChunks(t *testing.T) {
	t.Parallel()
	var asm LineAssembler

	// "héllo\n" with the two-byte é split across chunks.
	full := []byte("h\xc3\xa9llo\n")
	if lines := asm.Feed(full[:2]); lines != nil {
		t.Fatalf("partial chunk produced lines: %v", lines)
	}
	lines := asm.Feed(full[2:])
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0].Raw != "héllo" {
		t.Errorf("split rune corrupted: got %q, want %q", lines[0].Raw, "héllo")
	}
}

func TestAssemblerFlushReplacesIncompleteRune(t *testing.T) {
	t.Parallel()
	var asm LineAssembler

	// Trailing bytes end mid-rune; EOF means it can never complete.
	asm.Feed([]byte("tail\xc3"))
	lines := asm.Flush()
	if len(lines) != 1 {
		t.Fatalf("Flush: got %d lines, want 1", len(lines))
	}
	if !utf8.ValidString(lines[0].Raw) {
		t.Errorf("Flush emitted invalid UTF-8: %q", lines[0].Raw)
	}
	if lines[0].Raw != "tail�" {
		t.Errorf("Flush: got %q, want %q", lines[0].Raw, "tail�")
	}
	if again := asm.Flush(); again != nil {
		t.Errorf("second Flush: got %v, want nil", again)
	}
}

func TestAssemblerStripsCarriageReturn(t *testing.T) {
	t.Parallel()
	var asm LineAssembler

	lines := asm.Feed([]byte("windows line\r\n"))
	if len(lines) != 1 || lines[0].Raw != "windows line" {
		t.Errorf("CRLF: got %v", lines)
	}
}

func TestAssemblerInvalidBytesNeverFail(t *testing.T) {
	t.Parallel()
	var asm LineAssembler

	lines := asm.Feed([]byte("bad \xff\xfe bytes\n"))
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if !utf8.ValidString(lines[0].Raw) {
		t.Errorf("invalid input leaked through: %q", lines[0].Raw)
	}
}

func TestTruncateUTF8RuneBoundary(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("é", 10) // 20 bytes
	got := truncateUTF8(s, 9)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune: %q", got)
	}
	if got != strings.Repeat("é", 4) {
		t.Errorf("got %q, want 4 runes", got)
	}
	if truncateUTF8("short", 100) != "short" {
		t.Error("under-limit string was modified")
	}
}

func TestAssemblerTruncatesOverlongLines(t *testing.T) {
	t.Parallel()
	var asm LineAssembler

	long := strings.Repeat("x", maxLineBytes+500)
	lines := asm.Feed([]byte(long + "\n"))
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if len(lines[0].Raw) > maxLineBytes {
		t.Errorf("line length %d exceeds %d", len(lines[0].Raw), maxLineBytes)
	}
}

func TestAssemblerBoundsNewlineFreeCarry(t *testing.T) {
	t.Parallel()
	var asm LineAssembler

	// A progress spinner rewriting one line with \r never completes a line;
	// the pending bytes must stay bounded regardless of how long it runs.
	chunk := []byte(strings.Repeat("x", 1024) + "\r")
	for i := 0; i < 1000; i++ {
		if lines := asm.Feed(chunk); lines != nil {
			t.Fatalf("feed %d completed %d lines without a newline", i, len(lines))
		}
		if len(asm.carry) > maxLineBytes {
			t.Fatalf("feed %d: carry grew to %d bytes", i, len(asm.carry))
		}
	}

	lines := asm.Feed([]byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if len(lines[0].Raw) > maxLineBytes {
		t.Errorf("line length %d exceeds %d", len(lines[0].Raw), maxLineBytes)
	}
}

func TestLogBufferEvictsOldestFirst(t *testing.T) {
	t.Parallel()
	buf := NewLogBuffer(3)

	for i := 1; i <= 5; i++ {
		buf.Append(LogLine{Seq: uint64(i)})
	}
	if buf.Len() != 3 {
		t.Fatalf("Len: got %d, want 3", buf.Len())
	}
	all := buf.All()
	if all[0].Seq != 3 || all[2].Seq != 5 {
		t.Errorf("eviction order wrong: %v", all)
	}
}

func TestLogBufferNeverExceedsCap(t *testing.T) {
	t.Parallel()
	buf := NewLogBuffer(10)

	for i := 0; i < 100; i++ {
		buf.Append(LogLine{Seq: uint64(i)}, LogLine{Seq: uint64(i)})
		if buf.Len() > 10 {
			t.Fatalf("buffer grew to %d past cap 10", buf.Len())
		}
	}
}

func TestLogBufferTail(t *testing.T) {
	t.Parallel()
	buf := NewLogBuffer(100)
	for i := 1; i <= 10; i++ {
		buf.Append(LogLine{Seq: uint64(i)})
	}

	tail := buf.Tail(3)
	if len(tail) != 3 || tail[0].Seq != 8 || tail[2].Seq != 10 {
		t.Errorf("Tail(3): got %v", tail)
	}
	if got := buf.Tail(50); len(got) != 10 {
		t.Errorf("Tail beyond length: got %d lines, want 10", len(got))
	}
	if buf.Tail(0) != nil {
		t.Error("Tail(0): want nil")
	}
}

func TestLogLineDisplayPrefersEvent(t *testing.T) {
	t.Parallel()

	plain := LogLine{Raw: "raw text"}
	if plain.Display() != "raw text" {
		t.Errorf("unclassified Display: got %q", plain.Display())
	}
	classified := LogLine{Raw: "raw", Event: &Event{Display: "pretty"}}
	if classified.Display() != "pretty" {
		t.Errorf("classified Display: got %q", classified.Display())
	}
}
