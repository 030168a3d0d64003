package comm

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// Framing decides how raw reads are cut into frames.
type Framing string

const (
	// FramingChunk delivers whatever one read returned, trimmed. Messages the
	// device writes in several pieces arrive as several frames.
	FramingChunk Framing = "chunk"
	// FramingLine reassembles newline-terminated messages across reads.
	FramingLine Framing = "line"
)

type framer interface {
	feed(p []byte, emit func(string))
	reset()
}

func newFramer(f Framing, maxLine int) framer {
	if f == FramingLine {
		if maxLine <= 0 {
			maxLine = defaultMaxLineLength
		}
		return &lineFramer{max: maxLine}
	}
	return chunkFramer{}
}

// decodeText mirrors a lenient UTF-8 decode: bad sequences become U+FFFD.
func decodeText(p []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(p), "�"))
}

type chunkFramer struct{}

func (chunkFramer) feed(p []byte, emit func(string)) { emit(decodeText(p)) }

func (chunkFramer) reset() {}

type lineFramer struct {
	buf []byte
	max int
}

func (f *lineFramer) feed(p []byte, emit func(string)) {
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			f.buf = append(f.buf, p...)
			// No terminator in sight; don't grow without bound.
			if len(f.buf) >= f.max {
				f.flushN(completeRunes(f.buf), emit)
			}
			return
		}
		f.buf = append(f.buf, p[:i]...)
		f.flush(emit)
		p = p[i+1:]
	}
}

func (f *lineFramer) flush(emit func(string)) { f.flushN(len(f.buf), emit) }

// flushN emits the first n bytes and keeps the rest for the next frame.
func (f *lineFramer) flushN(n int, emit func(string)) {
	if text := decodeText(f.buf[:n]); text != "" {
		emit(text)
	}
	f.buf = f.buf[:copy(f.buf, f.buf[n:])]
}

// completeRunes returns the length of p without a trailing partial rune.
func completeRunes(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if !utf8.FullRune(p[i:]) && i > 0 {
				return i
			}
			break
		}
	}
	return len(p)
}

func (f *lineFramer) reset() { f.buf = f.buf[:0] }
