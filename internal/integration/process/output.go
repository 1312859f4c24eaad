package process

import (
	"bytes"
	"strings"
	"sync"
	"time"
)

// DefaultOutputLines is the number of lines an execution keeps.
const DefaultOutputLines = 1000

// defaultLineBufferSize bounds a single output line.
const defaultLineBufferSize = 64 * 1024

// OutputStream identifies the source stream.
type OutputStream int

const (
	// OutputStreamStdout is standard output.
	OutputStreamStdout OutputStream = iota
	// OutputStreamStderr is standard error.
	OutputStreamStderr
)

// String returns the stream name.
func (s OutputStream) String() string {
	switch s {
	case OutputStreamStdout:
		return "stdout"
	case OutputStreamStderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// OutputLine is a single line of task output.
type OutputLine struct {
	// Content is the line without its newline.
	Content string

	Stream OutputStream

	Timestamp time.Time

	// LineNumber counts lines across both streams, starting at 1.
	LineNumber int
}

// OutputBuffer keeps the most recent lines of an execution. Older lines
// are dropped once capacity is reached.
type OutputBuffer struct {
	mu       sync.RWMutex
	lines    []OutputLine
	capacity int
	head     int
	count    int
	total    int
}

// NewOutputBuffer creates a ring buffer holding up to capacity lines.
func NewOutputBuffer(capacity int) *OutputBuffer {
	if capacity <= 0 {
		capacity = DefaultOutputLines
	}
	return &OutputBuffer{
		lines:    make([]OutputLine, capacity),
		capacity: capacity,
	}
}

// Append numbers and stores a line, returning the stored copy.
func (b *OutputBuffer) Append(content string, stream OutputStream) OutputLine {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	line := OutputLine{
		Content:    content,
		Stream:     stream,
		Timestamp:  time.Now(),
		LineNumber: b.total,
	}

	idx := (b.head + b.count) % b.capacity
	b.lines[idx] = line
	if b.count < b.capacity {
		b.count++
	} else {
		b.head = (b.head + 1) % b.capacity
	}
	return line
}

// Lines returns the retained lines in order.
func (b *OutputBuffer) Lines() []OutputLine {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]OutputLine, b.count)
	for i := 0; i < b.count; i++ {
		result[i] = b.lines[(b.head+i)%b.capacity]
	}
	return result
}

// Total returns the number of lines ever appended, including dropped ones.
func (b *OutputBuffer) Total() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// Content joins the retained lines of the given streams with newlines. With
// no streams every line is included.
func (b *OutputBuffer) Content(streams ...OutputStream) string {
	var sb strings.Builder
	first := true
	for _, line := range b.Lines() {
		if len(streams) > 0 && !containsStream(streams, line.Stream) {
			continue
		}
		if !first {
			sb.WriteByte('\n')
		}
		sb.WriteString(line.Content)
		first = false
	}
	return sb.String()
}

func containsStream(streams []OutputStream, s OutputStream) bool {
	for _, x := range streams {
		if x == s {
			return true
		}
	}
	return false
}

// lineWriter splits written bytes into lines and appends them to an
// OutputBuffer. Lines longer than max are split.
type lineWriter struct {
	mu      sync.Mutex
	stream  OutputStream
	buf     *OutputBuffer
	max     int
	partial []byte
	fn      func(OutputLine)
}

func newLineWriter(stream OutputStream, buf *OutputBuffer, max int, fn func(OutputLine)) *lineWriter {
	if max <= 0 {
		max = defaultLineBufferSize
	}
	return &lineWriter{stream: stream, buf: buf, max: max, fn: fn}
}

// Write never fails; it always consumes all of p.
func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.partial = append(w.partial, p...)
			for len(w.partial) >= w.max {
				w.emit(w.partial[:w.max])
				w.partial = append(w.partial[:0], w.partial[w.max:]...)
			}
			break
		}
		w.partial = append(w.partial, p[:i]...)
		w.emit(w.partial)
		w.partial = w.partial[:0]
		p = p[i+1:]
	}
	return n, nil
}

// Flush emits a trailing line that had no newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.partial) > 0 {
		w.emit(w.partial)
		w.partial = w.partial[:0]
	}
}

func (w *lineWriter) emit(b []byte) {
	line := w.buf.Append(strings.TrimSuffix(string(b), "\r"), w.stream)
	if w.fn != nil {
		w.fn(line)
	}
}
