package journal

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

const (
	// scanChunkSize is the fixed read size for both scan directions. The
	// journal is scanned chunk by chunk so arbitrarily large files never
	// need to be resident in memory.
	scanChunkSize = 64 * 1024

	// maxLineSize caps a single journal line to prevent memory exhaustion
	// on corrupt data.
	maxLineSize = 16 * 1024 * 1024
)

// scannedLine is one non-empty journal line plus the byte offset of its
// first byte. The offset is what RemoveLast truncates at: the position
// immediately preceding the line.
type scannedLine struct {
	text   string
	offset int64
	number int // 1-based line number; 0 when scanning backward
}

// backwardScanner reads journal lines newest-first in fixed-size chunks from
// the end of the file, reassembling lines that straddle chunk boundaries.
//
// It is a plain pull-based iterator: an explicit cursor (the start of the
// unread region) plus a carried partial-line buffer. No line content before
// the cursor is retained.
type backwardScanner struct {
	file    *os.File
	pos     int64  // start offset of the region not yet read
	carry   []byte // front-incomplete line carried from later chunks
	pending []scannedLine
	done    bool
}

func newBackwardScanner(file *os.File) (*backwardScanner, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return &backwardScanner{file: file, pos: info.Size(), done: info.Size() == 0}, nil
}

// Next returns the next line moving toward the start of the file. The second
// return value is false once the file start has been reached.
func (s *backwardScanner) Next() (scannedLine, bool, error) {
	for len(s.pending) == 0 {
		if s.done {
			return scannedLine{}, false, nil
		}
		if err := s.readChunk(); err != nil {
			return scannedLine{}, false, err
		}
	}
	line := s.pending[len(s.pending)-1]
	s.pending = s.pending[:len(s.pending)-1]
	return line, true, nil
}

func (s *backwardScanner) readChunk() error {
	start := s.pos - scanChunkSize
	if start < 0 {
		start = 0
	}
	chunk := make([]byte, s.pos-start)
	if _, err := s.file.ReadAt(chunk, start); err != nil && err != io.EOF {
		return err
	}

	// The carry is the contiguous continuation of this chunk, so offsets
	// within the combined buffer map directly onto file offsets from start.
	// The carry itself never contains a newline: it is always the
	// front-incomplete first segment of a later chunk.
	combined := append(chunk, s.carry...)
	if int64(len(combined)) > maxLineSize+scanChunkSize {
		return fmt.Errorf("journal: line exceeds %d bytes", maxLineSize)
	}

	firstNL := bytes.IndexByte(combined, '\n')
	if firstNL < 0 && start > 0 {
		// No line boundary in this chunk; everything is still the front of
		// some earlier-starting line.
		s.carry = combined
		s.pos = start
		return nil
	}

	var lines []scannedLine
	segStart := 0
	for i, b := range combined {
		if b != '\n' {
			continue
		}
		lines = append(lines, scannedLine{
			text:   string(bytes.TrimSpace(combined[segStart:i])),
			offset: start + int64(segStart),
		})
		segStart = i + 1
	}
	// The segment after the last newline is complete: either its end was
	// delimited in a later chunk (the carry), or this is the end of the
	// file, where a trailing line without a final newline still counts as a
	// full record.
	lines = append(lines, scannedLine{
		text:   string(bytes.TrimSpace(combined[segStart:])),
		offset: start + int64(segStart),
	})

	if start == 0 {
		s.done = true
		s.carry = nil
	} else {
		// The front segment may begin in an earlier chunk; carry it over
		// and do not yield it yet.
		s.carry = append([]byte(nil), combined[:firstNL]...)
		lines = lines[1:]
	}

	// Drop blank lines; the journal treats them as padding.
	filtered := make([]scannedLine, 0, len(lines))
	for _, l := range lines {
		if l.text != "" {
			filtered = append(filtered, l)
		}
	}
	s.pending = filtered
	s.pos = start
	return nil
}

// forwardScanner reads journal lines oldest-first, tracking 1-based line
// numbers (blank lines count toward numbering but are not yielded).
type forwardScanner struct {
	scanner *bufio.Scanner
	line    int
}

func newForwardScanner(file *os.File) *forwardScanner {
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, scanChunkSize), maxLineSize)
	return &forwardScanner{scanner: sc}
}

func (s *forwardScanner) Next() (scannedLine, bool, error) {
	for s.scanner.Scan() {
		s.line++
		text := string(bytes.TrimSpace(s.scanner.Bytes()))
		if text == "" {
			continue
		}
		return scannedLine{text: text, number: s.line}, true, nil
	}
	if err := s.scanner.Err(); err != nil {
		return scannedLine{}, false, err
	}
	return scannedLine{}, false, nil
}
