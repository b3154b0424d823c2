// Package artifact persists the fused OCR and STT text to the flat files
// read by the chat collaborator.
package artifact

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// File names are part of the on-disk contract with downstream readers.
const (
	OCRFileName = "ocr_output.txt"
	STTFileName = "stt_output.txt"
)

const (
	partialSuffix = " (partial)"
	finalSuffix   = " (final)"
)

// Writer owns both artifacts. It is used by a single goroutine.
//
// OCR artifact: whole-file overwrite holding only the latest text.
// STT artifact: one "<text> (<partial|final>)" line per revision. A partial
// replaces the last line when that line is a partial; a final supersedes a
// trailing partial and is otherwise appended. Finals are never replaced.
type Writer struct {
	ocrPath string
	sttPath string

	stt           *os.File
	size          int64
	lastLineStart int64
	lastPartial   bool
}

// Open prepares dir and opens the STT artifact, preserving existing lines.
func Open(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}

	w := &Writer{
		ocrPath: filepath.Join(dir, OCRFileName),
		sttPath: filepath.Join(dir, STTFileName),
	}

	f, err := os.OpenFile(w.sttPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", w.sttPath, err)
	}
	w.stt = f

	if err := w.scanTail(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// OCRPath returns the OCR artifact path.
func (w *Writer) OCRPath() string { return w.ocrPath }

// STTPath returns the STT artifact path.
func (w *Writer) STTPath() string { return w.sttPath }

// WriteOCR overwrites the OCR artifact with text.
func (w *Writer) WriteOCR(text string) error {
	if err := os.WriteFile(w.ocrPath, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", w.ocrPath, err)
	}
	return nil
}

// WriteSTT merges a transcript revision into the STT artifact.
func (w *Writer) WriteSTT(text string, final bool) error {
	line := FormatLine(text, final)

	start := w.size
	if w.lastPartial {
		start = w.lastLineStart
	}

	if err := w.stt.Truncate(start); err != nil {
		return fmt.Errorf("truncate %s: %w", w.sttPath, err)
	}
	n, err := w.stt.WriteAt([]byte(line), start)
	if err != nil {
		return fmt.Errorf("write %s: %w", w.sttPath, err)
	}

	w.lastLineStart = start
	w.size = start + int64(n)
	w.lastPartial = !final
	return nil
}

// Close releases the STT artifact handle.
func (w *Writer) Close() error {
	if w.stt == nil {
		return nil
	}
	err := w.stt.Close()
	w.stt = nil
	return err
}

// FormatLine renders a transcript revision as a single artifact line.
func FormatLine(text string, final bool) string {
	text = strings.Join(strings.Fields(text), " ")
	if final {
		return text + finalSuffix + "\n"
	}
	return text + partialSuffix + "\n"
}

// scanTail locates the last line so partial replacement survives restarts.
func (w *Writer) scanTail() error {
	if _, err := w.stt.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", w.sttPath, err)
	}

	r := bufio.NewReader(w.stt)
	var offset int64
	var lastLine string
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			w.lastLineStart = offset
			offset += int64(len(line))
			lastLine = line
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", w.sttPath, err)
		}
	}
	w.size = offset

	if lastLine != "" && !strings.HasSuffix(lastLine, "\n") {
		if _, err := w.stt.WriteAt([]byte("\n"), w.size); err != nil {
			return fmt.Errorf("terminate last line of %s: %w", w.sttPath, err)
		}
		w.size++
		lastLine += "\n"
	}
	w.lastPartial = strings.HasSuffix(lastLine, partialSuffix+"\n")
	return nil
}
