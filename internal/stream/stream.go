// Package stream decodes streaming text-generation responses into deltas.
//
// Backends frame their streams differently. A Framing turns one complete
// line into at most one Delta; the Decoder owns line buffering so framings
// never see partial input, whatever the transport's chunk boundaries.
package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrUnexpectedEOF is returned when the transport ends before a terminal delta.
var ErrUnexpectedEOF = errors.New("stream ended before completion")

// Delta is an incremental fragment of generated text.
// Terminal marks the end of generation and is always the last delta.
type Delta struct {
	Text     string
	Terminal bool
}

// Framing decodes one line of a backend stream.
// ok is false when the line carries no delta (keep-alives, markers, metadata).
type Framing interface {
	Name() string
	DecodeLine(line []byte) (d Delta, ok bool, err error)
}

// DecodeError reports a line that could not be decoded.
type DecodeError struct {
	Framing string
	Line    string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: cannot decode %q: %v", e.Framing, truncate(e.Line, 120), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder yields deltas from a byte stream on demand.
// It reads from the transport only while the current line is incomplete.
type Decoder struct {
	r       *bufio.Reader
	framing Framing
	err     error
}

// NewDecoder creates a decoder reading r with the given framing.
func NewDecoder(r io.Reader, framing Framing) *Decoder {
	return &Decoder{
		r:       bufio.NewReader(r),
		framing: framing,
	}
}

// Framing returns the framing the decoder was built with.
func (d *Decoder) Framing() Framing {
	return d.framing
}

// Next returns the next delta. After the terminal delta it returns io.EOF.
// Transport failures, undecodable lines and a stream that ends without a
// terminal delta are returned as errors; once an error is returned every
// later call returns it again.
func (d *Decoder) Next() (Delta, error) {
	if d.err != nil {
		return Delta{}, d.err
	}

	for {
		line, readErr := d.r.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			d.err = fmt.Errorf("stream read failed: %w", readErr)
			return Delta{}, d.err
		}
		atEOF := readErr != nil

		line = bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(line)) > 0 {
			delta, ok, err := d.framing.DecodeLine(line)
			if err != nil {
				d.err = &DecodeError{Framing: d.framing.Name(), Line: string(line), Err: err}
				return Delta{}, d.err
			}
			if ok {
				if delta.Terminal {
					d.err = io.EOF
				}
				return delta, nil
			}
		}

		if atEOF {
			d.err = ErrUnexpectedEOF
			return Delta{}, d.err
		}
	}
}

// New returns the framing registered under name.
func New(name string) (Framing, error) {
	switch name {
	case "ndjson":
		return NDJSON{}, nil
	case "sse":
		return SSE{}, nil
	case "anthropic":
		return Anthropic{}, nil
	default:
		return nil, fmt.Errorf("unknown stream framing: %s", name)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
