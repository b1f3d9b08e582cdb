// Package pack implements the self-delimited container format used to move
// record streams over the smart protocol.
//
// A container is a format line, a sequence of framed byte records, and a
// one-byte end marker. Each record carries a length, zero or more names
// (tuples of whitespace-free byte strings), and a body:
//
//	B<length>\n<name part>\x00<name part>\n...\n\n<body>
//
// The Serialiser produces container bytes; the PushParser consumes them
// incrementally from arbitrarily sized chunks.
package pack

import (
	"bytes"
	"fmt"
)

// FormatOne is the container format line (without the trailing newline).
const FormatOne = "Bazaar pack format 1 (introduced in 0.18)"

// Name is one record name: a tuple of parts, each a non-empty byte string
// containing no whitespace.
type Name [][]byte

// Record is one framed byte record.
type Record struct {
	Names []Name
	Body  []byte
}

// UnknownFormatError indicates a container whose format line was not
// recognised.
type UnknownFormatError struct {
	Format string
}

func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("unrecognised container format %q", e.Format)
}

// UnknownRecordTypeError indicates a record kind marker other than B or E.
type UnknownRecordTypeError struct {
	Type byte
}

func (e *UnknownRecordTypeError) Error() string {
	return fmt.Sprintf("unknown record type %q", string(e.Type))
}

// InvalidRecordError indicates a record that could not be parsed.
type InvalidRecordError struct {
	Reason string
}

func (e *InvalidRecordError) Error() string {
	return "invalid record: " + e.Reason
}

// UnexpectedEndError indicates a container truncated before its end marker.
type UnexpectedEndError struct{}

func (e *UnexpectedEndError) Error() string {
	return "unexpected end of container stream"
}

// ExcessDataError indicates bytes after the container end marker.
type ExcessDataError struct {
	Excess []byte
}

func (e *ExcessDataError) Error() string {
	return fmt.Sprintf("container has %d bytes of data after end marker", len(e.Excess))
}

var whitespace = []byte("\t\n\x0b\x0c\r ")

func checkNamePart(part []byte) error {
	if len(part) == 0 {
		return &InvalidRecordError{Reason: "empty name part"}
	}
	if bytes.ContainsAny(part, string(whitespace)) {
		return &InvalidRecordError{Reason: fmt.Sprintf("name part %q contains whitespace", part)}
	}
	return nil
}

// Serialiser returns the container bytes for each structural element. It
// holds no state; callers are responsible for emitting begin, records, and
// end in order.
type Serialiser struct{}

// Begin returns the bytes that open a container.
func (Serialiser) Begin() []byte {
	return []byte(FormatOne + "\n")
}

// End returns the bytes that close a container.
func (Serialiser) End() []byte {
	return []byte("E")
}

// BytesHeader returns the header for a record of the given body length.
// When the body is large, emit the header first and stream the body after
// it instead of joining them with BytesRecord.
func (Serialiser) BytesHeader(length int, names []Name) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('B')
	fmt.Fprintf(&buf, "%d\n", length)
	for _, name := range names {
		for i, part := range name {
			if err := checkNamePart(part); err != nil {
				return nil, err
			}
			if i > 0 {
				buf.WriteByte(0)
			}
			buf.Write(part)
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// BytesRecord returns the full framed bytes for one record.
func (s Serialiser) BytesRecord(body []byte, names []Name) ([]byte, error) {
	header, err := s.BytesHeader(len(body), names)
	if err != nil {
		return nil, err
	}
	return append(header, body...), nil
}
