package wire

import (
	"fmt"
	"io"
)

// ByteStream produces the chunks of a lazily generated response body.
// Next returns io.EOF after the final chunk. A non-EOF error aborts the
// stream; the transport layer reports it to the client as a trailing
// failure.
type ByteStream interface {
	Next() ([]byte, error)
}

// Response is the result of executing one verb. Args is the response tuple;
// at most one of Body and BodyStream may be set.
//
// Use NewSuccess/NewFailure (and their body variants) rather than
// constructing a Response directly; the constructors enforce the
// body-or-stream exclusivity.
type Response struct {
	Args       [][]byte
	Body       []byte
	BodyStream ByteStream

	successful bool
}

// Successful reports whether the response carries a success status.
func (r *Response) Successful() bool {
	return r.successful
}

// HasBody reports whether the response carries an inline body.
// A nil Body means no body; an empty body is encoded as a non-nil empty
// slice.
func (r *Response) HasBody() bool {
	return r.Body != nil
}

func (r *Response) String() string {
	status := "failed"
	if r.successful {
		status = "success"
	}
	return fmt.Sprintf("<response %s args=%q body=%d bytes stream=%v>",
		status, r.Args, len(r.Body), r.BodyStream != nil)
}

// NewSuccess returns a successful response with no body.
func NewSuccess(args ...[]byte) *Response {
	return &Response{Args: args, successful: true}
}

// NewSuccessWithBody returns a successful response carrying an inline body.
func NewSuccessWithBody(body []byte, args ...[]byte) *Response {
	if body == nil {
		body = []byte{}
	}
	return &Response{Args: args, Body: body, successful: true}
}

// NewSuccessWithStream returns a successful response whose body is produced
// lazily by stream.
func NewSuccessWithStream(stream ByteStream, args ...[]byte) *Response {
	return &Response{Args: args, BodyStream: stream, successful: true}
}

// NewFailure returns a failed response with the given error tuple.
func NewFailure(args ...[]byte) *Response {
	return &Response{Args: args}
}

// BytesStream adapts a fixed slice of chunks into a ByteStream.
// Useful in tests and for small streamed responses.
type BytesStream struct {
	chunks [][]byte
}

// NewBytesStream returns a ByteStream yielding the given chunks in order.
func NewBytesStream(chunks ...[]byte) *BytesStream {
	return &BytesStream{chunks: chunks}
}

// Next implements ByteStream.
func (s *BytesStream) Next() ([]byte, error) {
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

// Drain reads a ByteStream to exhaustion and returns the concatenated body.
func Drain(s ByteStream) ([]byte, error) {
	var out []byte
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, chunk...)
	}
}
