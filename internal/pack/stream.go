package pack

import (
	"io"
)

// ByteSource yields chunks of container bytes, io.EOF at end. The chunk
// boundaries carry no meaning; sources may split the container anywhere.
type ByteSource interface {
	Next() ([]byte, error)
}

// RecordSource yields the serialized records of one substream, io.EOF at
// end.
type RecordSource interface {
	Next() ([]byte, error)
}

// StreamSource yields substreams in order: a substream kind plus the source
// of its records. io.EOF at end.
type StreamSource interface {
	Next() (kind string, records RecordSource, err error)
}

// Substream is a fully materialised substream, convenient for tests and
// small responses.
type Substream struct {
	Kind    string
	Records [][]byte
}

type sliceRecordSource struct {
	records [][]byte
}

func (s *sliceRecordSource) Next() ([]byte, error) {
	if len(s.records) == 0 {
		return nil, io.EOF
	}
	r := s.records[0]
	s.records = s.records[1:]
	return r, nil
}

type sliceStreamSource struct {
	substreams []Substream
}

func (s *sliceStreamSource) Next() (string, RecordSource, error) {
	if len(s.substreams) == 0 {
		return "", nil, io.EOF
	}
	sub := s.substreams[0]
	s.substreams = s.substreams[1:]
	return sub.Kind, &sliceRecordSource{records: sub.Records}, nil
}

// NewSliceSource returns a StreamSource over materialised substreams.
func NewSliceSource(substreams ...Substream) StreamSource {
	return &sliceStreamSource{substreams: substreams}
}

type encoderState int

const (
	encBegin encoderState = iota
	encFormat
	encRecords
	encEnd
	encDone
)

// StreamEncoder turns a record stream into container bytes, one structural
// element per Next call. The first record of the container names the source
// format and carries no names; every following record is tagged with its
// substream kind. Records whose serialized form is empty are skipped: some
// streams embed the whole substream in the wire form of their first record.
type StreamEncoder struct {
	serialiser Serialiser
	format     []byte
	source     StreamSource
	current    RecordSource
	kind       string
	state      encoderState
}

// NewStreamEncoder returns an encoder for the given source format name and
// substream source. It implements the response body-stream contract: Next
// returns io.EOF after the end marker.
func NewStreamEncoder(format []byte, source StreamSource) *StreamEncoder {
	return &StreamEncoder{format: format, source: source}
}

func (e *StreamEncoder) Next() ([]byte, error) {
	for {
		switch e.state {
		case encBegin:
			e.state = encFormat
			return e.serialiser.Begin(), nil
		case encFormat:
			e.state = encRecords
			return e.serialiser.BytesRecord(e.format, nil)
		case encRecords:
			if e.current == nil {
				kind, records, err := e.source.Next()
				if err == io.EOF {
					e.state = encEnd
					continue
				}
				if err != nil {
					return nil, err
				}
				e.kind = kind
				e.current = records
			}
			body, err := e.current.Next()
			if err == io.EOF {
				e.current = nil
				continue
			}
			if err != nil {
				return nil, err
			}
			if len(body) == 0 {
				continue
			}
			return e.serialiser.BytesRecord(body, []Name{{[]byte(e.kind)}})
		case encEnd:
			e.state = encDone
			return e.serialiser.End(), nil
		default:
			return nil, io.EOF
		}
	}
}

// StreamReader reconstructs (kind, records) substreams from container bytes
// arriving as arbitrary chunks. It keeps one record of lookahead so a
// substream boundary can be detected without buffering the input.
type StreamReader struct {
	parser  *PushParser
	src     ByteSource
	pending []Record
	peeked  *Record
	current *SubstreamReader
	srcDone bool
}

// NewStreamReader consumes the container prelude from src and returns the
// source format name plus a reader positioned at the first substream.
func NewStreamReader(src ByteSource) ([]byte, *StreamReader, error) {
	r := &StreamReader{parser: NewPushParser(), src: src}
	format, err := r.nextRecord()
	if err == io.EOF {
		return nil, nil, &UnexpectedEndError{}
	}
	if err != nil {
		return nil, nil, err
	}
	if len(format.Names) != 0 {
		return nil, nil, &InvalidRecordError{Reason: "container format record must carry no names"}
	}
	return format.Body, r, nil
}

// nextRecord returns the next framed record, pulling chunks from the source
// as needed. io.EOF after the container end marker.
func (r *StreamReader) nextRecord() (Record, error) {
	for {
		if len(r.pending) == 0 {
			r.pending = r.parser.PendingRecords(0)
		}
		if len(r.pending) > 0 {
			rec := r.pending[0]
			r.pending = r.pending[1:]
			return rec, nil
		}
		if r.parser.Finished() {
			return Record{}, io.EOF
		}
		if r.srcDone {
			return Record{}, &UnexpectedEndError{}
		}
		chunk, err := r.src.Next()
		if err == io.EOF {
			r.srcDone = true
			continue
		}
		if err != nil {
			return Record{}, err
		}
		if err := r.parser.Accept(chunk); err != nil {
			return Record{}, err
		}
	}
}

func recordKind(rec Record) (string, error) {
	if len(rec.Names) != 1 || len(rec.Names[0]) == 0 {
		return "", &InvalidRecordError{Reason: "stream record must carry exactly one name"}
	}
	return string(rec.Names[0][0]), nil
}

// Next yields the next substream. Any unread records of the previous
// substream are drained first. io.EOF when the container is exhausted.
func (r *StreamReader) Next() (string, *SubstreamReader, error) {
	if r.current != nil && !r.current.done {
		for {
			if _, err := r.current.Next(); err == io.EOF {
				break
			} else if err != nil {
				return "", nil, err
			}
		}
	}
	if r.peeked == nil {
		rec, err := r.nextRecord()
		if err != nil {
			return "", nil, err
		}
		r.peeked = &rec
	}
	kind, err := recordKind(*r.peeked)
	if err != nil {
		return "", nil, err
	}
	r.current = &SubstreamReader{reader: r, kind: kind}
	return kind, r.current, nil
}

// SubstreamReader yields the record bodies of one substream, io.EOF when
// the substream's maximal run of same-kind records ends.
type SubstreamReader struct {
	reader *StreamReader
	kind   string
	done   bool
}

func (s *SubstreamReader) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	r := s.reader
	if r.peeked == nil {
		rec, err := r.nextRecord()
		if err == io.EOF {
			s.done = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		r.peeked = &rec
	}
	kind, err := recordKind(*r.peeked)
	if err != nil {
		return nil, err
	}
	if kind != s.kind {
		// Substream boundary: leave the record for the next substream.
		s.done = true
		return nil, io.EOF
	}
	body := r.peeked.Body
	r.peeked = nil
	return body, nil
}
