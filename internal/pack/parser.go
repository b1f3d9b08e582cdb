package pack

import (
	"bytes"
	"strconv"
)

type parserState int

const (
	stateExpectingFormat parserState = iota
	stateExpectingRecordType
	stateExpectingLength
	stateExpectingName
	stateExpectingBody
	stateExpectingNothing
)

// PushParser is an incremental parser for container format 1. Bytes go in
// via Accept in whatever sized chunks the network delivers; complete records
// come out via PendingRecords. The parser never blocks and never buffers
// more than one partial record beyond the unconsumed input.
type PushParser struct {
	buf      []byte
	state    parserState
	pending  []Record
	length   int
	names    []Name
	finished bool
}

// NewPushParser returns a parser expecting a full container, starting with
// the format line.
func NewPushParser() *PushParser {
	return &PushParser{state: stateExpectingFormat}
}

// Finished reports whether the container end marker has been seen.
func (p *PushParser) Finished() bool {
	return p.finished
}

// Accept feeds a chunk of container bytes to the parser. The state machine
// is stepped until it stops consuming input.
func (p *PushParser) Accept(chunk []byte) error {
	p.buf = append(p.buf, chunk...)
	for {
		lastLen := len(p.buf)
		lastState := p.state
		if err := p.step(); err != nil {
			return err
		}
		if len(p.buf) == lastLen && p.state == lastState {
			return nil
		}
	}
}

// PendingRecords returns up to max parsed records (all of them when max <=
// 0) and removes them from the parser.
func (p *PushParser) PendingRecords(max int) []Record {
	if max <= 0 || max >= len(p.pending) {
		records := p.pending
		p.pending = nil
		return records
	}
	records := p.pending[:max:max]
	p.pending = p.pending[max:]
	return records
}

// ReadSizeHint suggests how many bytes to read next. While a record body is
// pending it returns the number of outstanding body bytes, so large records
// are not drip-fed through small reads.
func (p *PushParser) ReadSizeHint() int {
	const hint = 16384
	if p.state == stateExpectingBody {
		remaining := p.length - len(p.buf)
		if remaining > hint {
			return remaining
		}
	}
	return hint
}

// consumeLine removes one newline-terminated line from the buffer. It
// returns (nil, false) when no full line is buffered yet.
func (p *PushParser) consumeLine() ([]byte, bool) {
	i := bytes.IndexByte(p.buf, '\n')
	if i < 0 {
		return nil, false
	}
	line := p.buf[:i:i]
	p.buf = p.buf[i+1:]
	return line, true
}

func (p *PushParser) step() error {
	switch p.state {
	case stateExpectingFormat:
		line, ok := p.consumeLine()
		if !ok {
			return nil
		}
		if string(line) != FormatOne {
			return &UnknownFormatError{Format: string(line)}
		}
		p.state = stateExpectingRecordType

	case stateExpectingRecordType:
		if len(p.buf) == 0 {
			return nil
		}
		kind := p.buf[0]
		p.buf = p.buf[1:]
		switch kind {
		case 'B':
			p.state = stateExpectingLength
		case 'E':
			p.finished = true
			p.state = stateExpectingNothing
		default:
			return &UnknownRecordTypeError{Type: kind}
		}

	case stateExpectingLength:
		line, ok := p.consumeLine()
		if !ok {
			return nil
		}
		length, err := strconv.Atoi(string(line))
		if err != nil || length < 0 {
			return &InvalidRecordError{Reason: strconv.Quote(string(line)) + " is not a valid length"}
		}
		p.length = length
		p.state = stateExpectingName

	case stateExpectingName:
		line, ok := p.consumeLine()
		if !ok {
			return nil
		}
		if len(line) == 0 {
			p.state = stateExpectingBody
			return nil
		}
		parts := bytes.Split(line, []byte{0})
		name := make(Name, len(parts))
		for i, part := range parts {
			if err := checkNamePart(part); err != nil {
				return err
			}
			name[i] = part
		}
		p.names = append(p.names, name)

	case stateExpectingBody:
		if len(p.buf) < p.length {
			return nil
		}
		body := p.buf[:p.length:p.length]
		p.buf = p.buf[p.length:]
		p.pending = append(p.pending, Record{Names: p.names, Body: body})
		p.names = nil
		p.length = 0
		p.state = stateExpectingRecordType

	case stateExpectingNothing:
		if len(p.buf) > 0 {
			return &ExcessDataError{Excess: p.buf}
		}
	}
	return nil
}
