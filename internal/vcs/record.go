package vcs

import (
	"bytes"
	"fmt"
	"strings"
)

// RevisionRecord is one revision as carried in a pack stream substream.
// Text is the full content unless Basis names another revision, in which
// case the receiver needs that basis present before the record can be
// committed.
type RevisionRecord struct {
	ID      RevisionID
	Parents []RevisionID
	Basis   RevisionID
	Text    []byte
}

// EncodeRevisionRecord renders a record body:
//
//	<id> LF <parents, space-joined> LF [basis: <id> LF] LF <text>
func EncodeRevisionRecord(r RevisionRecord) []byte {
	var buf bytes.Buffer
	buf.WriteString(string(r.ID))
	buf.WriteByte('\n')
	parts := make([]string, len(r.Parents))
	for i, p := range r.Parents {
		parts[i] = string(p)
	}
	buf.WriteString(strings.Join(parts, " "))
	buf.WriteByte('\n')
	if r.Basis != "" {
		buf.WriteString("basis: ")
		buf.WriteString(string(r.Basis))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(r.Text)
	return buf.Bytes()
}

// DecodeRevisionRecord parses a record body produced by EncodeRevisionRecord.
func DecodeRevisionRecord(body []byte) (RevisionRecord, error) {
	var rec RevisionRecord
	rest := body
	line, rest, ok := bytes.Cut(rest, []byte("\n"))
	if !ok || len(line) == 0 {
		return rec, fmt.Errorf("revision record: missing id line")
	}
	rec.ID = RevisionID(line)
	line, rest, ok = bytes.Cut(rest, []byte("\n"))
	if !ok {
		return rec, fmt.Errorf("revision record %s: missing parents line", rec.ID)
	}
	if len(line) > 0 {
		for _, p := range bytes.Split(line, []byte(" ")) {
			rec.Parents = append(rec.Parents, RevisionID(p))
		}
	}
	line, rest, ok = bytes.Cut(rest, []byte("\n"))
	if !ok {
		return rec, fmt.Errorf("revision record %s: truncated header", rec.ID)
	}
	if basis, found := bytes.CutPrefix(line, []byte("basis: ")); found {
		rec.Basis = RevisionID(basis)
		line, rest, ok = bytes.Cut(rest, []byte("\n"))
		if !ok {
			return rec, fmt.Errorf("revision record %s: truncated header", rec.ID)
		}
	}
	if len(line) != 0 {
		return rec, fmt.Errorf("revision record %s: malformed header line %q", rec.ID, line)
	}
	rec.Text = rest
	return rec, nil
}
