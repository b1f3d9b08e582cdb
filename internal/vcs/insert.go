package vcs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/breezy-team/breezy-sub027/internal/pack"
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// InsertSink is the staging surface RunInsertStream drives. Both backends
// implement it on top of their write-group machinery.
type InsertSink interface {
	FormatName() []byte
	StartWriteGroup() error
	HasActiveWriteGroup() bool
	StageRecord(rec RevisionRecord, kind string) error
	MissingBases() ([]MissingKey, error)
	SuspendWriteGroup() ([]Token, error)
	ResumeWriteGroup(tokens []Token) error
	CommitWriteGroup() error
}

// RunInsertStream decodes a record stream into the sink's write group and
// finishes it: commit when every basis is satisfied, suspend and report
// tokens plus sorted missing keys otherwise. Resume tokens reinstate
// previously suspended groups before any new record is staged.
func RunInsertStream(sink InsertSink, format []byte, stream *pack.StreamReader, resumeTokens []Token) (*InsertResult, error) {
	if !bytes.Equal(format, sink.FormatName()) {
		return nil, &wire.ProtocolError{Msg: fmt.Sprintf("unknown stream format %q", format)}
	}
	if len(resumeTokens) > 0 {
		if err := sink.ResumeWriteGroup(resumeTokens); err != nil {
			return nil, err
		}
	}
	if !sink.HasActiveWriteGroup() {
		if err := sink.StartWriteGroup(); err != nil {
			return nil, err
		}
	}
	for {
		kind, sub, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for {
			body, err := sub.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			rec, err := DecodeRevisionRecord(body)
			if err != nil {
				return nil, err
			}
			if err := sink.StageRecord(rec, kind); err != nil {
				return nil, err
			}
		}
	}
	missing, err := sink.MissingBases()
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		tokens, err := sink.SuspendWriteGroup()
		if err != nil {
			return nil, err
		}
		return &InsertResult{WriteGroupTokens: tokens, MissingKeys: missing}, nil
	}
	if err := sink.CommitWriteGroup(); err != nil {
		return nil, err
	}
	return &InsertResult{}, nil
}
