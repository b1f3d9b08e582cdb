package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevisionRecord_Encoding(t *testing.T) {
	rec := RevisionRecord{
		ID:      "rev-3",
		Parents: []RevisionID{"rev-2", "rev-2b"},
		Text:    []byte("revision content\nwith newlines\n"),
	}
	body := EncodeRevisionRecord(rec)
	assert.Equal(t, "rev-3\nrev-2 rev-2b\n\nrevision content\nwith newlines\n", string(body))

	got, err := DecodeRevisionRecord(body)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestRevisionRecord_NoParents(t *testing.T) {
	rec := RevisionRecord{ID: "rev-1", Text: []byte("root")}
	got, err := DecodeRevisionRecord(EncodeRevisionRecord(rec))
	require.NoError(t, err)
	assert.Equal(t, RevisionID("rev-1"), got.ID)
	assert.Empty(t, got.Parents)
	assert.Equal(t, "root", string(got.Text))
}

func TestRevisionRecord_Basis(t *testing.T) {
	rec := RevisionRecord{
		ID:      "rev-2",
		Parents: []RevisionID{"rev-1"},
		Basis:   "rev-1",
		Text:    []byte("delta against rev-1"),
	}
	body := EncodeRevisionRecord(rec)
	assert.Contains(t, string(body), "basis: rev-1\n")

	got, err := DecodeRevisionRecord(body)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestDecodeRevisionRecord_Malformed(t *testing.T) {
	for _, body := range []string{
		"",
		"\n",
		"rev-1",
		"rev-1\nrev-0",
		"rev-1\nrev-0\njunk\ntext",
	} {
		_, err := DecodeRevisionRecord([]byte(body))
		assert.Error(t, err, "body %q", body)
	}
}
