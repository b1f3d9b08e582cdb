package wire

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Translate maps an error to its wire tuple. Members of the taxonomy in
// errors.go translate to their specific tuples; any other error is logged
// server-side and becomes a generic ("error", type, message) tuple so that
// no failure is ever fatal to the serving process.
func Translate(err error) [][]byte {
	var (
		unknownMethod *UnknownMethodError
		disabled      *DisabledMethodError
		protocol      *ProtocolError
		badSearch     *BadSearchError
		noSuchRev     *NoSuchRevisionError
		ghostRevno    *GhostRevisionsHaveNoRevnoError
		diverged      *DivergedError
		contention    *LockContentionError
		tokenMismatch *TokenMismatchError
		lockFailed    *LockFailedError
		unlockable    *UnlockableTransportError
		unsuspendable *UnsuspendableWriteGroupError
		unresumable   *UnresumableWriteGroupError
		jailBreak     *JailBreakError
		notChild      *PathNotChildError
		noSuchFile    *NoSuchFileError
		fileExists    *FileExistsError
		dirNotEmpty   *DirectoryNotEmptyError
		permDenied    *PermissionDeniedError
		readOnly      *ReadOnlyError
		notBranch     *NotBranchError
	)
	switch {
	case errors.As(err, &unknownMethod):
		return tuple("UnknownMethod", unknownMethod.Verb)
	case errors.As(err, &disabled):
		return tuple("DisabledMethod", disabled.Verb)
	case errors.As(err, &protocol):
		return tuple("SmartProtocolError", protocol.Msg)
	case errors.As(err, &badSearch):
		return tuple("BadSearch")
	case errors.As(err, &noSuchRev):
		if noSuchRev.RevisionID == "" {
			return tuple("NoSuchRevision")
		}
		return tuple("NoSuchRevision", noSuchRev.RevisionID)
	case errors.As(err, &ghostRevno):
		return tuple("GhostRevisionsHaveNoRevno", ghostRevno.RevisionID, ghostRevno.GhostID)
	case errors.As(err, &diverged):
		return tuple("Diverged")
	case errors.As(err, &contention):
		return tuple("LockContention")
	case errors.As(err, &tokenMismatch):
		return tuple("TokenMismatch", tokenMismatch.Given, tokenMismatch.Held)
	case errors.As(err, &lockFailed):
		return tuple("LockFailed", lockFailed.Lock, lockFailed.Why)
	case errors.As(err, &unlockable):
		return tuple("UnlockableTransport")
	case errors.As(err, &unsuspendable):
		return tuple("UnsuspendableWriteGroup")
	case errors.As(err, &unresumable):
		return tuple("UnresumableWriteGroup",
			strings.Join(unresumable.Tokens, " "), unresumable.Reason)
	case errors.As(err, &jailBreak):
		return tuple("JailBreak", jailBreak.Path)
	case errors.As(err, &notChild):
		return tuple("PathNotChild", notChild.Path, notChild.Base)
	case errors.As(err, &noSuchFile):
		return tuple("NoSuchFile", noSuchFile.Path)
	case errors.As(err, &fileExists):
		return tuple("FileExists", fileExists.Path)
	case errors.As(err, &dirNotEmpty):
		return tuple("DirectoryNotEmpty", dirNotEmpty.Path)
	case errors.As(err, &permDenied):
		return tuple("PermissionDenied", permDenied.Path, permDenied.Extra)
	case errors.As(err, &readOnly):
		return tuple("ReadOnlyError")
	case errors.As(err, &notBranch):
		return tuple("nobranch")
	}
	slog.Error("unclassified handler error", "error", err, "type", fmt.Sprintf("%T", err))
	return tuple("error", fmt.Sprintf("%T", err), err.Error())
}

// TranslateToFailure is shorthand for a Failed response carrying the
// translated tuple of err.
func TranslateToFailure(err error) *Response {
	return NewFailure(Translate(err)...)
}

func tuple(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}
