// Package medium carries smart requests over a byte connection. Frames are
// bencoded lists:
//
//	request:  ["call", verb, [arg, ...]] then ["chunk", bytes]... then ["end"]
//	response: ["success"|"failed", [arg, ...]] then ["chunk", bytes]... then ["end"]
//
// Every request is terminated by an "end" frame, body or not, so the server
// never needs per-verb knowledge to stay in sync with the stream.
package medium

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zeebo/bencode"

	"github.com/breezy-team/breezy-sub027/internal/smart"
	"github.com/breezy-team/breezy-sub027/internal/wire"
)

// Serve runs the request loop on conn until the peer disconnects. A clean
// EOF between requests returns nil; a disconnect mid-request aborts the
// in-flight handler and reports the read error.
func Serve(conn io.ReadWriter, d *smart.Dispatcher, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	dec := bencode.NewDecoder(conn)
	w := bufio.NewWriter(conn)
	enc := bencode.NewEncoder(w)
	for {
		frame, err := readFrame(dec)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if frame.kind != "call" {
			return fmt.Errorf("medium: expected call frame, got %q", frame.kind)
		}
		h := d.NewHandler()
		h.ArgsReceived(frame.args)
		if err := drainRequest(dec, h); err != nil {
			h.Abort()
			return err
		}
		if err := writeResponse(enc, w, h.Response(), logger); err != nil {
			return err
		}
	}
}

type frame struct {
	kind  string
	args  [][]byte
	chunk []byte
}

func readFrame(dec *bencode.Decoder) (frame, error) {
	var raw []bencode.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return frame{}, err
	}
	if len(raw) == 0 {
		return frame{}, fmt.Errorf("medium: empty frame")
	}
	var kind string
	if err := bencode.DecodeBytes(raw[0], &kind); err != nil {
		return frame{}, fmt.Errorf("medium: bad frame kind: %w", err)
	}
	f := frame{kind: kind}
	switch kind {
	case "call":
		if len(raw) != 3 {
			return frame{}, fmt.Errorf("medium: call frame needs verb and args")
		}
		var verb string
		if err := bencode.DecodeBytes(raw[1], &verb); err != nil {
			return frame{}, err
		}
		var args []string
		if err := bencode.DecodeBytes(raw[2], &args); err != nil {
			return frame{}, err
		}
		f.args = append(f.args, []byte(verb))
		for _, a := range args {
			f.args = append(f.args, []byte(a))
		}
	case "chunk":
		if len(raw) != 2 {
			return frame{}, fmt.Errorf("medium: chunk frame needs a payload")
		}
		var chunk string
		if err := bencode.DecodeBytes(raw[1], &chunk); err != nil {
			return frame{}, err
		}
		f.chunk = []byte(chunk)
	case "end":
	default:
		return frame{}, fmt.Errorf("medium: unknown frame kind %q", kind)
	}
	return f, nil
}

// drainRequest consumes chunk frames up to the end marker. The handler
// ignores chunks once it has produced a response, so an early failure does
// not desynchronise the stream.
func drainRequest(dec *bencode.Decoder, h *smart.RequestHandler) error {
	for {
		f, err := readFrame(dec)
		if err != nil {
			return err
		}
		switch f.kind {
		case "chunk":
			h.AcceptBody(f.chunk)
		case "end":
			h.EndReceived()
			return nil
		default:
			return fmt.Errorf("medium: unexpected %q frame inside request", f.kind)
		}
	}
}

func writeResponse(enc *bencode.Encoder, w *bufio.Writer, resp *wire.Response, logger *slog.Logger) error {
	if resp == nil {
		// A handler that produced no response is a server bug; answer with
		// a generic failure rather than stalling the client.
		logger.Error("request produced no response")
		resp = wire.TranslateToFailure(&wire.ProtocolError{Msg: "no response"})
	}
	status := "success"
	if !resp.Successful() {
		status = "failed"
	}
	args := make([]string, len(resp.Args))
	for i, a := range resp.Args {
		args[i] = string(a)
	}
	if err := enc.Encode([]interface{}{status, args}); err != nil {
		return err
	}
	if resp.HasBody() {
		if err := enc.Encode([]interface{}{"chunk", string(resp.Body)}); err != nil {
			return err
		}
	}
	if resp.BodyStream != nil {
		if err := writeStream(enc, resp.BodyStream, logger); err != nil {
			return err
		}
	}
	if err := enc.Encode([]interface{}{"end"}); err != nil {
		return err
	}
	return w.Flush()
}

func writeStream(enc *bencode.Encoder, stream wire.ByteStream, logger *slog.Logger) error {
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// Streams fail after the success header has been sent; the
			// best we can do is tell the client which error ended it.
			logger.Error("body stream failed", "error", err)
			return enc.Encode([]interface{}{"failed", tupleStrings(wire.Translate(err))})
		}
		if len(chunk) == 0 {
			continue
		}
		if err := enc.Encode([]interface{}{"chunk", string(chunk)}); err != nil {
			return err
		}
	}
}

func tupleStrings(args [][]byte) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = string(a)
	}
	return out
}
