package tuitest

import (
	"bytes"
	"io"
)

// terminalReplies answers the queries termenv and bubbletea send at startup
// so the program does not stall waiting for a real terminal.
var terminalReplies = []struct {
	query []byte
	reply []byte
}{
	{[]byte("\x1b[6n"), []byte("\x1b[1;1R")},
	{[]byte("\x1b[c"), []byte("\x1b[?62;22c")},
	{[]byte("\x1b]10;?\x07"), []byte("\x1b]10;rgb:e6e6/eded/ffff\x07")},
	{[]byte("\x1b]10;?\x1b\\"), []byte("\x1b]10;rgb:e6e6/eded/ffff\x1b\\")},
	{[]byte("\x1b]11;?\x07"), []byte("\x1b]11;rgb:0b0b/1515/3333\x07")},
	{[]byte("\x1b]11;?\x1b\\"), []byte("\x1b]11;rgb:0b0b/1515/3333\x1b\\")},
}

type terminalResponder struct {
	w   io.Writer
	buf []byte
}

func newTerminalResponder(w io.Writer) *terminalResponder {
	return &terminalResponder{w: w, buf: make([]byte, 0, 128)}
}

func (tr *terminalResponder) Process(chunk []byte) {
	tr.buf = append(tr.buf, chunk...)
	for tr.answerOne() {
	}
	// keep a tail for queries split across reads
	if len(tr.buf) > 256 {
		tr.buf = tr.buf[len(tr.buf)-64:]
	}
}

func (tr *terminalResponder) answerOne() bool {
	for _, r := range terminalReplies {
		idx := bytes.Index(tr.buf, r.query)
		if idx < 0 {
			continue
		}
		tr.buf = tr.buf[idx+len(r.query):]
		_, _ = tr.w.Write(r.reply)
		return true
	}
	return false
}
