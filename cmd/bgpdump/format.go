// Output formatters for bgpdump: a small Formatter interface with
// text and JSON implementations over a decoded *bgpmsg.Message.
package main

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/CSUNetSec/bgpcore/bgpmsg"
)

// Formatter turns one passing Message into its on-disk
// representation. summarize is called once after every input file has
// been scanned, for formatters (like PrefixDedup) that only produce
// output at the end of a run.
type Formatter interface {
	format(msgNum int, msg *bgpmsg.Message) (string, error)
	summarize()
}

// TextFormatter prints a one-line-per-message, numbered dump -- the
// only formatter that needs the running message count.
type TextFormatter struct {
	mu     sync.Mutex
	msgNum int
}

func NewTextFormatter() *TextFormatter { return &TextFormatter{} }

func (t *TextFormatter) format(_ int, msg *bgpmsg.Message) (string, error) {
	t.mu.Lock()
	n := t.msgNum
	t.msgNum++
	t.mu.Unlock()
	return fmt.Sprintf("[%d] %s\n", n, msg.String()), nil
}

func (t *TextFormatter) summarize() {}

// JSONFormatter prints one JSON object per message.
type JSONFormatter struct{}

func NewJSONFormatter() JSONFormatter { return JSONFormatter{} }

func (j JSONFormatter) format(_ int, msg *bgpmsg.Message) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

func (j JSONFormatter) summarize() {}
