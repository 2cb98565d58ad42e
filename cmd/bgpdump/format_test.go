package main

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFormatterNumbersMessages(t *testing.T) {
	f := NewTextFormatter()
	msg := buildDedupMsg(t, "192.0.2.0/24")

	first, err := f.format(0, msg)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.format(0, msg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(first, "[0] ") {
		t.Errorf("expected first message numbered 0, got %q", first)
	}
	if !strings.HasPrefix(second, "[1] ") {
		t.Errorf("expected second message numbered 1, got %q", second)
	}
	f.summarize()
}

func TestJSONFormatterProducesValidJSON(t *testing.T) {
	f := NewJSONFormatter()
	msg := buildDedupMsg(t, "192.0.2.0/24")

	out, err := f.format(0, msg)
	if err != nil {
		t.Fatal(err)
	}
	var v map[string]interface{}
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("expected valid JSON, got %q: %s", out, err)
	}
	f.summarize()
}
