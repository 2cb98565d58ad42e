package fileutil

import (
	"path/filepath"
	"testing"
)

func TestRecordFileWriteThenScan(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "records.bin")
	rf := NewRecordFile(fname)
	if err := rf.Open(); err != nil {
		t.Fatal(err)
	}
	want := [][]byte{[]byte("hello"), []byte("a longer second record"), {}}
	for _, rec := range want {
		if _, err := rf.Write(rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := rf.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := rf.Close(); err != nil {
		t.Fatal(err)
	}

	rf2 := NewRecordFile(fname)
	if err := rf2.Open(); err != nil {
		t.Fatal(err)
	}
	defer rf2.Close()

	var got [][]byte
	for rf2.Scanner.Scan() {
		tok := append([]byte(nil), rf2.Scanner.Bytes()...)
		got = append(got, tok)
	}
	if err := rf2.Scanner.Err(); err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if string(got[i]) != string(want[i]) {
			t.Errorf("record %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRecordFileWriteBeforeOpen(t *testing.T) {
	rf := NewRecordFile(filepath.Join(t.TempDir(), "unused.bin"))
	if _, err := rf.Write([]byte("x")); err != errNotOpen {
		t.Fatalf("expected errNotOpen, got %v", err)
	}
}
