package wire

import (
	"bufio"
	"bytes"
	"testing"
)

func TestWriteReadEventRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Event{Fd: 7, Dir: DirOut, Data: []byte("GET / HTTP/1.1\r\n\r\n")}
	if err := WriteEvent(&buf, want); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}

	got, err := ReadEvent(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if got.Fd != want.Fd || got.Dir != want.Dir || string(got.Data) != string(want.Data) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestWriteReadEventClose(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEvent(&buf, Event{Fd: 3, Dir: DirClose}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	got, err := ReadEvent(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if got.Dir != DirClose || len(got.Data) != 0 {
		t.Errorf("got %+v, want close with no data", got)
	}
}

func TestWriteEventRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	ev := Event{Fd: 1, Dir: DirOut, Data: make([]byte, MaxEventSize+1)}
	if err := WriteEvent(&buf, ev); err == nil {
		t.Fatal("expected error for oversized event")
	}
}

func TestReadEventMultipleFramesSequential(t *testing.T) {
	var buf bytes.Buffer
	events := []Event{
		{Fd: 1, Dir: DirOut, Data: []byte("a")},
		{Fd: 1, Dir: DirIn, Data: []byte("b")},
		{Fd: 1, Dir: DirClose},
	}
	for _, ev := range events {
		if err := WriteEvent(&buf, ev); err != nil {
			t.Fatalf("WriteEvent: %v", err)
		}
	}

	r := bufio.NewReader(&buf)
	for i, want := range events {
		got, err := ReadEvent(r)
		if err != nil {
			t.Fatalf("ReadEvent[%d]: %v", i, err)
		}
		if got.Dir != want.Dir || string(got.Data) != string(want.Data) {
			t.Errorf("event[%d] = %+v, want %+v", i, got, want)
		}
	}
}
