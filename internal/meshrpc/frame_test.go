package meshrpc

import (
	"bytes"
	"strings"
	"testing"
)

func TestFrameReader_ReadsLines(t *testing.T) {
	in := "one\ntwo\nthree\n"
	fr := NewFrameReader(strings.NewReader(in))

	for _, want := range []string{"one", "two", "three"} {
		got, err := fr.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if string(got) != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestFrameReader_ExactCapAccepted(t *testing.T) {
	// A payload of exactly MaxFrameBytes (not counting the delimiter) is
	// accepted, per spec's "a frame of exactly 8,192 bytes is accepted"
	// boundary.
	payload := strings.Repeat("a", MaxFrameBytes)
	fr := NewFrameReader(strings.NewReader(payload + "\n"))

	got, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(got) != MaxFrameBytes {
		t.Errorf("got %d bytes, want %d", len(got), MaxFrameBytes)
	}
}

func TestFrameReader_OverCapRejected(t *testing.T) {
	// One byte over the cap (8,193) is rejected.
	payload := strings.Repeat("a", MaxFrameBytes+1)
	fr := NewFrameReader(strings.NewReader(payload + "\n"))

	_, err := fr.ReadFrame()
	if err != ErrFrameTooLarge {
		t.Errorf("got %v, want ErrFrameTooLarge", err)
	}
}

func TestFrameWriter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)

	if err := fw.WriteFrame([]byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if buf.String() != "{\"type\":\"ping\"}\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestFrameWriter_ExactCapAccepted(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)

	payload := []byte(strings.Repeat("a", MaxFrameBytes))
	if err := fw.WriteFrame(payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if buf.Len() != MaxFrameBytes+1 {
		t.Errorf("got %d bytes written, want %d", buf.Len(), MaxFrameBytes+1)
	}
}

func TestFrameWriter_OverCapRejected(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)

	payload := []byte(strings.Repeat("a", MaxFrameBytes+1))
	if err := fw.WriteFrame(payload); err != ErrFrameTooLarge {
		t.Errorf("got %v, want ErrFrameTooLarge", err)
	}
}

func TestPeekType(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"valid", `{"type":"send","message":"hi"}`, "send", false},
		{"missing type", `{"message":"hi"}`, "", true},
		{"not json", `not json at all`, "", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := PeekType([]byte(c.raw))
			if (err != nil) != c.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, c.wantErr)
			}
			if got != c.want {
				t.Errorf("got %q, want %q", got, c.want)
			}
		})
	}
}
