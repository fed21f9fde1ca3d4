package id

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestIdRoundTrip(t *testing.T) {
	orig := New()
	text, err := orig.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if len(text) != EncodedSize {
		t.Fatalf("encoded length %d, want %d", len(text), EncodedSize)
	}

	var parsed Id
	if err := parsed.UnmarshalText(text); err != nil {
		t.Fatal(err)
	}
	if parsed != orig {
		t.Fatalf("round trip mismatch: %s vs %s", parsed, orig)
	}
}

func TestSetMachineIDHost(t *testing.T) {
	SetMachineIDHost(net.IP{127, 0, 0, 1}, 8080)
	defer SetMachineID(0)

	want := uint64(127)<<40 | uint64(0)<<32 | uint64(0)<<24 | uint64(1)<<16 | uint64(8080)
	if machineID != want {
		t.Fatalf("machine id %x, want %x", machineID, want)
	}

	id := New()
	var got uint64
	for _, b := range id[6:12] {
		got = got<<8 | uint64(b)
	}
	if got != want {
		t.Fatalf("machine bits %x, want %x", got, want)
	}
}

func TestIdsAreUnique(t *testing.T) {
	seen := make(map[Id]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestIdsSortByTime(t *testing.T) {
	early := NewWithTime(time.Now())
	late := NewWithTime(time.Now().Add(time.Second))
	if !(early.String() < late.String()) {
		t.Fatalf("%s should sort before %s", early, late)
	}
}

func TestValidateText(t *testing.T) {
	good, _ := New().MarshalText()
	if !ValidateText(good) {
		t.Fatalf("valid id rejected: %s", good)
	}
	if ValidateText([]byte("not-an-id")) {
		t.Fatal("garbage accepted")
	}
	if ValidateText(bytes.Repeat([]byte("!"), EncodedSize)) {
		t.Fatal("invalid characters accepted")
	}
}
