// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"math"
	"net"
	"testing"
	"time"

	"spectrogram/internal/transport"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPacketRoundTrip(t *testing.T) {
	ts := time.Unix(1700000000, 123456789)
	f := transport.Frame{Sequence: 42, Timestamp: ts, Magnitudes: []float64{0, 1.5, -2.25, 1e-3}}

	b, err := AppendPacket(nil, f)
	if err != nil {
		t.Fatalf("AppendPacket error: %v", err)
	}
	if len(b) != HeaderSize+4*4 {
		t.Fatalf("packet length = %d, want %d", len(b), HeaderSize+16)
	}

	p, err := DecodePacket(b)
	if err != nil {
		t.Fatalf("DecodePacket error: %v", err)
	}
	if p.Sequence != 42 || !p.Timestamp.Equal(ts) {
		t.Errorf("header = %d %v", p.Sequence, p.Timestamp)
	}
	for i, m := range f.Magnitudes {
		if p.Magnitudes[i] != float32(m) {
			t.Errorf("magnitude %d = %v, want %v", i, p.Magnitudes[i], float32(m))
		}
	}
}

func TestPacketHeaderIsBigEndian(t *testing.T) {
	b, _ := AppendPacket(nil, transport.Frame{Sequence: 1, Timestamp: time.Unix(0, 2), Magnitudes: []float64{1}})
	want := []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 2, 0, 1, 0x3f, 0x80, 0, 0}
	if string(b) != string(want) {
		t.Errorf("packet = % x, want % x", b, want)
	}
}

func TestSequenceWraps(t *testing.T) {
	b, _ := AppendPacket(nil, transport.Frame{Sequence: math.MaxUint32 + 5})
	p, _ := DecodePacket(b)
	if p.Sequence != 4 {
		t.Errorf("wrapped sequence = %d, want 4", p.Sequence)
	}
}

func TestDecodePacketErrors(t *testing.T) {
	if _, err := DecodePacket(make([]byte, HeaderSize-1)); !errors.Is(err, ErrShortPacket) {
		t.Errorf("short header error = %v", err)
	}
	b, _ := AppendPacket(nil, transport.Frame{Magnitudes: []float64{1, 2}})
	if _, err := DecodePacket(b[:len(b)-1]); !errors.Is(err, ErrShortPacket) {
		t.Errorf("truncated payload error = %v", err)
	}
}

func TestAppendPacketRejectsOversizedFrames(t *testing.T) {
	if _, err := AppendPacket(nil, transport.Frame{Magnitudes: make([]float64, MaxMagnitudes+1)}); err == nil {
		t.Error("AppendPacket accepted a frame larger than a datagram")
	}
}

func TestPublisherSendsDatagrams(t *testing.T) {
	ln, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	sender, err := NewSender(ln.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewSender error: %v", err)
	}
	pub, err := NewPublisher(sender, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	pub.now = steppingClock(10 * time.Millisecond)

	for seq := uint64(1); seq <= 3; seq++ {
		if err := pub.Send(transport.Frame{Sequence: seq, Timestamp: time.Now(), Magnitudes: make([]float64, 512)}); err != nil {
			t.Fatalf("Send error: %v", err)
		}
	}

	buf := make([]byte, 65536)
	for want := uint32(1); want <= 3; want++ {
		_ = ln.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := ln.ReadFrom(buf)
		if err != nil {
			t.Fatalf("ReadFrom error: %v", err)
		}
		p, err := DecodePacket(buf[:n])
		if err != nil {
			t.Fatalf("DecodePacket error: %v", err)
		}
		if p.Sequence != want || len(p.Magnitudes) != 512 {
			t.Errorf("packet %d: sequence %d with %d magnitudes", want, p.Sequence, len(p.Magnitudes))
		}
	}
	if pub.Sent() != 3 {
		t.Errorf("Sent() = %d, want 3", pub.Sent())
	}

	if err := pub.Close(); err != nil {
		t.Errorf("Close error: %v", err)
	}
	if err := pub.Send(transport.Frame{}); !errors.Is(err, ErrSenderClosed) {
		t.Errorf("Send after Close = %v, want ErrSenderClosed", err)
	}
	if err := sender.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}
	if sender.RemoteAddr() != nil {
		t.Error("RemoteAddr() after Close should be nil")
	}
}

// steppingClock returns a clock advancing by step on every reading.
func steppingClock(step time.Duration) func() time.Time {
	t := time.Unix(1700000000, 0)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestPublisherHonoursSendInterval(t *testing.T) {
	ln, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	sender, err := NewSender(ln.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewSender error: %v", err)
	}
	pub, err := NewPublisher(sender, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	// Frames every 20 ms against a 50 ms interval: t=20 sends, 40 and 60 are
	// too early, 80 sends, 100 and 120 are too early, 140 sends.
	pub.now = steppingClock(20 * time.Millisecond)
	for seq := uint64(1); seq <= 7; seq++ {
		if err := pub.Send(transport.Frame{Sequence: seq, Magnitudes: []float64{1}}); err != nil {
			t.Fatalf("Send(%d) error: %v", seq, err)
		}
	}
	if pub.Sent() != 3 || pub.Skipped() != 4 {
		t.Fatalf("Sent() = %d, Skipped() = %d, want 3 and 4", pub.Sent(), pub.Skipped())
	}

	buf := make([]byte, 1024)
	for _, want := range []uint32{1, 4, 7} {
		_ = ln.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := ln.ReadFrom(buf)
		if err != nil {
			t.Fatalf("ReadFrom error: %v", err)
		}
		p, err := DecodePacket(buf[:n])
		if err != nil {
			t.Fatalf("DecodePacket error: %v", err)
		}
		if p.Sequence != want {
			t.Errorf("packet sequence = %d, want %d", p.Sequence, want)
		}
	}
}

func TestNewPublisherDefaultsInterval(t *testing.T) {
	sender, err := NewSender("127.0.0.1:9")
	if err != nil {
		t.Fatalf("NewSender error: %v", err)
	}
	pub, err := NewPublisher(sender, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()
	if pub.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", pub.interval, DefaultInterval)
	}
}

func TestNewSenderAndPublisherErrors(t *testing.T) {
	if _, err := NewSender("not an address"); err == nil {
		t.Error("NewSender accepted an invalid address")
	}
	if _, err := NewPublisher(nil, time.Millisecond); err == nil {
		t.Error("NewPublisher accepted a nil sender")
	}
}

func BenchmarkAppendPacket(b *testing.B) {
	f := transport.Frame{Sequence: 1, Timestamp: time.Now(), Magnitudes: make([]float64, 512)}
	buf := make([]byte, 0, HeaderSize+4*512)
	b.ReportAllocs()
	for b.Loop() {
		buf, _ = AppendPacket(buf[:0], f)
	}
}
