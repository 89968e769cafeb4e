// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	applog "spectrogram/internal/log"
	"spectrogram/internal/transport"
)

/*
Packet layout (big endian):

|<---- 4 Bytes ---->|<------ 8 Bytes ------>|<-- 2 Bytes -->|<----- N * 4 Bytes ----->|
+-------------------+-----------------------+---------------+-------------------------+
|  Sequence Number  |       Timestamp       |   Magnitude   |       Magnitudes        |
|      (uint32)     |  (int64, ns of epoch) |     Count     |      (N * float32)      |
|                   |                       |     (uint16)  |                         |
+-------------------+-----------------------+---------------+-------------------------+
*/
const (
	HeaderSize = 4 + 8 + 2
	// MaxMagnitudes keeps a packet inside one IPv4 UDP datagram.
	MaxMagnitudes = (65507 - HeaderSize) / 4
)

var ErrShortPacket = errors.New("udp: short packet")

// Packet is a decoded frame datagram.
type Packet struct {
	Sequence   uint32
	Timestamp  time.Time
	Magnitudes []float32
}

// AppendPacket encodes f onto dst. The sequence number wraps at 2^32.
func AppendPacket(dst []byte, f transport.Frame) ([]byte, error) {
	if len(f.Magnitudes) > MaxMagnitudes {
		return dst, fmt.Errorf("udp: %d magnitudes exceed the %d a datagram can hold", len(f.Magnitudes), MaxMagnitudes)
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(f.Sequence))
	dst = binary.BigEndian.AppendUint64(dst, uint64(f.Timestamp.UnixNano()))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(f.Magnitudes)))
	for _, m := range f.Magnitudes {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(m)))
	}
	return dst, nil
}

// DecodePacket parses one datagram.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, ErrShortPacket
	}
	n := int(binary.BigEndian.Uint16(b[12:]))
	if len(b) < HeaderSize+4*n {
		return Packet{}, fmt.Errorf("%w: %d magnitudes announced, %d bytes present", ErrShortPacket, n, len(b)-HeaderSize)
	}
	p := Packet{
		Sequence:   binary.BigEndian.Uint32(b),
		Timestamp:  time.Unix(0, int64(binary.BigEndian.Uint64(b[4:]))),
		Magnitudes: make([]float32, n),
	}
	for i := range p.Magnitudes {
		p.Magnitudes[i] = math.Float32frombits(binary.BigEndian.Uint32(b[HeaderSize+4*i:]))
	}
	return p, nil
}

// DefaultInterval is used when NewPublisher is given a non-positive interval.
const DefaultInterval = 16 * time.Millisecond

// Publisher packs frames into datagrams and sends them with a Sender, at most
// one per interval. Frames arriving sooner are skipped.
type Publisher struct {
	sender   *Sender
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	packet   []byte // reused between sends
	lastSent time.Time
	sent     uint64
	skipped  uint64
}

var _ transport.Publisher = (*Publisher)(nil)

// NewPublisher wraps sender. The publisher owns it and closes it on Close.
func NewPublisher(sender *Sender, interval time.Duration) (*Publisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultInterval
		applog.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}
	applog.Infof("UDPPublisher: Initializing (Interval: %s)", interval)
	return &Publisher{sender: sender, interval: interval, now: time.Now}, nil
}

func (p *Publisher) Name() string {
	return "udp"
}

func (p *Publisher) Send(f transport.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.lastSent.IsZero() && now.Sub(p.lastSent) < p.interval {
		p.skipped++
		return nil
	}

	packet, err := AppendPacket(p.packet[:0], f)
	if err != nil {
		return err
	}
	p.packet = packet

	if err := p.sender.Send(packet); err != nil {
		return err
	}
	p.lastSent = now
	p.sent++
	applog.Debugf("UDPPublisher: Sent packet %d (%d bytes)", uint32(f.Sequence), len(packet))
	return nil
}

// Sent returns the number of packets sent.
func (p *Publisher) Sent() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Skipped returns the number of frames dropped for arriving within the
// interval of the previous send.
func (p *Publisher) Skipped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skipped
}

func (p *Publisher) Close() error {
	return p.sender.Close()
}
