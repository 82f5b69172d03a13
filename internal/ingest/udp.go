// Package ingest receives detection frames from the external
// detection/tracking subsystem over UDP. One datagram carries one JSON
// frame; malformed or unknown-camera datagrams are dropped and counted,
// never propagated.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/footfall.report/internal/counter"
	"github.com/banshee-data/footfall.report/internal/monitoring"
)

// FrameSink consumes decoded frames. The hub coordinator satisfies this.
type FrameSink interface {
	IngestFrame(frame counter.Frame) ([]counter.Event, error)
}

// Stats tracks ingest counters for the periodic log line.
type Stats struct {
	frames    atomic.Int64
	bytes     atomic.Int64
	events    atomic.Int64
	malformed atomic.Int64
	unknown   atomic.Int64
}

// UDPListenerConfig contains configuration options for the ingest listener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Sink        FrameSink
}

// UDPListener receives track frames over UDP and feeds them to the sink.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	sink        FrameSink
	stats       Stats
	logf        func(format string, v ...interface{})
}

// NewUDPListener creates a listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	return &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		sink:        config.Sink,
		logf:        monitoring.Prefixed("ingest"),
	}
}

// Start listens for frames until the context is cancelled. The read loop uses
// short deadlines so cancellation is noticed within ~100ms.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			l.logf("warning: failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	l.logf("listening on %s", conn.LocalAddr())

	go l.startStatsLogging(ctx)

	buffer := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			l.logf("stopping due to context cancellation")
			return ctx.Err()
		default:
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

			n, from, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.logf("UDP read error: %v", err)
				continue
			}

			if err := l.handleDatagram(buffer[:n]); err != nil {
				l.logf("dropped datagram from %v: %v", from, err)
			}
		}
	}
}

// handleDatagram decodes and forwards one frame. Errors are reported for
// logging but never stop the receive loop.
func (l *UDPListener) handleDatagram(data []byte) error {
	l.stats.frames.Add(1)
	l.stats.bytes.Add(int64(len(data)))

	var frame counter.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		l.stats.malformed.Add(1)
		return fmt.Errorf("malformed frame: %w", err)
	}
	if frame.CameraID == "" {
		l.stats.malformed.Add(1)
		return errors.New("frame missing camera_id")
	}
	if frame.UnixNanos == 0 {
		frame.UnixNanos = time.Now().UnixNano()
	}

	events, err := l.sink.IngestFrame(frame)
	if err != nil {
		var unknown *counter.UnknownCameraIngestError
		if errors.As(err, &unknown) {
			l.stats.unknown.Add(1)
			return err
		}
		return err
	}
	l.stats.events.Add(int64(len(events)))
	return nil
}

func (l *UDPListener) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frames := l.stats.frames.Swap(0)
			bytes := l.stats.bytes.Swap(0)
			events := l.stats.events.Swap(0)
			malformed := l.stats.malformed.Swap(0)
			unknown := l.stats.unknown.Swap(0)
			if frames == 0 && malformed == 0 {
				continue
			}
			l.logf("%d frames (%.1f KB), %d events, %d malformed, %d unknown-camera",
				frames, float64(bytes)/1024, events, malformed, unknown)
		}
	}
}
