// Package capture scans packet payloads against a pattern set. Each
// transport flow gets its own cursor, so matches split across packets
// of the same flow are found while separate flows never interfere.
package capture

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"

	"github.com/streamregex/streamregex/internal/pkg/logger"
	"github.com/streamregex/streamregex/internal/pkg/registry"
	"github.com/streamregex/streamregex/internal/pkg/stream"
)

// maxFlows bounds the number of concurrently tracked flows. When the
// table is full the least recently fed flow is finished early so memory
// stays bounded on pathological captures.
const maxFlows = 65536

// Detection is a stream detection attributed to a transport flow.
type Detection struct {
	stream.Detection

	// Flow describes the network and transport endpoints, e.g.
	// "192.168.1.1->192.168.1.2 5060->5060".
	Flow string
}

type flowKey struct {
	net       gopacket.Flow
	transport gopacket.Flow
}

func (k flowKey) String() string {
	return fmt.Sprintf("%s %s", k.net, k.transport)
}

type flowState struct {
	cursor   *stream.Cursor
	lastSeen uint64
}

// FlowScanner demultiplexes packets into per-flow byte streams and runs
// one cursor per flow. Not safe for concurrent use.
type FlowScanner struct {
	handle *registry.Handle
	flows  map[flowKey]*flowState
	clock  uint64
}

// NewFlowScanner binds a scanner to the pattern set pinned by h. The
// scanner holds its own reference; h stays valid for the caller.
func NewFlowScanner(h *registry.Handle) *FlowScanner {
	return &FlowScanner{
		handle: h.Acquire(),
		flows:  make(map[flowKey]*flowState),
	}
}

// Flows returns the number of currently tracked flows.
func (s *FlowScanner) Flows() int { return len(s.flows) }

// ScanPacket feeds the packet's application payload to its flow's
// cursor, calling emit for each detection. Packets without network,
// transport or payload are ignored.
func (s *FlowScanner) ScanPacket(pkt gopacket.Packet, emit func(Detection)) error {
	netLayer := pkt.NetworkLayer()
	transLayer := pkt.TransportLayer()
	if netLayer == nil || transLayer == nil {
		return nil
	}
	payload := transLayer.LayerPayload()
	if len(payload) == 0 {
		return nil
	}

	key := flowKey{net: netLayer.NetworkFlow(), transport: transLayer.TransportFlow()}
	st, ok := s.flows[key]
	if !ok {
		if len(s.flows) >= maxFlows {
			if err := s.evictOldest(emit); err != nil {
				return err
			}
		}
		st = &flowState{cursor: stream.Open(s.handle)}
		s.flows[key] = st
	}
	s.clock++
	st.lastSeen = s.clock

	return st.cursor.FeedTo(payload, func(d stream.Detection) {
		emit(Detection{Detection: d, Flow: key.String()})
	})
}

// evictOldest finishes the least recently fed flow to make room.
func (s *FlowScanner) evictOldest(emit func(Detection)) error {
	var (
		oldestKey flowKey
		oldest    *flowState
	)
	for key, st := range s.flows {
		if oldest == nil || st.lastSeen < oldest.lastSeen {
			oldestKey, oldest = key, st
		}
	}
	if oldest == nil {
		return nil
	}
	logger.Debug("flow table full, finishing oldest flow", "flow", oldestKey.String())
	delete(s.flows, oldestKey)
	return closeFlow(oldestKey, oldest, emit)
}

// Close finishes every tracked flow, reporting end-of-stream detections,
// and releases the scanner's pattern set reference.
func (s *FlowScanner) Close(emit func(Detection)) error {
	var firstErr error
	for key, st := range s.flows {
		if err := closeFlow(key, st, emit); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.flows = nil
	s.handle.Release()
	return firstErr
}

func closeFlow(key flowKey, st *flowState, emit func(Detection)) error {
	ds, err := st.cursor.Close()
	if err != nil {
		return err
	}
	for _, d := range ds {
		emit(Detection{Detection: d, Flow: key.String()})
	}
	return nil
}

// ScanFile reads a pcap file and scans every flow in it against the
// pattern set pinned by h. The context cancels a long scan between
// packets.
func ScanFile(ctx context.Context, path string, h *registry.Handle, emit func(Detection)) error {
	// #nosec G304 -- Path comes from the command line, the operator owns it
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("read capture file %s: %w", path, err)
	}

	scanner := NewFlowScanner(h)
	packets := 0
	for {
		if err := ctx.Err(); err != nil {
			scanner.Close(emit)
			return err
		}
		data, _, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			scanner.Close(emit)
			return fmt.Errorf("read packet %d of %s: %w", packets, path, err)
		}
		packets++

		pkt := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		if err := scanner.ScanPacket(pkt, emit); err != nil {
			scanner.Close(emit)
			return err
		}
	}

	logger.Info("capture file scanned", "file", path, "packets", packets, "flows", scanner.Flows())
	return scanner.Close(emit)
}
