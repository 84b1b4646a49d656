package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamregex/streamregex/internal/pkg/automaton"
	"github.com/streamregex/streamregex/internal/pkg/prefilter"
	"github.com/streamregex/streamregex/internal/pkg/registry"
	"github.com/streamregex/streamregex/internal/pkg/syntax"
)

func newHandle(t *testing.T, sources ...string) *registry.Handle {
	t.Helper()

	inputs := make([]automaton.Input, 0, len(sources))
	asts := make([]*syntax.Pattern, 0, len(sources))
	for _, src := range sources {
		p, err := syntax.Parse(src, syntax.Flags{})
		require.NoError(t, err)
		inputs = append(inputs, automaton.Input{ID: src, Pattern: p})
		asts = append(asts, p)
	}
	a, err := automaton.Compile(inputs, automaton.DefaultConfig())
	require.NoError(t, err)

	var r registry.Registry
	h := r.Install(registry.NewPatternSet("capture-test", a, prefilter.Derive(a, asts)))
	t.Cleanup(h.Release)
	return h
}

// buildUDPPacket assembles a raw Ethernet/IPv4/UDP frame around payload.
func buildUDPPacket(srcIP, dstIP [4]byte, srcPort, dstPort uint16, payload []byte) []byte {
	ethernetHeader := []byte{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x00,
	}

	ipHeader := []byte{
		0x45, 0x00,
		0x00, 0x00, // total length, set below
		0x00, 0x00,
		0x00, 0x00,
		0x40, 0x11, // TTL=64, protocol=UDP
		0x00, 0x00,
		srcIP[0], srcIP[1], srcIP[2], srcIP[3],
		dstIP[0], dstIP[1], dstIP[2], dstIP[3],
	}

	udpHeader := []byte{
		byte(srcPort >> 8), byte(srcPort),
		byte(dstPort >> 8), byte(dstPort),
		0x00, 0x00, // length, set below
		0x00, 0x00,
	}

	udpLen := 8 + len(payload)
	udpHeader[4] = byte(udpLen >> 8)
	udpHeader[5] = byte(udpLen)

	ipLen := 20 + udpLen
	ipHeader[2] = byte(ipLen >> 8)
	ipHeader[3] = byte(ipLen)

	frame := make([]byte, 0, 14+ipLen)
	frame = append(frame, ethernetHeader...)
	frame = append(frame, ipHeader...)
	frame = append(frame, udpHeader...)
	frame = append(frame, payload...)
	return frame
}

func parsePacket(frame []byte) gopacket.Packet {
	return gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
}

func writePcap(t *testing.T, frames ...[]byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	writer := pcapgo.NewWriter(f)
	require.NoError(t, writer.WriteFileHeader(65536, layers.LinkTypeEthernet))

	ts := time.Now()
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, writer.WritePacket(ci, frame))
	}
	return path
}

var (
	hostA = [4]byte{192, 168, 1, 1}
	hostB = [4]byte{192, 168, 1, 2}
	hostC = [4]byte{10, 0, 0, 1}
)

func TestScanPacket_MatchInSinglePacket(t *testing.T) {
	s := NewFlowScanner(newHandle(t, "malware"))

	var got []Detection
	emit := func(d Detection) { got = append(got, d) }

	pkt := parsePacket(buildUDPPacket(hostA, hostB, 4000, 5060, []byte("xx malware yy")))
	require.NoError(t, s.ScanPacket(pkt, emit))
	require.NoError(t, s.Close(emit))

	require.Len(t, got, 1)
	assert.Equal(t, "malware", got[0].PatternID)
	assert.Equal(t, int64(10), got[0].End)
	assert.Contains(t, got[0].Flow, "192.168.1.1")
}

func TestScanPacket_MatchSpansPacketsOfOneFlow(t *testing.T) {
	s := NewFlowScanner(newHandle(t, "malware"))

	var got []Detection
	emit := func(d Detection) { got = append(got, d) }

	require.NoError(t, s.ScanPacket(parsePacket(buildUDPPacket(hostA, hostB, 4000, 80, []byte("xxx malw"))), emit))
	require.NoError(t, s.ScanPacket(parsePacket(buildUDPPacket(hostA, hostB, 4000, 80, []byte("are yyy"))), emit))
	require.NoError(t, s.Close(emit))

	require.Len(t, got, 1)
	assert.Equal(t, int64(11), got[0].End)
	assert.Equal(t, int64(4), got[0].Start)
}

func TestScanPacket_FlowsDoNotInterfere(t *testing.T) {
	s := NewFlowScanner(newHandle(t, "malware"))

	var got []Detection
	emit := func(d Detection) { got = append(got, d) }

	// The two halves arrive on different flows; neither matches alone.
	require.NoError(t, s.ScanPacket(parsePacket(buildUDPPacket(hostA, hostB, 4000, 80, []byte("xxx malw"))), emit))
	require.NoError(t, s.ScanPacket(parsePacket(buildUDPPacket(hostC, hostB, 4000, 80, []byte("are yyy"))), emit))
	require.NoError(t, s.Close(emit))

	assert.Empty(t, got)
	assert.Equal(t, 0, s.Flows())
}

func TestScanPacket_IgnoresPacketsWithoutPayload(t *testing.T) {
	s := NewFlowScanner(newHandle(t, "malware"))

	emit := func(Detection) { t.Fatal("unexpected detection") }
	pkt := parsePacket([]byte{0x00, 0x01, 0x02})
	require.NoError(t, s.ScanPacket(pkt, emit))
	assert.Equal(t, 0, s.Flows())
	require.NoError(t, s.Close(func(Detection) {}))
}

func TestScanPacket_EndAnchoredFiresOnFlowClose(t *testing.T) {
	s := NewFlowScanner(newHandle(t, "done$"))

	var got []Detection
	emit := func(d Detection) { got = append(got, d) }

	require.NoError(t, s.ScanPacket(parsePacket(buildUDPPacket(hostA, hostB, 4000, 80, []byte("all done"))), emit))
	assert.Empty(t, got)

	require.NoError(t, s.Close(emit))
	require.Len(t, got, 1)
	assert.Equal(t, int64(8), got[0].End)
}

func TestScanFile_EndToEnd(t *testing.T) {
	path := writePcap(t,
		buildUDPPacket(hostA, hostB, 4000, 5060, []byte("clean traffic here")),
		buildUDPPacket(hostA, hostB, 4000, 5060, []byte("carrying mal")),
		buildUDPPacket(hostA, hostB, 4000, 5060, []byte("ware payload")),
		buildUDPPacket(hostC, hostB, 9999, 443, []byte("trojan inside")),
	)

	var got []Detection
	err := ScanFile(context.Background(), path, newHandle(t, "malware", "trojan"), func(d Detection) {
		got = append(got, d)
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	byPattern := map[string]Detection{}
	for _, d := range got {
		byPattern[d.PatternID] = d
	}
	// "malware" spans packets two and three of the first flow.
	assert.Equal(t, int64(34), byPattern["malware"].End)
	assert.Contains(t, byPattern["malware"].Flow, "192.168.1.1")
	assert.Equal(t, int64(6), byPattern["trojan"].End)
	assert.Contains(t, byPattern["trojan"].Flow, "10.0.0.1")
}

func TestScanFile_MissingFile(t *testing.T) {
	err := ScanFile(context.Background(), filepath.Join(t.TempDir(), "absent.pcap"), newHandle(t, "x{2}"), func(Detection) {})
	require.Error(t, err)
}

func TestScanFile_ContextCancel(t *testing.T) {
	path := writePcap(t, buildUDPPacket(hostA, hostB, 4000, 80, []byte("payload")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ScanFile(ctx, path, newHandle(t, "malware"), func(Detection) {})
	assert.ErrorIs(t, err, context.Canceled)
}
