package capture

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/gopacket/tcpassembly"
	"github.com/google/gopacket/tcpassembly/tcpreader"

	"github.com/ntkit/tlsdissect/internal/pkg/logger"
	"github.com/ntkit/tlsdissect/internal/pkg/tls"
)

// FlowRecords pairs a tracked TCP flow with the TLS records split out of
// its reassembled byte stream, in order.
type FlowRecords struct {
	Key     tls.FlowKey
	Records []tls.Record
}

// ReadPcap reads every TCP flow in a classic-format pcap file at path,
// reassembles each flow's byte stream, and splits it into TLS records.
// Reading stops at EOF; any TLS record framing error on a flow is reported
// on that flow's entry in errs without interrupting the others.
//
// Uses pcapgo.Reader rather than the cgo libpcap bindings, so this module
// never needs libpcap installed just to read a capture file.
func ReadPcap(path string) (flows []FlowRecords, errs []error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, []error{fmt.Errorf("open pcap file: %w", err)}
	}
	defer file.Close()

	reader, err := pcapgo.NewReader(file)
	if err != nil {
		return nil, []error{fmt.Errorf("open pcap reader: %w", err)}
	}

	sink := newFlowSink()
	streamFactory := &tlsStreamFactory{sink: sink}
	pool := tcpassembly.NewStreamPool(streamFactory)
	assembler := tcpassembly.NewAssembler(pool)

	packetSource := gopacket.NewPacketSource(reader, reader.LinkType())
	packetSource.NoCopy = true

	for packet := range packetSource.Packets() {
		tcpLayer := packet.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			continue
		}
		tcp := tcpLayer.(*layers.TCP)

		assembler.AssembleWithTimestamp(
			packet.NetworkLayer().NetworkFlow(),
			tcp,
			packet.Metadata().Timestamp,
		)
	}

	assembler.FlushAll()
	sink.wait()

	return sink.drain()
}

// tlsStreamFactory builds one tcpreader.ReaderStream per direction of each
// TCP flow tcpassembly reassembles, and hands each off to a goroutine that
// splits the reassembled bytes into TLS records. Grounded in the teacher's
// streamFactory in capture/snifferstarter.go.
type tlsStreamFactory struct {
	sink *flowSink
}

func (f *tlsStreamFactory) New(net, transport gopacket.Flow) tcpassembly.Stream {
	r := tcpreader.NewReaderStream()
	key := tls.NewFlowKey(net.Src().String(), net.Dst().String(), portOf(transport.Src()), portOf(transport.Dst()))

	f.sink.wg.Add(1)
	go func() {
		defer f.sink.wg.Done()
		f.sink.consume(key, &r)
	}()

	return &r
}

func portOf(e gopacket.Endpoint) uint16 {
	b := e.Raw()
	if len(b) != 2 {
		return 0
	}
	return uint16(b[0])<<8 | uint16(b[1])
}

// flowSink accumulates the TLS records split out of each flow's
// reassembled stream as they're consumed, guarded by a mutex since streams
// are consumed concurrently by tcpassembly's per-flow goroutines.
type flowSink struct {
	wg      sync.WaitGroup
	mu      sync.Mutex
	records map[tls.FlowKey][]tls.Record
	errs    map[tls.FlowKey]error
}

func newFlowSink() *flowSink {
	return &flowSink{
		records: make(map[tls.FlowKey][]tls.Record),
		errs:    make(map[tls.FlowKey]error),
	}
}

func (s *flowSink) consume(key tls.FlowKey, r io.Reader) {
	var buf []byte
	chunk := make([]byte, 4096)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}

	records, remainder, err := tls.SplitRecords(buf)
	if err != nil {
		s.mu.Lock()
		s.errs[key] = fmt.Errorf("flow %s: %w", key, err)
		s.mu.Unlock()
		logger.Warn("TLS record split failed", "flow", key, "error", err)
	}
	if remainder > 0 {
		logger.Debug("flow ended with an incomplete trailing record", "flow", key, "remainder_bytes", remainder)
	}

	s.mu.Lock()
	s.records[key] = append(s.records[key], records...)
	s.mu.Unlock()
}

func (s *flowSink) wait() {
	s.wg.Wait()
}

func (s *flowSink) drain() ([]FlowRecords, []error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flows []FlowRecords
	for key, records := range s.records {
		flows = append(flows, FlowRecords{Key: key, Records: records})
	}

	var errs []error
	for _, err := range s.errs {
		errs = append(errs, err)
	}

	return flows, errs
}
