package capture

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTLSPacketPcap(t *testing.T, payload []byte) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "capture.pcap")

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x01, 0x02, 0x03, 0x04, 0x05},
		DstMAC:       net.HardwareAddr{0x00, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	tcp := &layers.TCP{
		SrcPort: 51234,
		DstPort: 443,
		PSH:     true,
		ACK:     true,
		Seq:     1,
		Window:  8192,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))

	require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}, buf.Bytes()))

	return path
}

func buildTestTLSRecord(contentType byte, payload []byte) []byte {
	header := []byte{contentType, 0x03, 0x03, byte(len(payload) >> 8), byte(len(payload))}
	return append(header, payload...)
}

func TestReadPcapSplitsTLSRecord(t *testing.T) {
	record := buildTestTLSRecord(0x16, []byte("clienthellobytes"))
	path := writeTLSPacketPcap(t, record)

	flows, errs := ReadPcap(path)
	assert.Empty(t, errs)
	require.Len(t, flows, 1)
	require.Len(t, flows[0].Records, 1)
	assert.Equal(t, []byte("clienthellobytes"), flows[0].Records[0].Payload)
}

func TestReadPcapMissingFile(t *testing.T) {
	_, errs := ReadPcap("/nonexistent/path/capture.pcap")
	require.NotEmpty(t, errs)
}
