package router

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// describeFrame renders a one-line summary of an IP frame for debug logs.
func describeFrame(frame []byte) string {
	if len(frame) == 0 {
		return "empty frame"
	}

	var first gopacket.LayerType
	switch frame[0] >> 4 {
	case 4:
		first = layers.LayerTypeIPv4
	case 6:
		first = layers.LayerTypeIPv6
	default:
		return fmt.Sprintf("%d bytes, not IP", len(frame))
	}

	pkt := gopacket.NewPacket(frame, first, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	network := pkt.NetworkLayer()
	if network == nil {
		return fmt.Sprintf("%s, %d bytes, undecodable", first, len(frame))
	}
	src, dst := network.NetworkFlow().Endpoints()

	switch t := pkt.TransportLayer().(type) {
	case *layers.TCP:
		return fmt.Sprintf("TCP %s:%d -> %s:%d, %d bytes", src, uint16(t.SrcPort), dst, uint16(t.DstPort), len(frame))
	case *layers.UDP:
		return fmt.Sprintf("UDP %s:%d -> %s:%d, %d bytes", src, uint16(t.SrcPort), dst, uint16(t.DstPort), len(frame))
	}

	proto := first.String()
	switch {
	case pkt.Layer(layers.LayerTypeICMPv4) != nil:
		proto = "ICMPv4"
	case pkt.Layer(layers.LayerTypeICMPv6) != nil:
		proto = "ICMPv6"
	}
	return fmt.Sprintf("%s %s -> %s, %d bytes", proto, src, dst, len(frame))
}
