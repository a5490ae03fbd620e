//go:build pcap
// +build pcap

package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// replayPCAP plays back state event datagrams captured on the wire, pacing
// by the capture timestamps scaled by the speed multiplier. Only UDP packets
// on udpPort are considered.
func replayPCAP(ctx context.Context, conn net.Conn, path string, udpPort int, speed float64) error {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return fmt.Errorf("failed to open pcap file %s: %w", path, err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("failed to set BPF filter %q: %w", filter, err)
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	var prev time.Time
	var sent int

	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case packet := <-source.Packets():
			if packet == nil {
				log.Printf("replayed %d packets", sent)
				return nil
			}

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			payload := udpLayer.(*layers.UDP).Payload
			if len(payload) == 0 {
				continue
			}

			ts := packet.Metadata().Timestamp
			if !prev.IsZero() && ts.After(prev) {
				select {
				case <-ctx.Done():
					return context.Canceled
				case <-time.After(time.Duration(float64(ts.Sub(prev)) / speed)):
				}
			}
			prev = ts

			if _, err := conn.Write(payload); err != nil {
				return err
			}
			sent++
		}
	}
}
