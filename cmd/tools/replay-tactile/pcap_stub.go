//go:build !pcap
// +build !pcap

package main

import (
	"context"
	"fmt"
	"net"
)

// replayPCAP is a stub when pcap support is disabled.
// Build with -tags=pcap to enable pcap playback.
func replayPCAP(ctx context.Context, conn net.Conn, path string, udpPort int, speed float64) error {
	return fmt.Errorf("pcap support not enabled: rebuild with -tags=pcap to replay %s", path)
}
