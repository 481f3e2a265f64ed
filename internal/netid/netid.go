package netid

import (
	"context"
	"log"
	"net"
	"strings"
	"time"
)

// Loopback is the sentinel signature reported when the local address
// cannot be determined. Proximity checks treat it as "same network".
const Loopback = "127.0.0.1"

// ProbeTimeout bounds a single local-address probe.
const ProbeTimeout = 3 * time.Second

// Prober discovers the device's locally bound address.
type Prober interface {
	LocalAddr(ctx context.Context) (string, error)
}

// Estimator derives a coarse same-LAN verdict from local addressing info.
// Relaxed forces SameNetwork to pass regardless of inputs, for hosted
// deployments where subnet comparison is meaningless.
type Estimator struct {
	prober  Prober
	Relaxed bool
}

// New creates an estimator. A nil prober falls back to the UDP dial probe.
func New(prober Prober, relaxed bool) *Estimator {
	if prober == nil {
		prober = UDPProbe{}
	}
	return &Estimator{prober: prober, Relaxed: relaxed}
}

// Estimate returns the device's best-effort network signature. It never
// fails: probe errors and timeouts yield the loopback sentinel.
func (e *Estimator) Estimate(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	addr, err := e.prober.LocalAddr(ctx)
	if err != nil || addr == "" || addr == "0.0.0.0" {
		log.Printf("netid: probe failed, using loopback fallback: %v", err)
		return Loopback
	}
	return addr
}

// SameNetwork compares the first three dot-separated octets of two
// signatures. Unknown or sentinel signatures pass: the check is a
// usability feature, not a security boundary, and fails open.
func (e *Estimator) SameNetwork(a, b string) bool {
	if e.Relaxed {
		return true
	}
	if a == "" || b == "" {
		return true
	}
	if a == Loopback || b == Loopback {
		return true
	}
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	if len(pa) < 3 || len(pb) < 3 {
		return false
	}
	return pa[0] == pb[0] && pa[1] == pb[1] && pa[2] == pb[2]
}

// UDPProbe surfaces the outbound local address without sending traffic
// by opening a connected UDP socket toward a public resolver.
type UDPProbe struct {
	// Target overrides the probe destination, mainly for tests.
	Target string
}

// LocalAddr implements Prober.
func (p UDPProbe) LocalAddr(ctx context.Context) (string, error) {
	target := p.Target
	if target == "" {
		target = "8.8.8.8:53"
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", target)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return "", err
	}
	return host, nil
}
