package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

// ErrEgressDenied is returned when an outbound request would connect to an
// address the egress policy refuses.
var ErrEgressDenied = errors.New("destination address not allowed")

// Shared, benchmarking and carrier NAT ranges the netip predicates miss.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("64:ff9b::/96"),
}

// EgressPolicy decides which addresses requests to user supplied URLs (workflow
// webhooks, offline action targets) may connect to. Loopback, private,
// link-local and multicast addresses are refused unless listed in allow.
type EgressPolicy struct {
	allow []netip.Prefix
}

// NewEgressPolicy parses a comma-separated list of CIDRs or single addresses
// that stay reachable even though they are internal.
func NewEgressPolicy(allowCSV string) (*EgressPolicy, error) {
	p := &EgressPolicy{}
	for _, part := range strings.Split(allowCSV, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(part)
		if err != nil {
			addr, addrErr := netip.ParseAddr(part)
			if addrErr != nil {
				return nil, fmt.Errorf("invalid egress allow entry %q: %w", part, err)
			}
			prefix = netip.PrefixFrom(addr, addr.BitLen())
		}
		p.allow = append(p.allow, prefix.Masked())
	}
	return p, nil
}

// Permits reports whether a connection to addr is allowed.
func (p *EgressPolicy) Permits(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	for _, prefix := range p.allow {
		if prefix.Contains(addr) {
			return true
		}
	}
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() || addr.IsMulticast() {
		return false
	}
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return false
		}
	}
	return true
}

// control runs after name resolution, so it sees the address actually dialed.
func (p *EgressPolicy) control(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrEgressDenied, address)
	}
	if !p.Permits(ap.Addr()) {
		log.Warn("Outbound request refused", "addr", ap.Addr().String())
		return fmt.Errorf("%w: %s", ErrEgressDenied, ap.Addr())
	}
	return nil
}

// Client returns an HTTP client that only dials permitted addresses and hands
// redirects back to the caller instead of following them.
func (p *EgressPolicy) Client() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   p.control,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
