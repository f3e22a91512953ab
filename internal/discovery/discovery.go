// Package discovery finds Hue bridges on the local network via mDNS.
package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	serviceType = "_hue._tcp"
	mdnsDomain  = "local."
)

// DefaultWindow is the fixed listening window for one browse session.
const DefaultWindow = 750 * time.Millisecond

// DefaultMinInterval is the minimum spacing between browse sessions;
// mDNS politeness forbids hammering the network with queries.
const DefaultMinInterval = 2 * time.Second

// ErrTooSoon is returned when Discover is called again before the
// politeness interval has elapsed.
var ErrTooSoon = errors.New("discovery invoked before politeness interval elapsed")

// Browser performs rate-limited mDNS browse sessions for Hue bridges.
type Browser struct {
	window  time.Duration
	limiter *rate.Limiter
}

// NewBrowser creates a browser with the given listening window and
// minimum interval between sessions.
func NewBrowser(window, minInterval time.Duration) *Browser {
	if window <= 0 {
		window = DefaultWindow
	}
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Browser{
		window:  window,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// Discover opens one browse session, listens for the fixed window and
// returns the deduplicated bridge IPs found. An empty result is a valid
// outcome, not an error. The transient mDNS session is torn down when
// the window closes.
func (b *Browser) Discover(ctx context.Context) ([]string, error) {
	if !b.limiter.Allow() {
		return nil, ErrTooSoon
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}

	windowCtx, cancel := context.WithTimeout(ctx, b.window)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	collected := make(chan []string, 1)

	go func() {
		var ips []string
		for entry := range entries {
			if entry == nil {
				continue
			}
			for _, addr := range entry.AddrIPv4 {
				ips = append(ips, addr.String())
			}
		}
		collected <- ips
	}()

	if err := resolver.Browse(windowCtx, serviceType, mdnsDomain, entries); err != nil {
		return nil, err
	}

	// Browse closes the entries channel once the window context expires.
	<-windowCtx.Done()
	ips := Dedupe(<-collected)

	log.Debug().Int("found", len(ips)).Dur("window", b.window).Msg("Bridge discovery window closed")
	return ips, nil
}

// Dedupe removes duplicate addresses, preserving first-seen order.
func Dedupe(ips []string) []string {
	seen := make(map[string]struct{}, len(ips))
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		out = append(out, ip)
	}
	return out
}
