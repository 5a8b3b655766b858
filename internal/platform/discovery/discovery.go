// Package discovery advertises the relay's signaling endpoint on the local
// network over mDNS/DNS-SD so viewers on the robot's LAN can find it without
// a fixed address.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the DNS-SD service type of the signaling endpoint.
	ServiceType = "_camera-relay._tcp"
	domain      = "local."
)

// ErrInvalidPort is returned for ports outside 1-65535.
var ErrInvalidPort = errors.New("discovery: invalid port")

// Config configures an Advertiser.
type Config struct {
	Instance string
	Port     int
	// Path is published as a TXT record so clients know where to open the socket.
	Path string
}

// Advertiser holds a live mDNS registration.
type Advertiser struct {
	server *zeroconf.Server
	log    *slog.Logger
}

// TXTRecords returns the TXT entries published for cfg.
func TXTRecords(cfg Config) []string {
	txt := []string{"proto=websocket"}
	if cfg.Path != "" {
		txt = append(txt, "path="+cfg.Path)
	}
	return txt
}

// Start registers the service on all multicast-capable interfaces.
func Start(cfg Config, log *slog.Logger) (*Advertiser, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, cfg.Port)
	}
	server, err := zeroconf.Register(cfg.Instance, ServiceType, domain, cfg.Port, TXTRecords(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	log.Info("mdns advertisement started",
		slog.String("instance", cfg.Instance),
		slog.String("service", ServiceType),
		slog.Int("port", cfg.Port))
	return &Advertiser{server: server, log: log}, nil
}

// Stop withdraws the registration.
func (a *Advertiser) Stop() {
	a.server.Shutdown()
	a.log.Info("mdns advertisement stopped")
}
