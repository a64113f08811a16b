package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_itemreminder._tcp"
	mdnsDomain      = "local."
)

// startMDNS advertises the HTTP/WebSocket endpoint on the local network.
// Sensors discover the server here and read the broker address and topic
// names out of the TXT records instead of being flashed with them.
func (a *App) startMDNS(port int) error {
	if port <= 0 {
		return fmt.Errorf("invalid port %d", port)
	}

	a.stopMDNS()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "itemreminder"
	}

	instance := mdnsLabel(fmt.Sprintf("Item Reminder (%s)", hostname), "Item Reminder")
	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, a.mdnsTXT(hostname), nil)
	if err != nil {
		return err
	}

	a.mdns = server
	a.logger.Info("mDNS advertisement started", "instance", instance, "port", port)
	return nil
}

func (a *App) stopMDNS() {
	if a.mdns == nil {
		return
	}

	a.mdns.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
	a.mdns = nil
}

// mdnsTXT describes everything a sensor or mobile client needs to talk to
// this deployment: where the WebSocket lives, which broker carries
// telemetry, and the topic names the server listens and commands on.
func (a *App) mdnsTXT(hostname string) []string {
	host := strings.ToLower(mdnsLabel(hostname, "itemreminder"))
	host = strings.ReplaceAll(host, " ", "-")
	if !strings.Contains(host, ".") {
		host += ".local"
	}

	return []string{
		fmt.Sprintf("http_port=%d", a.cfg.HTTPPort),
		"ws_path=/ws",
		fmt.Sprintf("mqtt_broker=%s", a.cfg.MQTTBrokerURL),
		fmt.Sprintf("weight_topic=%s", a.cfg.WeightTopic),
		fmt.Sprintf("status_topic=%s", a.cfg.StatusTopic),
		fmt.Sprintf("command_topic=%s", a.cfg.CommandTopic),
		"proto=v1",
		fmt.Sprintf("host=%s", host),
	}
}

// mdnsLabel makes name safe for a DNS-SD instance or host label: no dots,
// underscores, or control characters, at most 63 runes, never empty.
func mdnsLabel(name, fallback string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '.', '_':
			return ' '
		case '\n', '\r', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return fallback
	}
	if runes := []rune(cleaned); len(runes) > 63 {
		cleaned = string(runes[:63])
	}
	return cleaned
}
