package server

import (
	"log"
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// startHeartbeat begins a background goroutine that periodically sends
// WebSocket ping frames to all connections and closes those that have gone
// stale (no activity within Interval + Timeout). The goroutine exits when the
// server's done channel is closed.
func startHeartbeat(s *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				checkConnections(s, config)
			}
		}
	}()
}

// checkConnections iterates over all active connections. Connections with no
// activity within Interval + Timeout are considered dead and are removed. All
// other connections receive a WebSocket-level ping frame, which the client
// runtime answers automatically with a pong.
func checkConnections(s *Server, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, c := range s.Connections().All() {
		if now.Sub(c.LastPing) > deadline {
			log.Printf("[server] heartbeat timeout user=%s last_activity=%s ago",
				c.UserID, now.Sub(c.LastPing).Round(time.Second))
			s.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("[server] heartbeat ping failed user=%s: %v", c.UserID, err)
			s.RemoveConnection(c)
		}
	}
}
