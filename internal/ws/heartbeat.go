package ws

import (
	"time"

	"github.com/sirupsen/logrus"
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

// StartHeartbeat pings every connection on each interval and removes those
// that have been silent for longer than Interval + Timeout. Removal goes
// through RemoveConnection, so a timed-out participant leaves its rooms
// exactly like one that disconnected. The goroutine exits on Shutdown.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				checkConnections(server, config, time.Now())
			}
		}
	}()
}

func checkConnections(server *Server, config HeartbeatConfig, now time.Time) {
	deadline := config.Interval + config.Timeout

	for _, c := range server.Connections().All() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			server.log.WithFields(logrus.Fields{
				"conn_id": c.ID,
				"idle":    idle.Round(time.Second),
			}).Info("heartbeat timeout")
			server.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			server.log.WithError(err).WithField("conn_id", c.ID).Warn("heartbeat ping failed")
			server.RemoveConnection(c)
		}
	}
}
