// Package telemetry sends anonymous usage pings and checks for new
// releases. Everything here is opt-in and fails quietly; a sync engine
// must never degrade because a telemetry endpoint is down.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/driftmc/driftsync/pkg/log"
	"github.com/driftmc/driftsync/pkg/version"
)

const (
	pingInterval   = 6 * time.Hour
	requestTimeout = 10 * time.Second
)

type ping struct {
	ServerName string `json:"server_name"`
	Version    string `json:"version"`
	Players    int    `json:"players"`
}

// PlayerCounter reports the current online player count.
type PlayerCounter func() int

// Worker periodically POSTs a ping to the configured endpoint.
type Worker struct {
	endpoint    string
	serverName  string
	updateCheck bool
	players     PlayerCounter
	client      *http.Client
}

type NewWorkerOptions struct {
	Endpoint    string
	ServerName  string
	UpdateCheck bool
	Players     PlayerCounter
}

// NewWorker creates a new telemetry Worker.
func NewWorker(opts NewWorkerOptions) *Worker {
	return &Worker{
		endpoint:    opts.Endpoint,
		serverName:  opts.ServerName,
		updateCheck: opts.UpdateCheck,
		players:     opts.Players,
		client:      &http.Client{Timeout: requestTimeout},
	}
}

func (w *Worker) Start(ctx context.Context) {
	if w.updateCheck {
		if latest, ok := w.checkUpdate(ctx); ok && latest != version.Get() {
			log.Info("a newer release is available: %s (running %s)", latest, version.Get())
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	w.sendPing(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sendPing(ctx)
		}
	}
}

func (w *Worker) sendPing(ctx context.Context) {
	players := 0
	if w.players != nil {
		players = w.players()
	}
	body, err := json.Marshal(ping{
		ServerName: w.serverName,
		Version:    version.Get(),
		Players:    players,
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint+"/ping", bytes.NewReader(body))
	if err != nil {
		log.Debug("telemetry ping not sent: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		log.Debug("telemetry ping not sent: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Debug("telemetry ping rejected: %s", resp.Status)
	}
}

func (w *Worker) checkUpdate(ctx context.Context) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"/latest", nil)
	if err != nil {
		return "", false
	}
	resp, err := w.client.Do(req)
	if err != nil {
		log.Debug("update check failed: %v", err)
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	var out struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Debug("update check failed: %v", err)
		return "", false
	}
	if out.Version == "" {
		return "", false
	}
	return out.Version, true
}

// Describe returns a short status line for startup logging.
func (w *Worker) Describe() string {
	return fmt.Sprintf("telemetry enabled, endpoint %s", w.endpoint)
}
