package preflight

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/advicelink/sessiond/internal/models"
	"github.com/advicelink/sessiond/internal/policy"
)

// Pinger measures one round trip to a probe endpoint.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Probe runs the preflight checks for one participant.
type Probe struct {
	devices    MediaDevices
	pinger     Pinger
	thresholds policy.NetworkThresholds
	maxTries   uint
}

// NewProbe builds a probe. Thresholds come from policy so the quality buckets
// stay configurable.
func NewProbe(devices MediaDevices, pinger Pinger, thresholds policy.NetworkThresholds) *Probe {
	return &Probe{
		devices:    devices,
		pinger:     pinger,
		thresholds: thresholds,
		maxTries:   3,
	}
}

// TestNetwork estimates network quality from round-trip latency. Transient
// ping failures are retried with exponential backoff; if every attempt fails
// the result is poor rather than an error, since a dead probe endpoint and a
// dead network look the same to the joining participant.
func (p *Probe) TestNetwork(ctx context.Context) models.NetworkQuality {
	rtt, err := backoff.Retry(ctx, func() (time.Duration, error) {
		return p.pinger.Ping(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(p.maxTries),
	)
	if err != nil {
		log.Debug().Err(err).Msg("network probe failed, reporting poor quality")
		return models.NetworkQuality{Quality: models.NetPoor, RoundTripMs: 0}
	}

	return models.NetworkQuality{
		Quality:     p.bucket(rtt),
		RoundTripMs: int(rtt / time.Millisecond),
	}
}

func (p *Probe) bucket(rtt time.Duration) models.NetQuality {
	switch {
	case rtt < p.thresholds.Excellent:
		return models.NetExcellent
	case rtt < p.thresholds.Good:
		return models.NetGood
	case rtt < p.thresholds.Fair:
		return models.NetFair
	default:
		return models.NetPoor
	}
}

// HTTPPinger measures round-trip time with a HEAD request against a probe
// endpoint, the lightweight ping equivalent available to a browser client.
type HTTPPinger struct {
	URL    string
	Client *http.Client
}

// Ping issues one request and returns the elapsed wall time.
func (h *HTTPPinger) Ping(ctx context.Context) (time.Duration, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build probe request: %w", err)
	}

	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return 0, fmt.Errorf("probe endpoint returned %d", resp.StatusCode)
	}

	return time.Since(started), nil
}
