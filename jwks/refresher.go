package jwks

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Refresher keeps the cached key sets of known endpoints warm by refetching
// them on a schedule, so request paths rarely wait on a download.
type Refresher struct {
	client *Client
	urls   []string
	cron   *cron.Cron
	log    logrus.FieldLogger
}

// NewRefresher schedules a refresh of every url each interval.
func NewRefresher(client *Client, interval time.Duration, urls ...string) (*Refresher, error) {
	if client == nil {
		return nil, fmt.Errorf("jwks: refresher needs a client")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("jwks: refresh interval must be positive")
	}
	r := &Refresher{
		client: client,
		urls:   append([]string(nil), urls...),
		cron:   cron.New(),
		log:    client.log,
	}
	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", interval), r.RefreshAll); err != nil {
		return nil, fmt.Errorf("jwks: schedule refresh: %w", err)
	}
	return r, nil
}

// Start runs the schedule in the background.
func (r *Refresher) Start() { r.cron.Start() }

// Stop halts the schedule. The returned context is done once a running
// refresh has finished.
func (r *Refresher) Stop() context.Context { return r.cron.Stop() }

// RefreshAll refetches every configured url once. Failures are logged and
// leave the previous snapshot in place.
func (r *Refresher) RefreshAll() {
	for _, url := range r.urls {
		ctx, cancel := context.WithTimeout(context.Background(), r.client.timeout)
		if _, err := r.client.Refresh(ctx, url); err != nil {
			r.log.WithError(err).WithField("url", url).Warn("scheduled jwks refresh failed")
		}
		cancel()
	}
}
