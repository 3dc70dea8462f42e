package session

import (
	"context"
	"time"
)

// Run refreshes the access token every refresh interval while one is held,
// until ctx is done. A failed refresh is only logged; the next Verify or
// Guard decides whether the session is still usable.
func (h *Holder) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.Authenticated() {
				continue
			}
			if !h.Refresh(ctx) {
				h.logger.Warn("Proactive token refresh failed")
				continue
			}
			h.logger.Debug("Access token refreshed proactively")
		}
	}
}
