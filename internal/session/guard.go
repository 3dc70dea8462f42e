package session

import "context"

// Guard decides whether a protected view may be shown. It waits for
// Initialize, then verifies, then tries one refresh; a session that fails
// all of that is logged out.
func (h *Holder) Guard(ctx context.Context) bool {
	if err := h.WaitReady(ctx); err != nil {
		return false
	}
	if !h.Authenticated() {
		return false
	}
	if _, ok := h.Verify(ctx, false); ok {
		return true
	}
	if h.Refresh(ctx) {
		if _, ok := h.Verify(ctx, true); ok {
			return true
		}
	}
	if err := h.Logout(ctx); err != nil {
		h.logger.WithError(err).Warn("Logout after failed guard check did not clear storage")
	}
	return false
}
