package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/courtside/scorekeeper/internal/domain"
)

// Syncer is the sync engine surface the handler needs.
type Syncer interface {
	ProcessPendingScores(ctx context.Context, force bool) (int, error)
	Online(ctx context.Context) bool
}

// SyncHandler triggers a synchronization pass on demand.
type SyncHandler struct {
	syncer Syncer
}

// NewSyncHandler creates the handler.
func NewSyncHandler(syncer Syncer) *SyncHandler {
	return &SyncHandler{syncer: syncer}
}

// Trigger runs a drain pass. ?force=true bypasses both the offline
// check and the single-flight skip (end-of-night flush). The committed
// count tells the UI whether to show "submitted" or "nothing to
// submit"; a non-forced trigger while offline gets 503 instead of a
// misleading zero.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if !force && !h.syncer.Online(r.Context()) {
		RespondError(w, domain.ErrOffline())
		return
	}
	count, err := h.syncer.ProcessPendingScores(r.Context(), force)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]int{"synced": count})
}
