package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/audit"
	"github.com/sakif/soundboard/internal/service"
)

// PreferenceHandler serves per-user volumes and favorites plus play counters.
type PreferenceHandler struct {
	prefs  *service.PreferenceService
	logger *slog.Logger
}

func NewPreferenceHandler(prefs *service.PreferenceService, logger *slog.Logger) *PreferenceHandler {
	return &PreferenceHandler{prefs: prefs, logger: logger}
}

// HTTP: GET /api/button-volume/{uploadedId}
func (h *PreferenceHandler) HandleGetVolume(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id, err := pathID(r, "uploadedId")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	v, err := h.prefs.Volume(r.Context(), p.ID, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"volume": v})
}

var errVolumeRequired = apperror.ValidationFailed("volume", "Volume is required")

type volumeRequest struct {
	Volume *float64 `json:"volume"`
}

// HTTP: PUT /api/button-volume/{uploadedId}
func (h *PreferenceHandler) HandleSetVolume(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id, err := pathID(r, "uploadedId")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req volumeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.Volume == nil {
		writeError(w, r, h.logger, errVolumeRequired)
		return
	}
	if err := h.prefs.SetVolume(r.Context(), p.ID, id, *req.Volume); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Volume updated", payload{"volume": *req.Volume})
}

// HTTP: GET /api/button-volumes
func (h *PreferenceHandler) HandleVolumes(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	volumes, err := h.prefs.Volumes(r.Context(), p.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"volumes": volumes})
}

// HTTP: GET /api/favorites
func (h *PreferenceHandler) HandleFavorites(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	favorites, err := h.prefs.Favorites(r.Context(), p.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"favorites": favorites})
}

// HTTP: POST /api/favorites/{uploadedId}
func (h *PreferenceHandler) HandleAddFavorite(w http.ResponseWriter, r *http.Request) {
	h.favorite(w, r, true)
}

// HTTP: DELETE /api/favorites/{uploadedId}
func (h *PreferenceHandler) HandleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	h.favorite(w, r, false)
}

func (h *PreferenceHandler) favorite(w http.ResponseWriter, r *http.Request, add bool) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id, err := pathID(r, "uploadedId")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	message := "Added to favorites"
	if add {
		err = h.prefs.AddFavorite(r.Context(), p.ID, id)
	} else {
		err = h.prefs.RemoveFavorite(r.Context(), p.ID, id)
		message = "Removed from favorites"
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	audit.Annotate(r.Context(), "uploadedId", id)
	writeOK(w, http.StatusOK, message, nil)
}

// HTTP: POST /api/play/{uploadedId}
func (h *PreferenceHandler) HandlePlay(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "uploadedId")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.prefs.RecordPlay(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", nil)
}

// HTTP: GET /api/stats/button/{uploadedId}
func (h *PreferenceHandler) HandleButtonStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "uploadedId")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	stats, err := h.prefs.ButtonStats(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"stats": stats})
}

// HandleMostPlayed lists the top buttons by play count. limit is clamped.
//
// HTTP: GET /api/stats/most-played?limit=
func (h *PreferenceHandler) HandleMostPlayed(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	stats, err := h.prefs.MostPlayed(r.Context(), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"buttons": stats})
}
