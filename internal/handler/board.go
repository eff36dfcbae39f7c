package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/audit"
	"github.com/sakif/soundboard/internal/service"
)

// BoardHandler serves the caller's ordered board.
type BoardHandler struct {
	board  *service.BoardService
	logger *slog.Logger
}

func NewBoardHandler(board *service.BoardService, logger *slog.Logger) *BoardHandler {
	return &BoardHandler{board: board, logger: logger}
}

// HTTP: GET /api/linked
func (h *BoardHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	board, err := h.board.List(r.Context(), p.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"linked": board})
}

type position struct {
	ID          int64 `json:"id"`
	NewPosition int   `json:"new_position"`
}

// reorderRequest carries the board's new order, either as the ordered id
// list or as the {id, new_position} pairs older clients send.
type reorderRequest struct {
	Order     []int64    `json:"order"`
	Positions []position `json:"positions"`
}

func (req reorderRequest) ids() []int64 {
	if len(req.Order) > 0 || len(req.Positions) == 0 {
		return req.Order
	}
	sorted := make([]position, len(req.Positions))
	copy(sorted, req.Positions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].NewPosition < sorted[j].NewPosition
	})
	ids := make([]int64, len(sorted))
	for i, p := range sorted {
		ids[i] = p.ID
	}
	return ids
}

// HandleReorder saves a drag-and-drop order. The whole board is renumbered
// or nothing changes.
//
// HTTP: PUT /api/linked
func (h *BoardHandler) HandleReorder(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req reorderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	order := req.ids()
	if err := h.board.Reorder(r.Context(), p.ID, order); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	audit.Annotate(r.Context(), "count", len(order))
	writeOK(w, http.StatusOK, "Button order updated successfully", nil)
}

type linkRequest struct {
	UploadedID int64 `json:"uploadedId"`
	Tri        *int  `json:"tri"`
}

// HandleLink adds a catalog button to the board, at tri or at the end.
//
// HTTP: POST /api/link
func (h *BoardHandler) HandleLink(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req linkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	tri, err := h.board.Link(r.Context(), p.ID, req.UploadedID, req.Tri)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	audit.Annotate(r.Context(), "uploadedId", req.UploadedID)
	audit.Annotate(r.Context(), "tri", tri)
	writeOK(w, http.StatusOK, "Button linked", payload{"tri": tri})
}

// HandleUnlink removes a button from the board and archives it.
//
// HTTP: DELETE /api/link/{uploadedId}
func (h *BoardHandler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
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
	hist, err := h.board.Unlink(r.Context(), p.ID, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	audit.Annotate(r.Context(), "buttonName", hist.ButtonName)
	audit.Annotate(r.Context(), "historyId", hist.ID)
	writeOK(w, http.StatusOK, "Button removed", nil)
}

// HTTP: GET /api/search?category=
func (h *BoardHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	found, err := h.board.Search(r.Context(), p.ID, r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"buttons": found})
}

type bulkRequest struct {
	Operation string  `json:"operation"`
	ButtonIDs []int64 `json:"buttonIds"`
}

// HTTP: POST /api/bulk-operations
func (h *BoardHandler) HandleBulk(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req bulkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, apperror.ValidationFailed("buttonIds", "Operation and buttonIds array are required"))
		return
	}
	n, err := h.board.Bulk(r.Context(), p.ID, req.Operation, req.ButtonIDs)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	audit.Annotate(r.Context(), "operation", req.Operation)
	audit.Annotate(r.Context(), "count", n)
	writeOK(w, http.StatusOK,
		fmt.Sprintf("Bulk %s completed for %d buttons", req.Operation, n),
		payload{"count": n})
}
