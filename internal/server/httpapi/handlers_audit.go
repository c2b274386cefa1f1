package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/go-chi/chi/v5"
)

// auditLog lists a patient's trail. A bearer token is optional, but when
// one is sent it must be valid and belong to the patient.
func (h *Handlers) auditLog(w http.ResponseWriter, r *http.Request) {
	patient, err := common.NormalizeAddress(chi.URLParam(r, "patientAddress"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	if header := r.Header.Get(common.AuthorizationHeaderName); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			unauthorized(w)
			return
		}
		addr, err := h.auth.ParseSession(strings.TrimSpace(token))
		if err != nil || !common.SameAddress(addr, patient) {
			unauthorized(w)
			return
		}
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	entries, err := h.audit.Query(r.Context(), patient, limit)
	if errors.Is(err, common.ErrInvalidAddress) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	if err != nil {
		h.logger.Error(r.Context(), "audit query", "patient", patient, "error", err)
		writeError(w, http.StatusServiceUnavailable, "audit log unavailable")
		return
	}

	writeJSON(w, http.StatusOK, entries)
}
