package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
)

type nonceRequest struct {
	Address string `json:"address"`
}

type nonceResponse struct {
	Nonce string `json:"nonce"`
}

type verifyRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
}

type verifyResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handlers) issueNonce(w http.ResponseWriter, r *http.Request) {
	var req nonceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	nonce, err := h.auth.IssueNonce(r.Context(), req.Address)
	if errors.Is(err, common.ErrInvalidAddress) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	if err != nil {
		h.logger.Error(r.Context(), "issue nonce", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate nonce")
		return
	}

	writeJSON(w, http.StatusOK, nonceResponse{Nonce: nonce})
}

func (h *Handlers) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.auth.Verify(r.Context(), req.Address, req.Signature, req.Nonce)
	switch {
	case errors.Is(err, common.ErrInvalidNonce),
		errors.Is(err, common.ErrInvalidSignature),
		errors.Is(err, common.ErrInvalidAddress):
		h.logger.Info(r.Context(), "login rejected", "address", req.Address, "error", err)
		unauthorized(w)
		return
	case err != nil:
		h.logger.Error(r.Context(), "verify", "error", err)
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{Token: session.Token, ExpiresAt: session.ExpiresAt})
}
