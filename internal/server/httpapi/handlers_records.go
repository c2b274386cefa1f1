package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/server/access"
	"github.com/dmitrijs2005/medvault/internal/server/audit"
	"github.com/dmitrijs2005/medvault/internal/server/records"
	"github.com/dmitrijs2005/medvault/internal/walletsig"
	"github.com/go-chi/chi/v5"
)

type uploadRequest struct {
	FileData       string `json:"fileData"`
	FileName       string `json:"fileName"`
	PatientAddress string `json:"patientAddress"`
	Signature      string `json:"signature"`
	Encrypted      bool   `json:"encrypted"`
}

type uploadResponse struct {
	CID       string    `json:"cid"`
	IV        string    `json:"iv,omitempty"`
	Encrypted bool      `json:"encrypted"`
	Timestamp time.Time `json:"timestamp"`
}

type recordResponse struct {
	Data     string           `json:"data"`
	Metadata records.Metadata `json:"metadata"`
}

func (h *Handlers) uploadRecord(w http.ResponseWriter, r *http.Request) {
	// base64 inflates by a third, plus room for the other fields
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.opts.MaxUploadSize)/3*4+64<<10)

	var req uploadRequest
	if err := decodeJSON(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patient, err := common.NormalizeAddress(req.PatientAddress)
	if err != nil {
		unauthorized(w)
		return
	}
	if err := walletsig.Verify(patient, common.UploadMessage(req.FileName), req.Signature); err != nil {
		h.logger.Info(r.Context(), "upload signature rejected", "patient", patient)
		unauthorized(w)
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.FileData)
	if err != nil {
		writeError(w, http.StatusBadRequest, "fileData is not base64")
		return
	}

	stored, err := h.records.Put(r.Context(), patient, data, req.FileName, req.Encrypted)
	if err != nil {
		h.logger.Warn(r.Context(), "upload failed", "patient", patient, "error", err)
		storageError(w, err)
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		Patient:   patient,
		Accessor:  patient,
		CID:       stored.CID,
		Action:    audit.ActionUpload,
		Outcome:   audit.OutcomeStored,
		Timestamp: stored.UploadedAt,
	})

	writeJSON(w, http.StatusOK, uploadResponse{
		CID:       stored.CID,
		IV:        stored.IV,
		Encrypted: stored.Encrypted,
		Timestamp: stored.UploadedAt,
	})
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return access.OutcomeAllowed
	case errors.Is(err, common.ErrExpired):
		return access.OutcomeExpired
	case errors.Is(err, common.ErrInvalidSignature):
		return access.OutcomeInvalidSignature
	}
	return access.OutcomeDenied
}

func (h *Handlers) getRecord(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	if _, err := records.ParseCID(cid); err != nil {
		writeError(w, http.StatusBadRequest, "invalid cid")
		return
	}

	q := r.URL.Query()
	req := access.Request{
		Requester: q.Get("requesterAddress"),
		Signature: q.Get("signature"),
		Message:   common.AccessMessage(cid),
		Patient:   q.Get("patientAddress"),
		CID:       cid,
	}

	grant, err := h.access.Authorize(r.Context(), req)
	if _, perr := common.NormalizeAddress(req.Patient); perr == nil {
		h.audit.Record(r.Context(), audit.Entry{
			Patient:  req.Patient,
			Accessor: req.Requester,
			RecordID: grant.RecordID,
			CID:      cid,
			Action:   audit.ActionRead,
			Outcome:  outcomeOf(err),
		})
	}
	if err != nil {
		h.logger.Info(r.Context(), "record access denied",
			"cid", cid, "requester", req.Requester, "reason", err)
		denied(w)
		return
	}

	obj, err := h.records.Get(r.Context(), cid)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			h.logger.Warn(r.Context(), "record fetch failed", "cid", cid, "error", err)
		}
		storageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recordResponse{
		Data:     base64.StdEncoding.EncodeToString(obj.Data),
		Metadata: obj.Metadata,
	})
}
