package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-hwmon/internal/bridges/hwmon"
)

type pairingOfferRequest struct {
	DeviceID string                   `json:"device_id"`
	Device   *hwmon.DeviceDescription `json:"device,omitempty"`
}

type startPairingRequest struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

// handlePairingStatus reports the pairing state machine.
func (s *Server) handlePairingStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.adapter.PairingStatus())
}

// handlePairingOffer stages a device for the next pairing run. Without a
// device description the offer is resolved against the monitoring
// endpoint when pairing starts.
func (s *Server) handlePairingOffer(w http.ResponseWriter, r *http.Request) {
	var req pairingOfferRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var desc hwmon.DeviceDescription
	if req.Device != nil {
		desc = *req.Device
	}
	if err := s.adapter.PairDevice(req.DeviceID, desc); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"pairing": s.adapter.PairingStatus()})
}

// handleStartPairing consumes the staged offer. The response reports
// paired=false when nothing was staged.
func (s *Server) handleStartPairing(w http.ResponseWriter, r *http.Request) {
	var req startPairingRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.TimeoutSeconds < 0 {
		writeBadRequest(w, "timeout_seconds must not be negative")
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = s.pairingTimeout
	}

	d, err := s.adapter.StartPairing(r.Context(), timeout)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if d == nil {
		writeJSON(w, http.StatusOK, map[string]any{"paired": false})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"paired": true, "device": d.Info()})
}

// handleCancelPairing aborts a pairing run in progress.
func (s *Server) handleCancelPairing(w http.ResponseWriter, _ *http.Request) {
	s.adapter.CancelPairing()
	writeJSON(w, http.StatusOK, map[string]any{"pairing": s.adapter.PairingStatus()})
}
