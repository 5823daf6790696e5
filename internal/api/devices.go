package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hwmon/internal/bridges/hwmon"
	"github.com/nerrad567/gray-logic-hwmon/internal/history"
)

// pathParam returns an unescaped path parameter. Device IDs and property
// names may contain slashes, which clients send as %2F.
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func deviceID(r *http.Request) string {
	return pathParam(r, "id")
}

// handleListDevices returns every registered device in insertion order.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.adapter.Devices()
	infos := make([]hwmon.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, d.Info())
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": infos, "count": len(infos)})
}

// handleGetDevice returns a single device with its current values.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := deviceID(r)
	d, ok := s.adapter.Device(id)
	if !ok {
		writeNotFound(w, "device not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, d.Info())
}

type setPropertyRequest struct {
	Value any `json:"value"`
}

// handleSetProperty validates and writes one property value.
func (s *Server) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	id := deviceID(r)
	name := pathParam(r, "name")

	var req setPropertyRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	accepted, err := s.adapter.SetValue(r.Context(), id, name, req.Value)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	logArgs := []any{"device_id", id, "property", name, "value", accepted}
	if claims := claimsFromContext(r.Context()); claims != nil {
		logArgs = append(logArgs, "subject", claims.Subject)
	}
	s.logger.Info("property set via API", logArgs...)

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"property":  name,
		"value":     accepted,
	})
}

// handleDeviceHistory returns recorded values for a device, newest first.
//
// Query parameters:
//   - property: only this property
//   - limit: rows to return (default 50, max 200)
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "reading history is not enabled")
		return
	}

	q := history.Query{
		DeviceID: deviceID(r),
		Property: r.URL.Query().Get("property"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		q.Limit = limit
	}

	entries, err := s.history.History(r.Context(), q)
	if err != nil {
		s.logger.Error("querying reading history failed", "device_id", q.DeviceID, "error", err)
		writeInternalError(w, "failed to query history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": q.DeviceID,
		"entries":   entries,
		"count":     len(entries),
	})
}

// handleUnpairDevice stages removal of a device.
func (s *Server) handleUnpairDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.adapter.UnpairDevice(deviceID(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"pairing": s.adapter.PairingStatus()})
}

// handleRemoveDevice consumes the staged unpairing offer for the device.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	id := deviceID(r)
	if _, err := s.adapter.RemoveThing(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": id})
}

// handleCancelRemove reports that the host abandoned a removal. The
// staged unpairing offer is kept.
func (s *Server) handleCancelRemove(w http.ResponseWriter, r *http.Request) {
	s.adapter.CancelRemoveThing(deviceID(r))
	writeJSON(w, http.StatusOK, map[string]any{"pairing": s.adapter.PairingStatus()})
}

// handleClearDevices removes every device and staged offer.
func (s *Server) handleClearDevices(w http.ResponseWriter, _ *http.Request) {
	n := s.adapter.DeviceCount()
	s.adapter.ClearState()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

// handleDiscovery runs one discovery pass against the monitoring endpoint.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	result, err := s.adapter.DiscoverSensors(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decodeOptionalBody is decodeBody that accepts an empty body.
func decodeOptionalBody(r *http.Request, dst any) error {
	if err := decodeBody(r, dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
