package api

import (
	"errors"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homely-sync/internal/history"
	"github.com/nerrad567/homely-sync/internal/snapshot"
)

// Entities names the stable identifiers downstream consumers bind to.
type Entities struct {
	AlarmPanel     string `json:"alarm_panel"`
	WebSocket      string `json:"websocket_status"`
	BatteryProblem string `json:"any_battery_problem"`
}

// EntitiesFor returns the entity identifiers of a location.
func EntitiesFor(locationID string) Entities {
	prefix := "location_" + locationID
	return Entities{
		AlarmPanel:     prefix + "_alarm_panel",
		WebSocket:      prefix + "_websocket_status",
		BatteryProblem: prefix + "_any_battery_problem",
	}
}

// locationResponse is a view plus its entity identifiers.
type locationResponse struct {
	snapshot.View
	Entities Entities `json:"entities"`
}

// handleListLocations returns the ids of all cached locations.
func (s *Server) handleListLocations(w http.ResponseWriter, _ *http.Request) {
	ids := s.store.Locations()
	writeJSON(w, http.StatusOK, map[string]any{"locations": ids, "count": len(ids)})
}

// handleGetLocation returns the full cached view of a location.
func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	view, ok := s.loadView(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, locationResponse{View: view, Entities: EntitiesFor(view.LocationID)})
}

// handleListDevices returns the devices of a location sorted by id.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	view, ok := s.loadView(w, r)
	if !ok {
		return
	}

	devices := make([]snapshot.Device, 0, len(view.Devices))
	for _, id := range slices.Sorted(maps.Keys(view.Devices)) {
		devices = append(devices, view.Devices[id])
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	view, ok := s.loadView(w, r)
	if !ok {
		return
	}

	dev, found := view.Devices[chi.URLParam(r, "deviceID")]
	if !found {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleGetConnection returns the push connection state of a location.
func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	view, ok := s.loadView(w, r)
	if !ok {
		return
	}

	resp := map[string]any{
		"connection": view.Connection,
		"entity_id":  EntitiesFor(view.LocationID).WebSocket,
	}
	if s.push != nil {
		resp["supervisor"] = s.push.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHistory returns stored changes for a location, newest first.
//
// Query parameters: device, capability, since (RFC 3339), limit.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history is disabled")
		return
	}

	q := history.Query{
		LocationID: chi.URLParam(r, "id"),
		DeviceID:   r.URL.Query().Get("device"),
		Capability: r.URL.Query().Get("capability"),
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		q.Since = since
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		q.Limit = limit
	}

	entries, err := s.history.Query(r.Context(), q)
	if err != nil {
		if errors.Is(err, history.ErrInvalidQuery) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("history query failed", "location_id", q.LocationID, "error", err)
		writeInternalError(w, "failed to query history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// loadView resolves the {id} path parameter, writing a 404 when unknown.
func (s *Server) loadView(w http.ResponseWriter, r *http.Request) (snapshot.View, bool) {
	view, err := s.store.View(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, snapshot.ErrUnknownLocation) {
			writeNotFound(w, "location not found")
			return snapshot.View{}, false
		}
		writeInternalError(w, "failed to read location")
		return snapshot.View{}, false
	}
	return view, true
}
