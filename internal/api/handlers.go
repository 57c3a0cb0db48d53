// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinelgate/internal/threat"
)

// maxEventBody bounds the intake request body.
const maxEventBody = 64 << 10

// recordEvent handles POST /api/v1/events.
func (rt *Router) recordEvent(w http.ResponseWriter, r *http.Request) {
	var in threat.EventInput
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := rt.engine.RecordEvent(r.Context(), in)
	if err != nil {
		if errors.Is(err, threat.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// listIncidents handles GET /api/v1/incidents?status=active.
func (rt *Router) listIncidents(w http.ResponseWriter, r *http.Request) {
	status := threat.IncidentStatus(r.URL.Query().Get("status"))
	switch status {
	case "", threat.StatusActive, threat.StatusInvestigating,
		threat.StatusResolved, threat.StatusFalsePositive:
	default:
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}
	writeJSON(w, http.StatusOK, rt.engine.Incidents().List(status))
}

// getIncident handles GET /api/v1/incidents/{id}.
func (rt *Router) getIncident(w http.ResponseWriter, r *http.Request) {
	inc, ok := rt.engine.Incidents().Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

// incidentUpdate is the PATCH body for incident transitions.
type incidentUpdate struct {
	Status     threat.IncidentStatus `json:"status"`
	Resolution string                `json:"resolution,omitempty"`
}

// updateIncident handles PATCH /api/v1/incidents/{id}.
func (rt *Router) updateIncident(w http.ResponseWriter, r *http.Request) {
	var upd incidentUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	err := rt.engine.Incidents().UpdateStatus(r.Context(), id, upd.Status, upd.Resolution, threat.ActorAdmin)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	inc, _ := rt.engine.Incidents().Get(id)
	writeJSON(w, http.StatusOK, inc)
}

// listRules handles GET /api/v1/rules.
func (rt *Router) listRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.engine.Rules().List())
}

// ruleUpdate is the PATCH body for rule toggling.
type ruleUpdate struct {
	Enabled bool `json:"enabled"`
}

// updateRule handles PATCH /api/v1/rules/{id}.
func (rt *Router) updateRule(w http.ResponseWriter, r *http.Request) {
	var upd ruleUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	if err := rt.engine.Rules().SetEnabled(id, upd.Enabled); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	rule, _ := rt.engine.Rules().Get(id)
	writeJSON(w, http.StatusOK, rule)
}

// checkIP handles GET /api/v1/checks/ip/{ip}.
func (rt *Router) checkIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	writeJSON(w, http.StatusOK, map[string]any{
		"ip":      ip,
		"blocked": rt.engine.IsIPBlocked(ip),
	})
}

// checkUser handles GET /api/v1/checks/user/{id}.
func (rt *Router) checkUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":          id,
		"suspended":        rt.engine.IsUserSuspended(id),
		"step_up_required": rt.engine.IsStepUpRequired(id),
	})
}

// listAlerts handles GET /api/v1/alerts?limit=50.
func (rt *Router) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, rt.engine.Alerts(limit))
}

// status handles GET /api/v1/status.
func (rt *Router) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.engine.Metrics(r.Context()))
}

// healthz handles GET /healthz.
func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
