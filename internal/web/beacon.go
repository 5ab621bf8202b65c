package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gbrivate/grafana-lgtm/telemetry"
)

// Beacon is the batch the browser posts to /telemetry/beacon.
type Beacon struct {
	SessionID    string                       `json:"session_id,omitempty"`
	Navigation   *telemetry.NavigationTiming  `json:"navigation,omitempty"`
	Interactions []telemetry.InteractionEvent `json:"interactions,omitempty"`
	Vitals       []telemetry.VitalSample      `json:"vitals,omitempty"`
}

// BeaconResponse tells the browser which session its events belong to.
type BeaconResponse struct {
	SessionID string `json:"session_id"`
	Accepted  int    `json:"accepted"`
}

func (s *Server) handleBeacon(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBeaconBytes)

	var b Beacon
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		s.logger.Warn("Rejected telemetry beacon", map[string]interface{}{
			"error":  err.Error(),
			"status": status,
		})
		http.Error(w, "invalid beacon", status)
		return
	}

	if err := b.validate(); err != nil {
		s.logger.Warn("Rejected telemetry beacon", map[string]interface{}{
			"error":  err.Error(),
			"status": http.StatusBadRequest,
		})
		http.Error(w, "invalid beacon", http.StatusBadRequest)
		return
	}
	if b.SessionID == "" {
		b.SessionID = telemetry.NewSessionID()
	}

	resp := BeaconResponse{SessionID: b.SessionID, Accepted: s.publish(&b)}
	telemetry.AddSpanEvent(r.Context(), "beacon.accepted",
		telemetry.AttrSessionID.String(resp.SessionID),
		attribute.Int("beacon.events", resp.Accepted),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(resp)
}

// validate checks every session id the browser supplied. Ids key the
// session store, so anything but the canonical UUID form is refused.
func (b *Beacon) validate() error {
	ids := []string{b.SessionID}
	if b.Navigation != nil {
		ids = append(ids, b.Navigation.SessionID)
	}
	for _, ev := range b.Interactions {
		ids = append(ids, ev.SessionID)
	}
	for _, v := range b.Vitals {
		ids = append(ids, v.SessionID)
	}
	for _, id := range ids {
		if id != "" && !telemetry.ValidSessionID(id) {
			return telemetry.ErrInvalidSessionID
		}
	}
	return nil
}

// publish hands the beacon's events to the bus, navigation first so the
// document load span exists before interactions look up the session.
func (s *Server) publish(b *Beacon) int {
	if s.bus == nil {
		return 0
	}
	accepted := 0

	if nt := b.Navigation; nt != nil {
		if nt.SessionID == "" {
			nt.SessionID = b.SessionID
		}
		s.bus.PublishNavigation(*nt)
		accepted++
	}

	now := time.Now()
	for _, ev := range b.Interactions {
		if ev.SessionID == "" {
			ev.SessionID = b.SessionID
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now
		}
		s.bus.PublishInteraction(ev)
		accepted++
	}

	for _, v := range b.Vitals {
		if v.SessionID == "" {
			v.SessionID = b.SessionID
		}
		s.bus.PublishVital(v)
		accepted++
	}
	return accepted
}
