package control

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jdginn/antidrift/calibration"
	"github.com/jdginn/antidrift/params"
	"github.com/jdginn/antidrift/relay"
)

const maxSettingsBody = 1 << 16

type statusResponse struct {
	Status string             `json:"status"`
	Error  string             `json:"error,omitempty"`
	Epoch  *calibration.Epoch `json:"epoch,omitempty"`
}

type relayStatusResponse struct {
	relay.Status
	Uptime  string `json:"uptime"`
	Started string `json:"started"`
}

func pingPong(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.relay.Parameters())
}

func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	var u params.Update
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSettingsBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		s.writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Error: "invalid settings document: " + err.Error()})
		return
	}
	if u.IsEmpty() {
		s.writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Error: "no settings given"})
		return
	}
	if _, err := s.relay.UpdateParameters(u); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, params.ErrInvalidThreshold) || errors.Is(err, params.ErrInvalidCoefficient) {
			code = http.StatusBadRequest
		}
		s.writeJSON(w, code, statusResponse{Status: "error", Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	epoch := s.relay.TriggerCalibration()
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "success", Epoch: &epoch})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.relay.Status()
	s.writeJSON(w, http.StatusOK, relayStatusResponse{
		Status:  st,
		Uptime:  time.Since(st.StartedAt).Round(time.Second).String(),
		Started: humanize.Time(st.StartedAt),
	})
}

func (s *Server) handleTrackers(w http.ResponseWriter, r *http.Request) {
	active := s.relay.ActiveTrackers()
	if active == nil {
		active = []relay.ActiveTracker{}
	}
	s.writeJSON(w, http.StatusOK, active)
}
