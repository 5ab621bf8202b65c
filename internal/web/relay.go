package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gbrivate/grafana-lgtm/internal/api"
	"github.com/gbrivate/grafana-lgtm/telemetry"
)

const maxDocumentBytes = 1 << 20

func (s *Server) handleRollDice(w http.ResponseWriter, r *http.Request) {
	res, err := s.api.RollDice(r.Context(), r.URL.Query().Get("player"))
	s.respond(w, r, res, err)
}

func (s *Server) handleSlow(w http.ResponseWriter, r *http.Request) {
	delay, ok := intParam(w, r, "timeDelay")
	if !ok {
		return
	}
	res, err := s.api.Slow(r.Context(), delay)
	s.respond(w, r, res, err)
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	res, err := s.api.Hello(r.Context(), r.URL.Query().Get("name"))
	s.respond(w, r, res, err)
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	code, ok := intParam(w, r, "code")
	if !ok {
		return
	}
	res, err := s.api.Error(r.Context(), code)
	s.respond(w, r, res, err)
}

func (s *Server) handleCallLoop(w http.ResponseWriter, r *http.Request) {
	loop, ok := intParam(w, r, "loop")
	if !ok {
		return
	}
	res, err := s.api.CallLoop(r.Context(), loop)
	s.respond(w, r, res, err)
}

func (s *Server) handleJava(w http.ResponseWriter, r *http.Request) {
	res, err := s.api.CallJava(r.Context())
	s.respond(w, r, res, err)
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	content, ok := readDocument(w, r)
	if !ok {
		return
	}
	sig, err := s.api.SignDocument(r.Context(), content)
	if err != nil {
		s.respond(w, r, nil, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, sig)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	content, ok := readDocument(w, r)
	if !ok {
		return
	}
	res, err := s.api.VerifyDocument(r.Context(), r.Header.Get("X-Signature"), content)
	s.respond(w, r, res, err)
}

// respond writes v as JSON, or relays the backend failure. A backend status
// error keeps its code and body; anything else is a 502.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, v interface{}, err error) {
	if err != nil {
		telemetry.RecordSpanError(r.Context(), err)
		s.logger.ErrorWithContext(r.Context(), "Backend call failed", map[string]interface{}{
			"path":  r.URL.Path,
			"error": err.Error(),
		})

		var se *api.StatusError
		if errors.As(err, &se) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(se.StatusCode)
			_, _ = io.WriteString(w, se.Body)
			return
		}
		http.Error(w, "backend unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	n, err := strconv.Atoi(raw)
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func readDocument(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		http.Error(w, "document too large", http.StatusRequestEntityTooLarge)
		return "", false
	}
	return string(body), true
}
