package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

type iceResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
	// ExpiresAt is set when TURN entries carry ephemeral credentials.
	ExpiresAt string `json:"expiresAt,omitempty"`
}

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.ICEConfigError(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	w.Header().Set("Cache-Control", "no-store")

	servers := s.cfg.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	if s.turn == nil || !anyTURN(servers) {
		WriteJSON(w, http.StatusOK, iceResponse{ICEServers: servers})
		return
	}

	creds, err := s.turn.Issue()
	if err != nil {
		s.log.Error("turn rest credentials", "err", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "turn_credentials_unavailable"})
		return
	}
	WriteJSON(w, http.StatusOK, iceResponse{
		ICEServers: withCredentials(servers, creds.Username, creds.Credential),
		ExpiresAt:  creds.Expires.Format(time.RFC3339),
	})
}

// withCredentials copies servers, replacing the credentials of every entry
// with a TURN url. The configured slice is never mutated.
func withCredentials(servers []webrtc.ICEServer, username, credential string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if isTURN(server) {
			out[i].Username = username
			out[i].Credential = credential
		}
	}
	return out
}

func anyTURN(servers []webrtc.ICEServer) bool {
	for _, server := range servers {
		if isTURN(server) {
			return true
		}
	}
	return false
}

func isTURN(server webrtc.ICEServer) bool {
	for _, url := range server.URLs {
		scheme, _, _ := strings.Cut(strings.TrimSpace(url), ":")
		switch strings.ToLower(scheme) {
		case "turn", "turns":
			return true
		}
	}
	return false
}
