package signaling

import (
	"net/http"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"

	"github.com/fast-security-fast/Fast-security-server/internal/httpserver"
)

const (
	roomNameWords    = 3
	roomNameSep      = "-"
	roomNameAttempts = 8
)

// SuggestRoom returns a readable room name, like "gently-quiet-heron", that
// has no members right now. It is only a suggestion: nothing is reserved.
func (s *Server) SuggestRoom() string {
	var name string
	for i := 0; i < roomNameAttempts; i++ {
		name = petname.Generate(roomNameWords, roomNameSep)
		if !s.registry.HasRoom(name) {
			return name
		}
	}
	return name + roomNameSep + uuid.NewString()[:8]
}

func (s *Server) handleSuggestRoom(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"room": s.SuggestRoom()})
}
