package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "ICE_SERVERS_JSON"

	envStunURLs       = "STUN_URLS"
	envTurnURLs       = "TURN_URLS"
	envTurnUsername   = "TURN_USERNAME"
	envTurnCredential = "TURN_CREDENTIAL"
)

var (
	errICEMissingURLs       = errors.New("missing urls")
	errICEEmptyURL          = errors.New("urls must not contain empty entries")
	errICEMissingUsername   = errors.New("turn urls require username")
	errICEMissingCredential = errors.New("turn urls require credential")
)

// parseICEServersFromValues prefers the JSON list when present and falls back
// to the STUN/TURN convenience variables otherwise.
func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	return ParseICEServersFromURLs(stunURLs, turnURLs, turnUsername, turnCredential)
}

// iceServerEntry mirrors the browser RTCIceServer dictionary, where urls may
// be a single string or an array.
type iceServerEntry struct {
	URLs       flexibleURLs `json:"urls"`
	Username   string       `json:"username,omitempty"`
	Credential string       `json:"credential,omitempty"`
}

type flexibleURLs []string

func (u *flexibleURLs) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*u = flexibleURLs{one}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("urls: expected string or array of strings")
	}
	*u = list
	return nil
}

// ParseICEServersJSON parses an RTCIceServer-shaped JSON array, for example
// `[{"urls":"stun:stun.example.com:3478"}]`.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var entries []iceServerEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(entries))
	for i, entry := range entries {
		server := webrtc.ICEServer{
			URLs:     trimmedNonEmpty(entry.URLs),
			Username: strings.TrimSpace(entry.Username),
		}
		if cred := strings.TrimSpace(entry.Credential); cred != "" {
			server.Credential = cred
		}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

// ParseICEServersFromURLs builds at most two entries: one for the STUN list
// and one for the TURN list sharing a single username and credential.
func ParseICEServersFromURLs(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if stun := trimmedNonEmpty(strings.Split(stunURLs, ",")); len(stun) > 0 {
		server := webrtc.ICEServer{URLs: stun}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if turn := trimmedNonEmpty(strings.Split(turnURLs, ",")); len(turn) > 0 {
		username := strings.TrimSpace(turnUsername)
		credential := strings.TrimSpace(turnCredential)
		if username == "" || credential == "" {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		server := webrtc.ICEServer{URLs: turn, Username: username, Credential: credential}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

func trimmedNonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func checkICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errICEMissingURLs
	}

	needsCreds := false
	for _, url := range server.URLs {
		if strings.TrimSpace(url) == "" {
			return errICEEmptyURL
		}
		scheme, _, ok := strings.Cut(url, ":")
		if !ok {
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
		switch scheme {
		case "stun", "stuns":
		case "turn", "turns":
			needsCreds = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
	}

	if !needsCreds {
		return nil
	}
	if strings.TrimSpace(server.Username) == "" {
		return errICEMissingUsername
	}
	if cred, ok := server.Credential.(string); !ok || strings.TrimSpace(cred) == "" {
		return errICEMissingCredential
	}
	return nil
}
