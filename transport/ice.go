package transport

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// BuildICEServers concatenates the STUN servers and TURN entries into an
// ICE server list, STUN first. Entries are not de-duplicated.
func BuildICEServers(stunServers []string, turnServers []TURNServer) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(stunServers)+len(turnServers))

	for _, s := range stunServers {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		servers = append(servers, webrtc.ICEServer{URLs: []string{withSTUNScheme(s)}})
	}

	for _, t := range turnServers {
		server := webrtc.ICEServer{
			URLs:     append([]string(nil), t.URLs...),
			Username: t.Username,
		}
		if t.Credential != "" {
			server.Credential = t.Credential
		}
		servers = append(servers, server)
	}

	return servers
}

// withSTUNScheme adds the stun: scheme ICE requires to bare host:port entries.
func withSTUNScheme(server string) string {
	if strings.HasPrefix(server, "stun:") || strings.HasPrefix(server, "stuns:") {
		return server
	}
	return "stun:" + server
}
