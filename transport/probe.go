package transport

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ErrWebRTCUnavailable is returned by probes when the platform cannot run WebRTC.
var ErrWebRTCUnavailable = errors.New("webrtc unavailable")

// Probe reports whether WebRTC can be used. On success it returns the API
// the WebRTC transport should build peer connections from.
type Probe func() (*webrtc.API, error)

// DefaultProbe builds a WebRTC API and opens a throwaway peer connection to
// verify the stack initializes on this platform.
func DefaultProbe() (api *webrtc.API, err error) {
	defer func() {
		if r := recover(); r != nil {
			api = nil
			err = fmt.Errorf("%w: %v", ErrWebRTCUnavailable, r)
		}
	}()

	api = webrtc.NewAPI()
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWebRTCUnavailable, err)
	}
	if err := pc.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWebRTCUnavailable, err)
	}
	return api, nil
}

// UnavailableProbe always reports WebRTC as missing.
func UnavailableProbe() (*webrtc.API, error) {
	return nil, ErrWebRTCUnavailable
}
