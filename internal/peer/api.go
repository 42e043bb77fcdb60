package peer

import (
	transport "github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
)

// newAPI builds a pion API with default codecs. A non-nil net replaces the
// host network stack; tests use this to run negotiation over a virtual
// network.
func newAPI(n transport.Net) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	if n != nil {
		se.SetNet(n)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}
