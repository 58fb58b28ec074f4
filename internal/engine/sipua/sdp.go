package sipua

import (
	"errors"
	"fmt"

	psdp "github.com/pion/sdp/v3"
)

// ErrNoSDP is returned for offers without a body.
var ErrNoSDP = errors.New("no SDP body")

// MediaSummary is what the client needs to know about an offer's media.
type MediaSummary struct {
	Audio      bool
	Video      bool
	RemoteAddr string
	AudioPort  int
	Codecs     []string
	// OnHold is set when every stream is sendonly or inactive, or the
	// connection address is 0.0.0.0.
	OnHold bool
}

// InspectSDP parses an SDP body.
func InspectSDP(body []byte) (MediaSummary, error) {
	var summary MediaSummary
	if len(body) == 0 {
		return summary, ErrNoSDP
	}

	sd := &psdp.SessionDescription{}
	if err := sd.Unmarshal(body); err != nil {
		return summary, fmt.Errorf("parse SDP: %w", err)
	}

	sessionAddr := ""
	if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		sessionAddr = sd.ConnectionInformation.Address.Address
	}
	sessionHeld := hasHoldAttribute(sd.Attribute)

	active := 0
	for _, md := range sd.MediaDescriptions {
		// Port 0 marks a declined stream.
		if md.MediaName.Port.Value == 0 {
			continue
		}
		addr := sessionAddr
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			addr = md.ConnectionInformation.Address.Address
		}

		switch md.MediaName.Media {
		case "audio":
			if !summary.Audio {
				summary.Audio = true
				summary.AudioPort = md.MediaName.Port.Value
				summary.Codecs = append([]string(nil), md.MediaName.Formats...)
				summary.RemoteAddr = addr
			}
		case "video":
			summary.Video = true
		default:
			continue
		}

		held := addr == "0.0.0.0" || hasHoldAttribute(md.Attribute)
		if !held && !(sessionHeld && !hasDirection(md.Attribute)) {
			active++
		}
	}

	summary.OnHold = (summary.Audio || summary.Video) && active == 0
	return summary, nil
}

type attributeLookup func(key string) (string, bool)

func hasHoldAttribute(lookup attributeLookup) bool {
	for _, key := range []string{"sendonly", "inactive"} {
		if _, ok := lookup(key); ok {
			return true
		}
	}
	return false
}

func hasDirection(lookup attributeLookup) bool {
	for _, key := range []string{"sendrecv", "sendonly", "recvonly", "inactive"} {
		if _, ok := lookup(key); ok {
			return true
		}
	}
	return false
}
