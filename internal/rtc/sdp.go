package rtc

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// capBitrates sets a b=AS line on each audio, video and application section
// whose cap is positive. Caps are in kbps.
func capBitrates(raw string, audio, video, data int) (string, error) {
	if audio <= 0 && video <= 0 && data <= 0 {
		return raw, nil
	}

	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(raw); err != nil {
		return "", fmt.Errorf("parse sdp: %w", err)
	}

	for _, m := range desc.MediaDescriptions {
		var kbps int
		switch m.MediaName.Media {
		case "audio":
			kbps = audio
		case "video":
			kbps = video
		case "application":
			kbps = data
		}
		if kbps <= 0 {
			continue
		}

		kept := m.Bandwidth[:0]
		for _, b := range m.Bandwidth {
			if b.Type != "AS" {
				kept = append(kept, b)
			}
		}
		m.Bandwidth = append(kept, sdp.Bandwidth{Type: "AS", Bandwidth: uint64(kbps)})
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal sdp: %w", err)
	}
	return string(out), nil
}
