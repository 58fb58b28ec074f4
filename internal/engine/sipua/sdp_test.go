package sipua

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sdpLines(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func TestInspectSDP(t *testing.T) {
	header := []string{"v=0", "o=- 1 1 IN IP4 192.0.2.10", "s=-", "c=IN IP4 192.0.2.10", "t=0 0"}

	tests := []struct {
		name string
		body []byte
		want MediaSummary
	}{
		{
			name: "audio only",
			body: sdpLines(append(header, "m=audio 5004 RTP/AVP 0 101", "a=sendrecv")...),
			want: MediaSummary{Audio: true, RemoteAddr: "192.0.2.10", AudioPort: 5004, Codecs: []string{"0", "101"}},
		},
		{
			name: "audio and video",
			body: sdpLines(append(header, "m=audio 5004 RTP/AVP 8", "m=video 5006 RTP/AVP 96")...),
			want: MediaSummary{Audio: true, Video: true, RemoteAddr: "192.0.2.10", AudioPort: 5004, Codecs: []string{"8"}},
		},
		{
			name: "declined video",
			body: sdpLines(append(header, "m=audio 5004 RTP/AVP 8", "m=video 0 RTP/AVP 96")...),
			want: MediaSummary{Audio: true, RemoteAddr: "192.0.2.10", AudioPort: 5004, Codecs: []string{"8"}},
		},
		{
			name: "media level sendonly is hold",
			body: sdpLines(append(header, "m=audio 5004 RTP/AVP 8", "a=sendonly")...),
			want: MediaSummary{Audio: true, RemoteAddr: "192.0.2.10", AudioPort: 5004, Codecs: []string{"8"}, OnHold: true},
		},
		{
			name: "session level inactive is hold",
			body: sdpLines(append(header, "a=inactive", "m=audio 5004 RTP/AVP 8")...),
			want: MediaSummary{Audio: true, RemoteAddr: "192.0.2.10", AudioPort: 5004, Codecs: []string{"8"}, OnHold: true},
		},
		{
			name: "media direction overrides session",
			body: sdpLines(append(header, "a=inactive", "m=audio 5004 RTP/AVP 8", "a=sendrecv")...),
			want: MediaSummary{Audio: true, RemoteAddr: "192.0.2.10", AudioPort: 5004, Codecs: []string{"8"}},
		},
		{
			name: "zero address is hold",
			body: sdpLines("v=0", "o=- 1 1 IN IP4 192.0.2.10", "s=-", "c=IN IP4 0.0.0.0", "t=0 0", "m=audio 5004 RTP/AVP 8"),
			want: MediaSummary{Audio: true, RemoteAddr: "0.0.0.0", AudioPort: 5004, Codecs: []string{"8"}, OnHold: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InspectSDP(tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInspectSDP_Errors(t *testing.T) {
	_, err := InspectSDP(nil)
	assert.ErrorIs(t, err, ErrNoSDP)

	_, err = InspectSDP([]byte("this is not sdp"))
	assert.Error(t, err)
}
