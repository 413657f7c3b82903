package media

import (
	"strings"
	"testing"
)

func TestBuildSDPProducesExpectedAttributes(t *testing.T) {
	body, err := BuildSDP(Offer{
		OriginUsername: "agent",
		SessionID:      1,
		SessionVersion: 1,
		LocalIP:        "192.0.2.10",
		Streams: []StreamParams{
			{
				Kind:      "audio",
				Port:      40000,
				Codecs:    PreferenceList{CodecPCMU, CodecOpus},
				Direction: DirSendRecv,
				RTCPMux:   true,
				ICEUfrag:  "ufrag1",
				ICEPwd:    "pwd12345678901234567890",
			},
		},
	})
	if err != nil {
		t.Fatalf("BuildSDP() error = %v", err)
	}
	text := string(body)

	for _, want := range []string{
		"m=audio 40000 RTP/AVP 0 111",
		"a=rtpmap:0 PCMU/8000",
		"a=rtpmap:111 opus/48000/2",
		"a=sendrecv",
		"a=rtcp-mux",
		"a=ice-ufrag:ufrag1",
		"a=ice-pwd:pwd12345678901234567890",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("BuildSDP() output missing %q:\n%s", want, text)
		}
	}
}

func TestBuildSDPRejectsStreamWithNoKnownCodec(t *testing.T) {
	_, err := BuildSDP(Offer{
		Streams: []StreamParams{{Kind: "audio", Port: 1, Codecs: PreferenceList{Codec(99)}}},
	})
	if err == nil {
		t.Fatal("BuildSDP() error = nil, want error for stream with no known codec")
	}
}

func TestParseSDPExtractsStreamsAndSessionIP(t *testing.T) {
	body, err := BuildSDP(Offer{
		OriginUsername: "peer",
		SessionID:      2,
		SessionVersion: 2,
		LocalIP:        "203.0.113.5",
		Streams: []StreamParams{
			{Kind: "audio", Port: 30000, Codecs: PreferenceList{CodecPCMU, CodecPCMA}, Direction: DirSendRecv},
		},
	})
	if err != nil {
		t.Fatalf("BuildSDP() error = %v", err)
	}

	sessionIP, streams, err := ParseSDP(body)
	if err != nil {
		t.Fatalf("ParseSDP() error = %v", err)
	}
	if sessionIP != "203.0.113.5" {
		t.Errorf("ParseSDP() sessionIP = %q, want 203.0.113.5", sessionIP)
	}
	if len(streams) != 1 {
		t.Fatalf("ParseSDP() streams = %d, want 1", len(streams))
	}
	s := streams[0]
	if s.Kind != "audio" || s.Port != 30000 {
		t.Errorf("ParseSDP() stream = %+v, want audio/30000", s)
	}
	if len(s.Codecs) != 2 || s.Codecs[0] != CodecPCMU || s.Codecs[1] != CodecPCMA {
		t.Errorf("ParseSDP() codecs = %v, want [PCMU PCMA]", s.Codecs)
	}
}

func TestParseSDPRejectsMalformedBody(t *testing.T) {
	if _, _, err := ParseSDP([]byte("not sdp at all")); err == nil {
		t.Fatal("ParseSDP() error = nil, want error for malformed body")
	}
}
