package transport

import "testing"

func TestClassifySIPRequestLine(t *testing.T) {
	cases := []string{
		"INVITE sip:bob@example.com SIP/2.0\r\n",
		"ACK sip:bob@example.com SIP/2.0\r\n",
		"REGISTER sip:example.com SIP/2.0\r\n",
		"SIP/2.0 200 OK\r\n",
	}
	for _, c := range cases {
		if got := Classify([]byte(c)); got != FrameSIP {
			t.Errorf("Classify(%q) = %v, want FrameSIP", c, got)
		}
	}
}

func TestClassifyRTPFirstByteHeuristic(t *testing.T) {
	for _, b := range []byte{0x80, 0x90, 0xBF} {
		data := []byte{b, 0x00, 0x00, 0x00}
		if got := Classify(data); got != FrameRTP {
			t.Errorf("Classify(%#x...) = %v, want FrameRTP", b, got)
		}
	}
}

func TestClassifyUnknownForGarbage(t *testing.T) {
	if got := Classify([]byte{0x01, 0x02, 0x03}); got != FrameUnknown {
		t.Errorf("Classify(garbage) = %v, want FrameUnknown", got)
	}
	if got := Classify(nil); got != FrameUnknown {
		t.Errorf("Classify(nil) = %v, want FrameUnknown", got)
	}
}

func TestClassifySTUNBindingRequestByMagicCookie(t *testing.T) {
	// A STUN binding request header (type 0x0001, top two bits zero) carrying
	// the magic cookie at bytes 4-8 is classified as STUN.
	stunLike := make([]byte, 20)
	stunLike[0] = 0x00 // binding request type, top two bits zero per RFC 5389
	stunLike[1] = 0x01
	copy(stunLike[4:8], []byte{0x21, 0x12, 0xA4, 0x42}) // magic cookie
	if got := Classify(stunLike); got != FrameSTUN {
		t.Errorf("Classify(stun-shaped) = %v, want FrameSTUN", got)
	}
}

func TestKindStringValues(t *testing.T) {
	cases := map[Kind]string{
		KindUDP:  "udp",
		KindTCP:  "tcp",
		KindTLS:  "tls",
		KindMQTT: "mqtt",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", k, got, want)
		}
	}
}

func TestFrameClassStringValues(t *testing.T) {
	cases := map[FrameClass]string{
		FrameSTUN:    "stun",
		FrameSIP:     "sip",
		FrameRTP:     "rtp",
		FrameUnknown: "unknown",
	}
	for c, want := range cases {
		if got := c.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", c, got, want)
		}
	}
}
