package media

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// StreamDirection mirrors the SDP a=sendrecv/sendonly/recvonly/inactive
// attributes.
type StreamDirection int

const (
	DirSendRecv StreamDirection = iota
	DirSendOnly
	DirRecvOnly
	DirInactive
)

func (d StreamDirection) attribute() string {
	switch d {
	case DirSendOnly:
		return "sendonly"
	case DirRecvOnly:
		return "recvonly"
	case DirInactive:
		return "inactive"
	default:
		return "sendrecv"
	}
}

// StreamParams describes one m= line this agent will offer or answer.
type StreamParams struct {
	Kind       string // "audio" or "video"
	Port       int
	Codecs     PreferenceList
	Direction  StreamDirection
	RTCPMux    bool
	ICEUfrag   string
	ICEPwd     string
	Candidates []string // pre-formatted "a=candidate:" value strings, host order
}

// Offer describes the full local session a BuildSDP call produces.
type Offer struct {
	OriginUsername string
	SessionID      uint64
	SessionVersion uint64
	LocalIP        string
	Streams        []StreamParams
}

// BuildSDP renders an Offer into an RFC 4566 SDP body, generalized from the
// teacher's single-stream builder (services/rtpmanager/sdp/builder.go) to
// the spec's per-stream rtpmap/ICE/rtcp-mux rules in §4.5/§6.
func BuildSDP(o Offer) ([]byte, error) {
	// c= carries the host candidate's IP, or 0.0.0.0 when the caller passes
	// that explicitly for an ICE-enabled offer per §4.5.
	connAddr := o.LocalIP

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       o.OriginUsername,
			SessionID:      o.SessionID,
			SessionVersion: o.SessionVersion,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: connAddr,
		},
		SessionName: "-",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: connAddr},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
	}

	for _, s := range o.Streams {
		md, err := buildMediaDescription(s)
		if err != nil {
			return nil, err
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, md)
	}

	return desc.Marshal()
}

func buildMediaDescription(s StreamParams) (*sdp.MediaDescription, error) {
	var formats []string
	var attrs []sdp.Attribute

	for _, codec := range s.Codecs {
		d, ok := Descriptor(codec)
		if !ok {
			continue
		}
		pt := strconv.Itoa(int(d.PayloadType))
		formats = append(formats, pt)
		rtpmap := fmt.Sprintf("%s/%d", codec.String(), d.ClockRate)
		if d.Channels > 0 {
			rtpmap = fmt.Sprintf("%s/%d", rtpmap, d.Channels)
		}
		attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: pt + " " + rtpmap})
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("media: stream %s has no configured codec with a known payload type", s.Kind)
	}

	attrs = append(attrs, sdp.Attribute{Key: s.Direction.attribute()})

	if s.RTCPMux {
		attrs = append(attrs, sdp.Attribute{Key: "rtcp-mux"})
	}
	if s.ICEUfrag != "" {
		attrs = append(attrs, sdp.Attribute{Key: "ice-ufrag", Value: s.ICEUfrag})
	}
	if s.ICEPwd != "" {
		attrs = append(attrs, sdp.Attribute{Key: "ice-pwd", Value: s.ICEPwd})
	}
	for _, c := range s.Candidates {
		attrs = append(attrs, sdp.Attribute{Key: "candidate", Value: c})
	}

	return &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   s.Kind,
			Port:    sdp.RangedPort{Value: s.Port},
			Protos:  []string{"RTP", "AVP"},
			Formats: formats,
		},
		Attributes: attrs,
	}, nil
}

// ParsedStream is one m= line from a remote offer/answer, decoded into the
// fields the session coordinator needs.
type ParsedStream struct {
	Kind       string
	Port       int
	RemoteIP   string
	Codecs     []Codec
	Direction  StreamDirection
	RTCPMux    bool
	ICEUfrag   string
	ICEPwd     string
	Candidates []string
}

// ParseSDP decodes a remote SDP body into its session-level address and
// per-stream parameters.
func ParseSDP(body []byte) (sessionIP string, streams []ParsedStream, err error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return "", nil, fmt.Errorf("media: parse sdp: %w", err)
	}

	sessionIP = desc.Origin.UnicastAddress
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		sessionIP = desc.ConnectionInformation.Address.Address
	}

	for _, md := range desc.MediaDescriptions {
		ps := ParsedStream{
			Kind:      md.MediaName.Media,
			Port:      md.MediaName.Port.Value,
			RemoteIP:  sessionIP,
			Direction: DirSendRecv,
		}
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			ps.RemoteIP = md.ConnectionInformation.Address.Address
		}

		rtpmaps := make(map[string]string)
		for _, attr := range md.Attributes {
			switch attr.Key {
			case "rtpmap":
				parts := strings.SplitN(attr.Value, " ", 2)
				if len(parts) == 2 {
					rtpmaps[parts[0]] = parts[1]
				}
			case "sendrecv":
				ps.Direction = DirSendRecv
			case "sendonly":
				ps.Direction = DirSendOnly
			case "recvonly":
				ps.Direction = DirRecvOnly
			case "inactive":
				ps.Direction = DirInactive
			case "rtcp-mux":
				ps.RTCPMux = true
			case "ice-ufrag":
				ps.ICEUfrag = attr.Value
			case "ice-pwd":
				ps.ICEPwd = attr.Value
			case "candidate":
				ps.Candidates = append(ps.Candidates, attr.Value)
			}
		}

		for _, fmtStr := range md.MediaName.Formats {
			pt, convErr := strconv.Atoi(fmtStr)
			if convErr != nil {
				continue
			}
			if codec, ok := CodecByPayloadType(uint8(pt)); ok {
				ps.Codecs = append(ps.Codecs, codec)
			}
		}

		streams = append(streams, ps)
	}

	return sessionIP, streams, nil
}
