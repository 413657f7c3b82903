package media

// Codec names one of the audio/video codecs the agent can negotiate.
type Codec int

const (
	CodecPCMU Codec = iota
	CodecPCMA
	CodecG722
	CodecOpus
	CodecAAC
	CodecH264
	CodecH265
	CodecVP8
	CodecVP9
)

func (c Codec) String() string {
	switch c {
	case CodecPCMU:
		return "PCMU"
	case CodecPCMA:
		return "PCMA"
	case CodecG722:
		return "G722"
	case CodecOpus:
		return "opus"
	case CodecAAC:
		return "mpeg4-generic"
	case CodecH264:
		return "H264"
	case CodecH265:
		return "H265"
	case CodecVP8:
		return "VP8"
	case CodecVP9:
		return "VP9"
	default:
		return "unknown"
	}
}

// MediaKind reports whether a codec carries audio or video.
func (c Codec) MediaKind() string {
	switch c {
	case CodecH264, CodecH265, CodecVP8, CodecVP9:
		return "video"
	default:
		return "audio"
	}
}

// RTPDescriptor carries the payload type and clock rate an rtpmap line
// needs. The payload type numbers are fixed by the specification, not the
// ad hoc table the teacher used for its own PBX dial plan.
type RTPDescriptor struct {
	PayloadType uint8
	ClockRate   uint32
	Channels    int // 0 means omit the channel count from rtpmap
}

// payloadTable is the codec -> (payload type, clock rate) mapping mandated
// by the spec: RFC 3551 static types for PCMU/PCMA/G.722, and fixed dynamic
// assignments for the rest so both sides of a call agree without
// negotiation ambiguity.
var payloadTable = map[Codec]RTPDescriptor{
	CodecPCMU: {PayloadType: 0, ClockRate: 8000},
	CodecPCMA: {PayloadType: 8, ClockRate: 8000},
	CodecG722: {PayloadType: 9, ClockRate: 8000},
	CodecOpus: {PayloadType: 111, ClockRate: 48000, Channels: 2},
	CodecAAC:  {PayloadType: 97, ClockRate: 90000},
	CodecH264: {PayloadType: 96, ClockRate: 90000},
	CodecH265: {PayloadType: 98, ClockRate: 90000},
	CodecVP8:  {PayloadType: 100, ClockRate: 90000},
	CodecVP9:  {PayloadType: 101, ClockRate: 90000},
}

// Descriptor returns the fixed RTP payload type and clock rate for c.
func Descriptor(c Codec) (RTPDescriptor, bool) {
	d, ok := payloadTable[c]
	return d, ok
}

// CodecByPayloadType reverse-looks-up a codec from a wire payload type, used
// when parsing an offered/answered SDP.
func CodecByPayloadType(pt uint8) (Codec, bool) {
	for c, d := range payloadTable {
		if d.PayloadType == pt {
			return c, true
		}
	}
	return 0, false
}

// PreferenceList is an ordered set of codecs a session is configured to
// offer, most preferred first.
type PreferenceList []Codec

// Intersect returns the codecs in pl that also appear in offered, preserving
// pl's order, used to pick an answer codec for an incoming INVITE.
func (pl PreferenceList) Intersect(offered []Codec) PreferenceList {
	offeredSet := make(map[Codec]bool, len(offered))
	for _, c := range offered {
		offeredSet[c] = true
	}
	var out PreferenceList
	for _, c := range pl {
		if offeredSet[c] {
			out = append(out, c)
		}
	}
	return out
}
