// Package agent implements the agent facade (component G): the single
// entry point that owns the transport, timer wheel, dialog/transaction
// stores, and media sessions, and drives them all from one cooperative
// event loop.
package agent

import (
	"fmt"
	"time"

	"github.com/sipcore/agent/internal/media"
)

// TransportType selects the substrate the agent speaks SIP over.
type TransportType int

const (
	TransportUDP TransportType = iota
	TransportTCP
	TransportTLS
	TransportMQTT
)

// MediaBackendType names where captured/played media comes from. The
// backend itself is an external collaborator (§6); the agent stores the
// configured value but does not read it or move frames through a backend.
type MediaBackendType int

const (
	MediaBackendFile MediaBackendType = iota
	MediaBackendMemory
	MediaBackendDevice
)

// Identity is the registerable user identity this agent acts as.
type Identity struct {
	Username    string
	Password    string
	DisplayName string
}

// TLSMaterial is in-memory PEM-encoded certificate material; no filesystem
// dependency, per §9's "Memory mode TLS" design note.
type TLSMaterial struct {
	CA   []byte
	Cert []byte
	Key  []byte
}

// MQTTConfig configures the publish/subscribe substrate.
type MQTTConfig struct {
	BrokerHost string
	BrokerPort int
	ClientID   string
	PubTopic   string
	SubTopic   string
}

// MediaStreamConfig configures one audio or video stream.
type MediaStreamConfig struct {
	Enabled     bool
	Codecs      media.PreferenceList
	SampleRate  int // audio
	Channels    int // audio
	Width       int // video
	Height      int // video
	FPS         int // video
	LocalRTPPort int // 0 = auto
}

// ICEConfig configures NAT traversal.
type ICEConfig struct {
	Enabled        bool
	Controlling    bool
	Lite           bool
	STUNServer     string
	STUNPort       int
	TURNEnabled    bool
	TURNServer     string
	TURNPort       int
	TURNUsername   string
	TURNPassword   string
	GatherTimeout  time.Duration
	ConnectTimeout time.Duration
}

// Config is the agent's full, immutable-after-create option set, per §3's
// Configuration list and §6's transport configuration table.
type Config struct {
	ServerHost string
	ServerPort int
	LocalPort  int // 0 = auto

	Identity Identity
	Expires  int // seconds

	TransportType TransportType
	TLS           TLSMaterial
	MQTT          MQTTConfig

	Audio MediaStreamConfig
	Video MediaStreamConfig

	ICE ICEConfig

	MediaBackend MediaBackendType
}

// Validate reports a ConfigInvalid-worthy problem, if any. Create calls
// this synchronously so a bad Config never produces an Agent, per §7.
func (c Config) Validate() error {
	if c.ServerHost == "" {
		return fmt.Errorf("agent: config: server_host is required")
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("agent: config: server_port %d out of range", c.ServerPort)
	}
	if c.Identity.Username == "" {
		return fmt.Errorf("agent: config: identity.username is required")
	}
	if c.Expires <= 0 {
		return fmt.Errorf("agent: config: expires must be positive")
	}
	if c.TransportType == TransportTLS {
		if len(c.TLS.Cert) == 0 || len(c.TLS.Key) == 0 {
			return fmt.Errorf("agent: config: tls transport requires in-memory cert and key")
		}
	}
	if c.TransportType == TransportMQTT {
		if c.MQTT.BrokerHost == "" || c.MQTT.PubTopic == "" || c.MQTT.SubTopic == "" {
			return fmt.Errorf("agent: config: mqtt transport requires broker host and both topics")
		}
	}
	if !c.Audio.Enabled && !c.Video.Enabled {
		return fmt.Errorf("agent: config: at least one of audio or video must be enabled")
	}
	return nil
}
