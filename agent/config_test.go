package agent

import "testing"

func validConfig() Config {
	return Config{
		ServerHost: "sip.example.com",
		ServerPort: 5060,
		Identity:   Identity{Username: "alice", Password: "secret"},
		Expires:    3600,
		Audio:      MediaStreamConfig{Enabled: true},
	}
}

func TestValidateAcceptsMinimalValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestValidateRejectsMissingServerHost(t *testing.T) {
	c := validConfig()
	c.ServerHost = ""
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() error = nil, want error for missing server_host")
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		c := validConfig()
		c.ServerPort = port
		if err := c.Validate(); err == nil {
			t.Errorf("Validate() with ServerPort=%d error = nil, want error", port)
		}
	}
}

func TestValidateRejectsMissingUsername(t *testing.T) {
	c := validConfig()
	c.Identity.Username = ""
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() error = nil, want error for missing username")
	}
}

func TestValidateRejectsNonPositiveExpires(t *testing.T) {
	c := validConfig()
	c.Expires = 0
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() error = nil, want error for non-positive expires")
	}
}

func TestValidateRejectsTLSTransportWithoutCertMaterial(t *testing.T) {
	c := validConfig()
	c.TransportType = TransportTLS
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() error = nil, want error for TLS transport with no cert/key")
	}
	c.TLS = TLSMaterial{Cert: []byte("cert"), Key: []byte("key")}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v after supplying cert/key, want nil", err)
	}
}

func TestValidateRejectsMQTTTransportWithoutTopics(t *testing.T) {
	c := validConfig()
	c.TransportType = TransportMQTT
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() error = nil, want error for MQTT transport with no broker/topics")
	}
	c.MQTT = MQTTConfig{BrokerHost: "broker.example.com", PubTopic: "pub", SubTopic: "sub"}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v after supplying broker/topics, want nil", err)
	}
}

func TestValidateRejectsNoMediaStreamEnabled(t *testing.T) {
	c := validConfig()
	c.Audio.Enabled = false
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() error = nil, want error when neither audio nor video is enabled")
	}
	c.Video.Enabled = true
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v with video enabled, want nil", err)
	}
}
