// Command sipagent is a demonstration host for the agent package: it
// registers with a SIP server, places an optional outbound call, and runs
// the event loop until interrupted, logging every callback through the
// default slog logger.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sipcore/agent/agent"
	"github.com/sipcore/agent/internal/dialog"
	"github.com/sipcore/agent/internal/errs"
	"github.com/sipcore/agent/internal/media"
	"github.com/sipcore/agent/internal/obs"
)

func main() {
	cfg, opts := loadConfig()

	level := new(slog.LevelVar)
	level.Set(obs.ParseLevel(opts.logLevel))
	logger := obs.New(level, os.Stdout)

	a, err := agent.Create(cfg, handlers(), logger)
	if err != nil {
		slog.Error("failed to create agent", "error", err)
		os.Exit(1)
	}

	if err := a.Start(); err != nil {
		slog.Error("failed to start agent", "error", err)
		os.Exit(1)
	}
	defer a.Stop()

	if err := a.Register(); err != nil {
		slog.Error("failed to register", "error", err)
	}

	if opts.callURI != "" {
		if _, err := a.MakeCall(opts.callURI); err != nil {
			slog.Error("failed to place call", "error", err)
		}
	}

	run(a)
}

type options struct {
	logLevel string
	callURI  string
}

func loadConfig() (agent.Config, options) {
	cfg := agent.Config{
		ServerPort:    5060,
		Expires:       3600,
		TransportType: agent.TransportUDP,
	}
	opts := options{logLevel: "info"}

	flag.StringVar(&cfg.ServerHost, "server", "", "SIP registrar/proxy host")
	flag.IntVar(&cfg.ServerPort, "port", 5060, "SIP registrar/proxy port")
	flag.IntVar(&cfg.LocalPort, "local-port", 0, "local SIP bind port (0 = auto)")
	flag.StringVar(&cfg.Identity.Username, "user", "", "SIP username")
	flag.StringVar(&cfg.Identity.Password, "pass", "", "SIP password")
	flag.StringVar(&cfg.Identity.DisplayName, "display-name", "", "SIP display name")
	flag.IntVar(&cfg.Expires, "expires", 3600, "registration expiry, seconds")
	flag.StringVar(&opts.logLevel, "loglevel", "info", "log level (debug, info, warn, error)")
	flag.StringVar(&opts.callURI, "call", "", "peer SIP URI to call on startup")

	var transportName string
	flag.StringVar(&transportName, "transport", "udp", "signaling transport (udp, tcp, tls, mqtt)")

	var audioCodecs, videoCodecs string
	flag.StringVar(&audioCodecs, "audio-codecs", "PCMU,PCMA,opus", "comma-separated audio codec preference")
	flag.StringVar(&videoCodecs, "video-codecs", "", "comma-separated video codec preference (empty disables video)")

	var stunServer string
	flag.StringVar(&stunServer, "stun", "", "STUN server host:port (empty disables ICE)")

	flag.Parse()

	cfg.TransportType = parseTransport(transportName)

	cfg.Audio.Enabled = audioCodecs != ""
	cfg.Audio.Codecs = parseCodecs(audioCodecs)
	cfg.Audio.SampleRate = 8000
	cfg.Audio.Channels = 1

	cfg.Video.Enabled = videoCodecs != ""
	cfg.Video.Codecs = parseCodecs(videoCodecs)

	if stunServer != "" {
		host, port, err := splitHostPort(stunServer)
		if err == nil {
			cfg.ICE.Enabled = true
			cfg.ICE.Controlling = true
			cfg.ICE.STUNServer = host
			cfg.ICE.STUNPort = port
			cfg.ICE.GatherTimeout = 5 * time.Second
			cfg.ICE.ConnectTimeout = 10 * time.Second
		}
	}

	if host := os.Getenv("SIPAGENT_SERVER"); host != "" {
		cfg.ServerHost = host
	}
	if user := os.Getenv("SIPAGENT_USER"); user != "" {
		cfg.Identity.Username = user
	}
	if pass := os.Getenv("SIPAGENT_PASS"); pass != "" {
		cfg.Identity.Password = pass
	}

	return cfg, opts
}

func parseTransport(s string) agent.TransportType {
	switch strings.ToLower(s) {
	case "tcp":
		return agent.TransportTCP
	case "tls":
		return agent.TransportTLS
	case "mqtt":
		return agent.TransportMQTT
	default:
		return agent.TransportUDP
	}
}

func parseCodecs(s string) media.PreferenceList {
	if s == "" {
		return nil
	}
	var list media.PreferenceList
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if c, ok := codecByName(name); ok {
			list = append(list, c)
		}
	}
	return list
}

func codecByName(name string) (media.Codec, bool) {
	for c := media.CodecPCMU; c <= media.CodecVP9; c++ {
		if strings.EqualFold(c.String(), name) {
			return c, true
		}
	}
	return 0, false
}

func splitHostPort(s string) (string, int, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return s, 5060, nil
	}
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return "", 0, err
	}
	return s[:idx], port, nil
}

func handlers() agent.Handlers {
	return agent.Handlers{
		OnRegistrationState: func(state agent.RegistrationState, code int) {
			slog.Info("registration state", "state", state.String(), "code", code)
		},
		OnCallState: func(d *dialog.Dialog, state agent.CallState) {
			slog.Info("call state", "call_id", d.CallID, "state", state.String())
		},
		OnIncomingCall: func(d *dialog.Dialog, from, to string, remoteSDP []byte) {
			slog.Info("incoming call", "call_id", d.CallID, "from", from, "to", to)
		},
		OnIncomingMessage: func(from, to, content string) {
			slog.Info("incoming message", "from", from, "to", to, "content", content)
		},
		OnSessionSDPReady: func(s *agent.Session, localSDP []byte) {
			slog.Debug("local sdp ready", "bytes", len(localSDP))
		},
		OnSessionConnected: func(s *agent.Session) {
			slog.Info("media connected")
		},
		OnSessionDisconnected: func(s *agent.Session, reason error) {
			slog.Info("media disconnected", "reason", reason)
		},
		OnError: func(kind errs.Kind, detail string) {
			slog.Warn("agent error", "kind", kind.String(), "detail", detail)
		},
	}
}

func run(a *agent.Agent) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("sipagent ready; press Ctrl-C to quit")

	for {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			return
		default:
			a.Loop(100 * time.Millisecond)
		}
	}
}
