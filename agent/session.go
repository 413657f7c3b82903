package agent

import (
	"github.com/sipcore/agent/internal/handle"
	"github.com/sipcore/agent/internal/media"
)

// Session is the caller-visible handle for one negotiated media session.
// The owning dialog is tracked separately by the agent (dialogs are keyed
// by Call-ID/tag triples, not by handle).
type Session struct {
	handle handle.Handle
	audio  *media.Session
	video  *media.Session
	callID string
}

// Handle returns the opaque handle identifying this session within the
// agent, per the generational-index ownership model.
func (s *Session) Handle() handle.Handle { return s.handle }

// State reports the audio stream's state when the session has one, else the
// video stream's state, else Closed.
func (s *Session) State() media.State {
	if s.audio != nil {
		return s.audio.State()
	}
	if s.video != nil {
		return s.video.State()
	}
	return media.StateClosed
}
