package errs

import (
	"errors"
	"testing"
)

func TestNewProducesDetailMessage(t *testing.T) {
	err := New(SipParse, "missing Call-ID")
	if err.Error() != "SipParse: missing Call-ID" {
		t.Errorf("Error() = %q, want %q", err.Error(), "SipParse: missing Call-ID")
	}
}

func TestNewWithEmptyDetailUsesKindOnly(t *testing.T) {
	err := New(Timeout, "")
	if err.Error() != "Timeout" {
		t.Errorf("Error() = %q, want %q", err.Error(), "Timeout")
	}
}

func TestNewfFormatsDetail(t *testing.T) {
	err := Newf(ConfigInvalid, "port %d out of range", 70000)
	if err.Error() != "ConfigInvalid: port 70000 out of range" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestWrapPreservesCauseAndUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(TransportSend, cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true via Unwrap")
	}
	if err.Cause != cause {
		t.Error("Cause field does not reference the original error")
	}
}

func TestCallFailureFormatsStatusCodeAndReason(t *testing.T) {
	err := CallFailure(486, "Busy Here")
	want := "CallFailed: 486 Busy Here: "
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if err.Kind != CallFailed || err.Code != 486 || err.Reason != "Busy Here" {
		t.Errorf("CallFailure() = %+v, want Kind=CallFailed Code=486 Reason=\"Busy Here\"", err)
	}
}

func TestIsMatchesKindAndRejectsOthers(t *testing.T) {
	err := New(AuthReject, "digest mismatch")
	if !Is(err, AuthReject) {
		t.Error("Is(err, AuthReject) = false, want true")
	}
	if Is(err, Timeout) {
		t.Error("Is(err, Timeout) = true, want false")
	}
	if Is(errors.New("plain error"), AuthReject) {
		t.Error("Is() matched a non-*Error value")
	}
}

func TestKindStringCoversEveryDefinedKind(t *testing.T) {
	kinds := []Kind{
		TransportInit, TransportSend, TransportClosed, SipParse, SipProtocolViolation,
		AuthReject, Timeout, CallFailed, InvalidState, SdpParse, SdpIncompatible,
		IceGatherFailed, IceFailed, MediaTransportError, ResourceExhausted, ConfigInvalid,
	}
	seen := make(map[string]bool)
	for _, k := range kinds {
		s := k.String()
		if s == "" {
			t.Errorf("%d.String() is empty", k)
		}
		if seen[s] {
			t.Errorf("duplicate Kind string %q", s)
		}
		seen[s] = true
	}
}

func TestKindStringUnknownFallback(t *testing.T) {
	got := Kind(999).String()
	if got != "Unknown(999)" {
		t.Errorf("Kind(999).String() = %q, want Unknown(999)", got)
	}
}
