package media

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestRouter(t *testing.T) *WebRTCRouter {
	t.Helper()
	w := NewWorker(WorkerSettings{})
	r, err := w.CreateRouter(RouterOptions{MediaCodecs: []RtpCodecCapability{H264Codec(96, 90000, "42e01f")}})
	if err != nil {
		t.Fatalf("CreateRouter: %v", err)
	}
	t.Cleanup(w.Close)
	return r
}

func TestWorker_CreateRouter_validation(t *testing.T) {
	w := NewWorker(WorkerSettings{})
	defer w.Close()

	if _, err := w.CreateRouter(RouterOptions{}); !errors.Is(err, ErrNoCodecs) {
		t.Errorf("expected ErrNoCodecs, got %v", err)
	}

	bad := H264Codec(96, 90000, "42e01f")
	bad.Kind = "data"
	if _, err := w.CreateRouter(RouterOptions{MediaCodecs: []RtpCodecCapability{bad}}); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("expected ErrUnsupportedKind, got %v", err)
	}
}

func TestWorker_CreateRouter_afterClose(t *testing.T) {
	w := NewWorker(WorkerSettings{})
	w.Close()
	_, err := w.CreateRouter(RouterOptions{MediaCodecs: []RtpCodecCapability{H264Codec(96, 90000, "42e01f")}})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestRouter_RtpCapabilities(t *testing.T) {
	r := newTestRouter(t)
	caps := r.RtpCapabilities()

	if len(caps.Codecs) != 1 {
		t.Fatalf("expected 1 codec, got %d", len(caps.Codecs))
	}
	c := caps.Codecs[0]
	if c.MimeType != "video/H264" || c.PreferredPayloadType != 96 || c.ClockRate != 90000 {
		t.Errorf("unexpected codec: %+v", c)
	}
	if c.Parameters["packetization-mode"] != "1" || c.Parameters["profile-level-id"] != "42e01f" {
		t.Errorf("unexpected parameters: %v", c.Parameters)
	}
	if len(c.RtcpFeedback) == 0 {
		t.Error("video codec should advertise rtcp feedback")
	}

	// Callers get copies.
	c.Parameters["profile-level-id"] = "640032"
	if r.RtpCapabilities().Codecs[0].Parameters["profile-level-id"] != "42e01f" {
		t.Error("capabilities must not alias router state")
	}
}

func TestRouter_CanConsume(t *testing.T) {
	r := newTestRouter(t)
	pt, err := r.CreatePlainTransport(PlainTransportOptions{ListenIP: "127.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}
	defer pt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	codec := H264Codec(96, 90000, "42e01f")
	p, err := pt.Produce(ctx, ProducerOptions{Kind: KindVideo, RtpParameters: ProducerParameters(codec, 22222222)})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("matching_caps", func(t *testing.T) {
		if !r.CanConsume(p.ID(), r.RtpCapabilities()) {
			t.Error("router's own capabilities must be consumable")
		}
	})

	t.Run("mime_case_insensitive", func(t *testing.T) {
		caps := RtpCapabilities{Codecs: []RtpCodecCapability{{
			Kind: KindVideo, MimeType: "video/h264", ClockRate: 90000,
			Parameters: map[string]string{"packetization-mode": "1"},
		}}}
		if !r.CanConsume(p.ID(), caps) {
			t.Error("expected match")
		}
	})

	t.Run("packetization_mode_mismatch", func(t *testing.T) {
		caps := RtpCapabilities{Codecs: []RtpCodecCapability{{Kind: KindVideo, MimeType: "video/H264", ClockRate: 90000}}}
		if r.CanConsume(p.ID(), caps) {
			t.Error("mode 0 viewer cannot consume mode 1 producer")
		}
	})

	t.Run("no_codecs", func(t *testing.T) {
		if r.CanConsume(p.ID(), RtpCapabilities{}) {
			t.Error("empty capabilities cannot consume")
		}
	})

	t.Run("unknown_producer", func(t *testing.T) {
		if r.CanConsume("missing", r.RtpCapabilities()) {
			t.Error("unknown producer cannot be consumed")
		}
	})
}

func TestFmtpLine_roundTrip(t *testing.T) {
	line := FmtpLine(map[string]string{"profile-level-id": "42e01f", "packetization-mode": "1"})
	if line != "packetization-mode=1;profile-level-id=42e01f" {
		t.Errorf("unexpected fmtp line %q", line)
	}
	got := ParseFmtpLine(line + ";junk")
	if len(got) != 2 || got["packetization-mode"] != "1" {
		t.Errorf("unexpected parse: %v", got)
	}
}
