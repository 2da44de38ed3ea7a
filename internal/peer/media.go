package peer

import (
	"context"
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// ErrMediaAccessDenied is surfaced when local capture cannot start.
// Fatal to this client's participation, harmless to the room.
var ErrMediaAccessDenied = errors.New("local media capture denied")

// MediaSource abstracts local capture. Browsers use getUserMedia; the
// Go client plugs in whatever device layer it has.
type MediaSource interface {
	// Open starts capture and returns the local tracks to publish.
	Open(ctx context.Context) ([]webrtc.TrackLocal, error)
	// Close stops all tracks.
	Close() error
}

// SilenceSource publishes a single Opus track of silence. It keeps the
// handshake and media path real when no capture device is available,
// which is also what the tests exercise.
type SilenceSource struct {
	cancel context.CancelFunc
}

const opusFrameDuration = 20 * time.Millisecond

// opusSilence is a minimal valid Opus frame (TOC byte + DTX).
var opusSilence = []byte{0xf8, 0xff, 0xfe}

func (s *SilenceSource) Open(ctx context.Context) ([]webrtc.TrackLocal, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "sessiond-silence",
	)
	if err != nil {
		return nil, err
	}

	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(opusFrameDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = track.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrameDuration})
			}
		}
	}()

	return []webrtc.TrackLocal{track}, nil
}

func (s *SilenceSource) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// deniedSource models a refused capture permission in tests.
type deniedSource struct{}

func (deniedSource) Open(context.Context) ([]webrtc.TrackLocal, error) {
	return nil, ErrMediaAccessDenied
}
func (deniedSource) Close() error { return nil }
