package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/pairline/internal/util"
)

// ErrMediaStopped is returned when writing to stopped local media.
var ErrMediaStopped = errors.New("local media stopped")

// opusFrame is the packet duration used for the audio track.
const opusFrame = 20 * time.Millisecond

// opusSilence is a single 20ms opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Media owns the local audio and video tracks. They are created once per
// process and shared by every connection instance until Stop.
type Media struct {
	mu      sync.Mutex
	audio   *webrtc.TrackLocalStaticSample
	video   *webrtc.TrackLocalStaticSample
	stopped bool
}

// NewMedia creates an opus audio track and a VP8 video track under streamID.
func NewMedia(streamID string) (*Media, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio-"+streamID,
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video-"+streamID,
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	return &Media{audio: audio, video: video}, nil
}

// Tracks returns the tracks to attach to a new instance. It returns nil on a
// nil or stopped Media.
func (m *Media) Tracks() []webrtc.TrackLocal {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	return []webrtc.TrackLocal{m.audio, m.video}
}

// WriteSample feeds one captured sample to the track of the given kind.
func (m *Media) WriteSample(kind webrtc.RTPCodecType, s media.Sample) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrMediaStopped
	}
	track := m.video
	if kind == webrtc.RTPCodecTypeAudio {
		track = m.audio
	}
	m.mu.Unlock()

	return track.WriteSample(s)
}

// Silence writes opus silence frames to the audio track until ctx is done or
// the media is stopped, so the partner's audio receiver starts before any
// captured audio exists.
func (m *Media) Silence(ctx context.Context) error {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := m.WriteSample(webrtc.RTPCodecTypeAudio, media.Sample{Data: opusSilence, Duration: opusFrame})
			if err != nil {
				return err
			}
		}
	}
}

// Stop releases the local tracks. Later calls are no-ops.
func (m *Media) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true
	util.LogInfo("local media stopped")
	return nil
}
