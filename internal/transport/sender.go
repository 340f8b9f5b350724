package transport

import (
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	highWaterMark = 256 * 1024 // stall senders when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // release them when it drops below this
	drainTimeout  = 2 * time.Second
)

// ErrBackpressure is returned when the channel buffer did not drain in time.
var ErrBackpressure = errors.New("data channel buffer full")

// channel adapts a pion DataChannel to multiplex.Channel, adding backpressure
// on the send path.
type channel struct {
	dc          *webrtc.DataChannel
	drainSignal chan struct{}
}

func newChannel(dc *webrtc.DataChannel) *channel {
	c := &channel{
		dc:          dc,
		drainSignal: make(chan struct{}, 1),
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case c.drainSignal <- struct{}{}:
		default:
		}
	})

	return c
}

func (c *channel) Label() string { return c.dc.Label() }

func (c *channel) Open() bool { return c.dc.ReadyState() == webrtc.DataChannelStateOpen }

// SendText writes one text message. While the buffer is above the high water
// mark it waits for a drain signal, up to drainTimeout.
func (c *channel) SendText(s string) error {
	if c.dc.BufferedAmount() > uint64(highWaterMark) {
		timer := time.NewTimer(drainTimeout)
		defer timer.Stop()

		for c.dc.BufferedAmount() > uint64(highWaterMark) {
			select {
			case <-c.drainSignal:
			case <-timer.C:
				return ErrBackpressure
			}
		}
	}
	return c.dc.SendText(s)
}
