package scan

import (
	"context"
	"math"

	"pkt.systems/pslog"
)

// TTLBuilder turns TTL windows into digital level buffers on the same sample
// grid as the analog plan
type TTLBuilder struct {
	// SampleRate in samples per second
	SampleRate float64

	// Devices lists the TTL devices that exist.  When non-empty, windows for
	// any other device are dropped.
	Devices []string

	Log pslog.Logger
}

func (b TTLBuilder) log() pslog.Logger {
	if b.Log == nil {
		return pslog.Ctx(context.Background())
	}
	return b.Log
}

func (b TTLBuilder) known(dev string) bool {
	if len(b.Devices) == 0 {
		return true
	}
	for _, d := range b.Devices {
		if d == dev {
			return true
		}
	}
	return false
}

// Build returns one buffer of total samples per included device.  Pulse i
// spans [round(Starts[i]*rate), round(Ends[i]*rate)) and is clipped to the
// buffer.  Pulses combine with OR.  A pulse with a nil start or end is
// skipped, one that ends before it starts is logged and skipped.
func (b TTLBuilder) Build(windows []TTLWindowSpec, total int) map[string][]bool {
	if total < 0 {
		total = 0
	}
	out := make(map[string][]bool, len(windows))
	for _, w := range windows {
		if !w.Included() {
			continue
		}
		if !b.known(w.Device) {
			b.log().Warn("TTL device not configured, omitted", "device", w.Device)
			continue
		}
		if len(w.Starts) != len(w.Ends) {
			b.log().Warn("unpaired TTL times ignored", "device", w.Device,
				"starts", len(w.Starts), "ends", len(w.Ends))
		}
		buf := out[w.Device]
		if buf == nil {
			buf = make([]bool, total)
		}
		n := len(w.Starts)
		if len(w.Ends) < n {
			n = len(w.Ends)
		}
		for i := 0; i < n; i++ {
			if w.Starts[i] == nil || w.Ends[i] == nil {
				continue
			}
			start, end := *w.Starts[i], *w.Ends[i]
			fs, fe := math.Round(start*b.SampleRate), math.Round(end*b.SampleRate)
			if math.IsNaN(fs) || math.IsNaN(fe) {
				b.log().Warn("TTL pulse with NaN time skipped", "device", w.Device, "pulse", i)
				continue
			}
			if fe < fs {
				err := &PulseOrderingError{Device: w.Device, Pulse: i, Start: start, End: end}
				b.log().Warn("TTL pulse skipped", "device", w.Device, "err", err)
				continue
			}
			for j := clampIndex(fs, total); j < clampIndex(fe, total); j++ {
				buf[j] = true
			}
		}
		out[w.Device] = buf
	}
	return out
}

// clampIndex converts a rounded sample position to an index in [0, total]
func clampIndex(f float64, total int) int {
	switch {
	case f <= 0:
		return 0
	case f >= float64(total):
		return total
	}
	return int(f)
}
