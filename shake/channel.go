package shake

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ChannelKind separates shake-off from shake-up processes.
type ChannelKind uint8

const (
	ShakeOff ChannelKind = iota
	ShakeUp
)

func (k ChannelKind) String() string {
	if k == ShakeUp {
		return "up"
	}
	return "off"
}

// Channel identifies one shake process for one spectator orbital.
type Channel struct {
	Kind ChannelKind
	Key  string
}

func (c Channel) String() string {
	return c.Kind.String() + ":" + c.Key
}

// ParseChannel accepts "off:L1" and "up:L1", plus the legacy amplitude names
// "shake_amps_L1" and "shakeup_amps_L1".
func ParseChannel(s string) (Channel, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "shakeup_amps_"):
		return channelWithKey(ShakeUp, strings.TrimPrefix(s, "shakeup_amps_"), s)
	case strings.HasPrefix(s, "shake_amps_"):
		return channelWithKey(ShakeOff, strings.TrimPrefix(s, "shake_amps_"), s)
	}
	kind, key, ok := strings.Cut(s, ":")
	if !ok {
		return Channel{}, fmt.Errorf("shake: malformed channel %q", s)
	}
	switch strings.ToLower(kind) {
	case "off", "shakeoff", "shake-off":
		return channelWithKey(ShakeOff, key, s)
	case "up", "shakeup", "shake-up":
		return channelWithKey(ShakeUp, key, s)
	default:
		return Channel{}, fmt.Errorf("shake: unknown channel kind in %q", s)
	}
}

func channelWithKey(kind ChannelKind, key, raw string) (Channel, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Channel{}, fmt.Errorf("shake: channel %q has no orbital key", raw)
	}
	return Channel{Kind: kind, Key: key}, nil
}

// Amplitudes scales shake channels during fitting. The zero value scales
// every channel by 1. Values are copied on write so a set handed to a
// simulation never changes underneath it.
type Amplitudes struct {
	vals map[Channel]float64
}

// NewAmplitudes validates overrides against the channels present in t.
func (t *Tables) NewAmplitudes(vals map[Channel]float64) (Amplitudes, error) {
	known := make(map[Channel]struct{})
	for _, ch := range t.Channels() {
		known[ch] = struct{}{}
	}
	out := Amplitudes{vals: make(map[Channel]float64, len(vals))}
	for ch, v := range vals {
		if _, ok := known[ch]; !ok {
			return Amplitudes{}, fmt.Errorf("shake: no table rows for channel %s", ch)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return Amplitudes{}, fmt.Errorf("shake: invalid amplitude %v for %s", v, ch)
		}
		out.vals[ch] = v
	}
	return out, nil
}

// Get returns the multiplier for ch, defaulting to 1.
func (a Amplitudes) Get(ch Channel) float64 {
	if v, ok := a.vals[ch]; ok {
		return v
	}
	return 1
}

// With returns a copy with ch set to v.
func (a Amplitudes) With(ch Channel, v float64) Amplitudes {
	out := Amplitudes{vals: make(map[Channel]float64, len(a.vals)+1)}
	for k, val := range a.vals {
		out.vals[k] = val
	}
	out.vals[ch] = v
	return out
}

// Channels lists the explicitly set channels in a stable order.
func (a Amplitudes) Channels() []Channel {
	out := make([]Channel, 0, len(a.vals))
	for ch := range a.vals {
		out = append(out, ch)
	}
	sortChannels(out)
	return out
}

func sortChannels(chs []Channel) {
	sort.Slice(chs, func(i, j int) bool {
		if chs[i].Kind != chs[j].Kind {
			return chs[i].Kind < chs[j].Kind
		}
		return chs[i].Key < chs[j].Key
	})
}
