package shake

// Relation states that the scaled probability of Hi must stay at or above
// that of Lo.
type Relation struct {
	Hi Channel
	Lo Channel
}

// Relations compares the base probabilities of every pair of channels of
// the same kind. Pairs with equal bases carry no ordering and are skipped.
func (t *Tables) Relations() []Relation {
	chs := t.Channels()
	var out []Relation
	for i := 0; i < len(chs); i++ {
		for j := i + 1; j < len(chs); j++ {
			a, b := chs[i], chs[j]
			if a.Kind != b.Kind {
				continue
			}
			ba, bb := t.Base(a), t.Base(b)
			switch {
			case ba > bb:
				out = append(out, Relation{Hi: a, Lo: b})
			case bb > ba:
				out = append(out, Relation{Hi: b, Lo: a})
			}
		}
	}
	return out
}

// Slack is Hi's scaled probability minus Lo's; negative means violated.
func (t *Tables) Slack(r Relation, amps Amplitudes) float64 {
	return amps.Get(r.Hi)*t.Base(r.Hi) - amps.Get(r.Lo)*t.Base(r.Lo)
}
