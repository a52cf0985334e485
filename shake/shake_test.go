package shake

import (
	"math"
	"testing"

	"spectrasim/rates"
)

func offRows() []OffRow {
	return []OffRow{
		{Key: "L1", TwoJ: 1, Probability: 0.010},
		{Key: "L1", TwoJ: 3, Probability: 0.014},
		{Key: "L2", TwoJ: 1, Probability: 0.020},
		{Key: "L2", TwoJ: 3, Probability: 0.022},
		{Key: "L3", TwoJ: 1, Probability: 0.040},
		{Key: "L3", TwoJ: 3, Probability: 0.044},
	}
}

func avg(a, b float64) float64 {
	// 2J=1 weighs 2, 2J=3 weighs 4.
	return (a*2 + b*4) / 6
}

func TestShakeoffMissingMassIsRedistributed(t *testing.T) {
	tables := Build(Input{
		ShakeOff:   offRows(),
		Satellites: []rates.Line{{ShellInitial: "K1L1", ShellFinal: "L1L3"}},
		Labels:     []string{"L1", "L2", "L3"},
	})
	total := avg(0.010, 0.014) + avg(0.020, 0.022) + avg(0.040, 0.044)
	got := tables.ShakeoffProbability("L1")
	if math.Abs(got-total) > 1e-12 {
		t.Fatalf("expected observed orbital to carry the full mass %v, got %v", total, got)
	}
	if math.Abs(tables.MissingShakeoff()-(avg(0.020, 0.022)+avg(0.040, 0.044))) > 1e-12 {
		t.Fatalf("unexpected missing mass %v", tables.MissingShakeoff())
	}
}

func TestShakeoffMassSumAcrossObservedKeys(t *testing.T) {
	tables := Build(Input{
		ShakeOff: offRows(),
		Satellites: []rates.Line{
			{ShellInitial: "K1L1"},
			{ShellInitial: "K1L2"},
		},
		Labels: []string{"L1", "L2", "L3"},
	})
	total := avg(0.010, 0.014) + avg(0.020, 0.022) + avg(0.040, 0.044)
	sum := tables.ShakeoffProbability("L1") + tables.ShakeoffProbability("L2")
	if math.Abs(sum-total) > 1e-12 {
		t.Fatalf("expected observed keys to sum to %v, got %v", total, sum)
	}
}

func TestShakeoffNoCorrectionWhenAllObserved(t *testing.T) {
	tables := Build(Input{
		ShakeOff:   offRows(),
		Satellites: []rates.Line{{ShellInitial: "K1L1"}, {ShellInitial: "K1L2"}, {ShellInitial: "K1L3"}},
	})
	if tables.MissingShakeoff() != 0 {
		t.Fatalf("expected no missing mass, got %v", tables.MissingShakeoff())
	}
	if got := tables.ShakeoffProbability("M1"); got != 0 {
		t.Fatalf("expected unknown key to yield 0, got %v", got)
	}
}

func TestShakeoffZeroDenominatorIsGuarded(t *testing.T) {
	tables := Build(Input{
		ShakeOff:   offRows(),
		Satellites: []rates.Line{{ShellInitial: "K1L1"}},
		Labels:     []string{"L1"},
	})
	if v := tables.MissingShakeoff(); v != 0 || math.IsNaN(v) {
		t.Fatalf("expected guarded zero, got %v", v)
	}
}

func upRows() []UpRow {
	return []UpRow{
		{Key: "L1", Order: "3s", TwoJ: 1, Probability: 0.004},
		{Key: "L1", Order: "4s", TwoJ: 1, Probability: 0.002},
		{Key: "L1", Order: "5s", TwoJ: 1, Probability: 0.001},
		{Key: "L1", Order: "SUM", TwoJ: 1, Probability: 0.010},
		{Key: "L2", Order: "3p", TwoJ: 1, Probability: 0.003},
		{Key: "L2", Order: "4p", TwoJ: 1, Probability: 0.001},
	}
}

func TestShakeupMassMatchesSum(t *testing.T) {
	tables := Build(Input{
		ShakeUp: upRows(),
		ShakeUps: []rates.Line{
			{ShellInitial: "K1L13s", TwoJ: 1},
			{ShellInitial: "K1L14s", TwoJ: 1},
			{ShellInitial: "K1L14s", TwoJ: 1},
		},
	})
	sum := tables.ShakeupProbability("L1", 3, 1) + tables.ShakeupProbability("L1", 4, 1)
	if math.Abs(sum-0.010) > 1e-12 {
		t.Fatalf("expected observed orders to sum to 0.010, got %v", sum)
	}
	// No SUM row for L2: values are the interpolation alone.
	if got := tables.ShakeupProbability("L2", 3, 1); math.Abs(got-0.003) > 1e-12 {
		t.Fatalf("expected uncorrected 0.003, got %v", got)
	}
}

func TestShakeupOutOfRangeAndMissingSpline(t *testing.T) {
	tables := Build(Input{ShakeUp: upRows()})
	if got := tables.ShakeupProbability("L1", 7, 1); got != 0 {
		t.Fatalf("expected 0 outside the tabulated orders, got %v", got)
	}
	if got := tables.ShakeupProbability("L1", 4, 3); got != 0 {
		t.Fatalf("expected 0 without a spline for 2J=3, got %v", got)
	}
	mid := tables.ShakeupProbability("L2", 3, 1)
	if mid <= 0 {
		t.Fatalf("expected positive value at a tabulated order, got %v", mid)
	}
}

func TestSplineIsMonotoneBetweenOrders(t *testing.T) {
	sp := newSpline(map[float64][]float64{3: {0.004}, 4: {0.002}, 5: {0.001}, 6: {0.0005}})
	prev := math.Inf(1)
	for x := 3.0; x <= 6.0; x += 0.25 {
		v, ok := sp.at(x)
		if !ok {
			t.Fatalf("expected %v inside range", x)
		}
		if v > prev+1e-15 {
			t.Fatalf("expected non-increasing curve, %v rose to %v at %v", prev, v, x)
		}
		prev = v
	}
	if _, ok := sp.at(2.5); ok {
		t.Fatalf("expected value below range to be rejected")
	}
}

func TestTotalShakeHonorsAmplitudes(t *testing.T) {
	tables := Build(Input{ShakeOff: offRows(), ShakeUp: upRows()})
	base := tables.TotalShake(1, Amplitudes{})
	want := 0.010 + 0.020 + 0.040 + 0.010
	if math.Abs(base-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, base)
	}
	amps, err := tables.NewAmplitudes(map[Channel]float64{
		{Kind: ShakeOff, Key: "L3"}: 2,
		{Kind: ShakeUp, Key: "L1"}:  0,
	})
	if err != nil {
		t.Fatalf("NewAmplitudes: %v", err)
	}
	got := tables.TotalShake(1, amps)
	want = 0.010 + 0.020 + 0.080
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if tables.TotalShake(1, Amplitudes{}) != base {
		t.Fatalf("expected base tables untouched by amplitudes")
	}
	avgTotal := tables.AvgTotalShake(Amplitudes{})
	want = (tables.TotalShake(1, Amplitudes{})*2 + tables.TotalShake(3, Amplitudes{})*4) / 6
	if math.Abs(avgTotal-want) > 1e-12 {
		t.Fatalf("expected average %v, got %v", want, avgTotal)
	}
}

func TestNewAmplitudesRejectsUnknownChannels(t *testing.T) {
	tables := Build(Input{ShakeOff: offRows()})
	if _, err := tables.NewAmplitudes(map[Channel]float64{{Kind: ShakeUp, Key: "L1"}: 1}); err == nil {
		t.Fatalf("expected unknown channel to fail")
	}
	if _, err := tables.NewAmplitudes(map[Channel]float64{{Kind: ShakeOff, Key: "L1"}: -1}); err == nil {
		t.Fatalf("expected negative amplitude to fail")
	}
}

func TestRelationsFollowBaseOrdering(t *testing.T) {
	tables := Build(Input{ShakeOff: offRows(), ShakeUp: upRows()})
	rels := tables.Relations()
	// Three shake-off pairs plus one shake-up pair.
	if len(rels) != 4 {
		t.Fatalf("expected 4 relations, got %d: %+v", len(rels), rels)
	}
	for _, r := range rels {
		if r.Hi.Kind != r.Lo.Kind {
			t.Fatalf("expected same-kind relation, got %+v", r)
		}
		if tables.Base(r.Hi) <= tables.Base(r.Lo) {
			t.Fatalf("relation %+v does not follow base ordering", r)
		}
		if tables.Slack(r, Amplitudes{}) <= 0 {
			t.Fatalf("expected unit amplitudes to satisfy %+v", r)
		}
	}
	l1 := Channel{Kind: ShakeOff, Key: "L1"}
	amps := Amplitudes{}.With(l1, 100)
	violated := 0
	for _, r := range rels {
		if tables.Slack(r, amps) < 0 {
			violated++
		}
	}
	if violated == 0 {
		t.Fatalf("expected inflating L1 to violate an ordering")
	}
}

func TestParseChannel(t *testing.T) {
	cases := map[string]Channel{
		"off:L1":          {Kind: ShakeOff, Key: "L1"},
		"up:M2":           {Kind: ShakeUp, Key: "M2"},
		"shake_amps_L3":   {Kind: ShakeOff, Key: "L3"},
		"shakeup_amps_L2": {Kind: ShakeUp, Key: "L2"},
	}
	for in, want := range cases {
		got, err := ParseChannel(in)
		if err != nil || got != want {
			t.Fatalf("ParseChannel(%q): expected %v, got %v (%v)", in, want, got, err)
		}
	}
	for _, bad := range []string{"L1", "side:L1", "off:"} {
		if _, err := ParseChannel(bad); err == nil {
			t.Fatalf("expected %q to fail", bad)
		}
	}
}

func TestCacheRebuildsOnlyOnChange(t *testing.T) {
	var cache Cache
	in := Input{ShakeOff: offRows()}
	a := cache.Get(in, 1)
	b := cache.Get(in, 1)
	if a != b || cache.Builds() != 1 {
		t.Fatalf("expected one build, got %d", cache.Builds())
	}
	cache.Get(in, 2)
	if cache.Builds() != 2 {
		t.Fatalf("expected rebuild after table change, got %d builds", cache.Builds())
	}
	in.ShakeOff = in.ShakeOff[:4]
	cache.Get(in, 2)
	if cache.Builds() != 3 {
		t.Fatalf("expected rebuild after row change, got %d builds", cache.Builds())
	}
}
