package cpufeatures

import "testing"

func TestGetStable(t *testing.T) {
	a := Get()
	b := Get()
	if a != b {
		t.Errorf("Get() not stable: %+v vs %+v", a, b)
	}
	if !a.Scalar {
		t.Error("scalar tier must always be usable")
	}
	if !a.Has(TierScalar) {
		t.Error("Has(TierScalar) must be true")
	}
}

func TestBestOrdering(t *testing.T) {
	cases := []struct {
		f    Features
		want Tier
	}{
		{Features{Wide: true, Narrow: true, Scalar: true}, TierWide},
		{Features{Narrow: true, Scalar: true}, TierNarrow},
		{Features{Scalar: true}, TierScalar},
	}
	for _, tc := range cases {
		if got := tc.f.Best(); got != tc.want {
			t.Errorf("Best(%+v) = %v, want %v", tc.f, got, tc.want)
		}
	}
}

func TestParseTier(t *testing.T) {
	for name, want := range map[string]Tier{
		"wide":   TierWide,
		"narrow": TierNarrow,
		"scalar": TierScalar,
	} {
		got, ok := ParseTier(name)
		if !ok || got != want {
			t.Errorf("ParseTier(%q) = %v, %v", name, got, ok)
		}
	}
	if _, ok := ParseTier("avx512"); ok {
		t.Error("ParseTier should reject unknown tier names")
	}
}

func TestNoSimdOverride(t *testing.T) {
	t.Setenv(NoSimdEnvVar, "1")
	f := resolve()
	if f.Wide || f.Narrow {
		t.Errorf("override left vector tiers enabled: %+v", f)
	}
	if got := f.Best(); got != TierScalar {
		t.Errorf("Best() = %v under override, want scalar", got)
	}
	if f.Name != "scalar" {
		t.Errorf("Name = %q under override, want scalar", f.Name)
	}
}

func TestTierString(t *testing.T) {
	if TierWide.String() != "wide" || TierNarrow.String() != "narrow" || TierScalar.String() != "scalar" {
		t.Error("unexpected tier names")
	}
}
