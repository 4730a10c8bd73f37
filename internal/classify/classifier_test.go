package classify

import (
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestTierMoreSevere(t *testing.T) {
	tests := []struct {
		name  string
		tier  Tier
		other Tier
		want  bool
	}{
		{"p1 over p2", TierP1, TierP2, true},
		{"p2 over p1", TierP2, TierP1, false},
		{"p1 over none", TierP1, TierNone, true},
		{"p4 over none", TierP4, TierNone, true},
		{"none over p4", TierNone, TierP4, false},
		{"equal tiers", TierP2, TierP2, false},
		{"none over none", TierNone, TierNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tier.MoreSevere(tt.other); got != tt.want {
				t.Errorf("MoreSevere(%v, %v) = %v, want %v", tt.tier, tt.other, got, tt.want)
			}
		})
	}
}

func TestTierStringRoundTrip(t *testing.T) {
	for _, tier := range []Tier{TierP1, TierP2, TierP3, TierP4} {
		if got := ParseTier(tier.String()); got != tier {
			t.Errorf("ParseTier(%q) = %v, want %v", tier.String(), got, tier)
		}
	}
	if got := ParseTier("P9"); got != TierNone {
		t.Errorf("ParseTier(P9) = %v, want TierNone", got)
	}
	if TierNone.String() != "" {
		t.Errorf("TierNone.String() = %q, want empty", TierNone.String())
	}
}

func TestClassifyEmergencyKeyword(t *testing.T) {
	c := NewClassifier(DefaultRules(), testLogger())

	tests := []struct {
		name       string
		transcript string
		want       Tier
	}{
		{"flood english", "my basement is flooding right now", TierP1},
		{"flood french", "il y a une inondation dans le sous-sol", TierP1},
		{"sewage backup", "the sewage is backing up into the tub", TierP1},
		{"burst pipe", "we have a burst pipe in the kitchen", TierP1},
		{"case insensitive", "URGENT please come now", TierP1},
		{"no match", "I would like a quote for a water heater", TierP4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.transcript, nil, "+15145551234"); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.transcript, got, tt.want)
			}
		})
	}
}

func TestClassifyMunicipalPrefix(t *testing.T) {
	c := NewClassifier(DefaultRules(), testLogger())

	if got := c.Classify("hello, calling about a permit inspection", nil, "+15148725555"); got != TierP2 {
		t.Errorf("municipal prefix = %v, want P2", got)
	}
	// Prefix without country code.
	if got := c.Classify("calling about an inspection", nil, "5148725555"); got != TierP2 {
		t.Errorf("municipal prefix without +1 = %v, want P2", got)
	}
	if got := c.Classify("calling about an inspection", nil, "+15145550000"); got != TierP4 {
		t.Errorf("residential number = %v, want P4", got)
	}
}

func TestClassifyBusinessKeyword(t *testing.T) {
	c := NewClassifier(DefaultRules(), testLogger())

	if got := c.Classify("this is the restaurant on main street, our sink is slow", nil, "+15145550000"); got != TierP3 {
		t.Errorf("business keyword = %v, want P3", got)
	}
}

func TestClassifyOrderMostSevereWins(t *testing.T) {
	c := NewClassifier(DefaultRules(), testLogger())

	// Emergency keyword beats both the municipal prefix and a business word.
	got := c.Classify("the restaurant basement has a flood", nil, "+15148720000")
	if got != TierP1 {
		t.Errorf("combined signals = %v, want P1", got)
	}

	// Municipal prefix beats a business keyword.
	got = c.Classify("calling from the city office", nil, "+15148720000")
	if got != TierP2 {
		t.Errorf("prefix vs business = %v, want P2", got)
	}
}

func TestClassifyMatchesExtractedFields(t *testing.T) {
	c := NewClassifier(DefaultRules(), testLogger())

	fields := map[string]string{"problem": "refoulement d'égout au garage"}
	if got := c.Classify("", fields, "+15145550000"); got != TierP1 {
		t.Errorf("field match = %v, want P1", got)
	}
}

func TestClassifyEmptyInputs(t *testing.T) {
	c := NewClassifier(DefaultRules(), testLogger())

	if got := c.Classify("", nil, ""); got != TierP4 {
		t.Errorf("empty inputs = %v, want P4", got)
	}
}

func TestClassifyCustomRules(t *testing.T) {
	rules := DefaultRules()
	rules.EmergencyKeywords = append(rules.EmergencyKeywords, "gas smell")

	c := NewClassifier(rules, testLogger())
	if got := c.Classify("there is a gas smell near the water heater", nil, ""); got != TierP1 {
		t.Errorf("custom keyword = %v, want P1", got)
	}
}
