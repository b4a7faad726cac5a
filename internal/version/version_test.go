package version

import "testing"

func TestCompareOrdering(t *testing.T) {
	tests := []struct {
		name string
		a, b Version
		want int
	}{
		{"numeric not lexicographic", Parse("1.2.10"), Parse("1.2.9"), 1},
		{"major wins", Parse("10.0"), Parse("9.9"), 1},
		{"patch level", Parse("1.2.1"), Parse("1.2"), 1},
		{"fourth component", Parse("1.2.3.4"), Parse("1.2.3.3"), 1},
		{"equal", Parse("2.0"), Parse("2.0"), 0},
		{"final above rc", Parse("1.2.0"), Parse("1.2.0rc1"), 1},
		{"rc above beta", Parse("1.2.0rc1"), Parse("1.2.0beta1"), 1},
		{"beta above alpha", Parse("1.2.0beta1"), Parse("1.2.0alpha1"), 1},
		{"alpha below final", Parse("1.2.0alpha1"), Parse("1.2.0"), -1},
		{"short alpha tag", Parse("1.2a5"), Parse("1.2a4"), 1},
		{"short beta tag", Parse("1.2b1"), Parse("1.2a9"), 1},
		{"tag revision numeric", Parse("3.0rc10"), Parse("3.0rc9"), 1},
		{"pre demotes", Parse("3.0rc2pre"), Parse("3.0rc2"), -1},
		{"pre demotes final", Parse("2.3.4pre"), Parse("2.3.4"), -1},
		{"dotted beta", Parse("1.4.beta2"), Parse("1.4.beta1"), 1},
		{"newer date stamp wins", Parse("1.2.3-20150102"), Parse("1.2.3-20150101"), 1},
		{"equal date stamps", Parse("1.2.3-20150101"), Parse("1.2.3-20150101"), 0},
		{"date stamp above bare", Parse("1.2.3-20150101"), Parse("1.2.3"), 1},
		{"vendor suffix orders", Parse("5.2.5gt6"), Parse("5.2.5gt5"), 1},
		{"vendor suffix above bare", Parse("5.2.5gt6"), Parse("5.2.5"), 1},
		{"stamp below next version", Parse("1.2.4"), Parse("1.2.3-20150101"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCompareAntisymmetry(t *testing.T) {
	versions := []Version{
		Parse("0"),
		Parse("1.0"),
		Parse("1.2.9"),
		Parse("1.2.10"),
		Parse("1.2.0alpha1"),
		Parse("1.2.0beta1"),
		Parse("1.2.0rc1"),
		Parse("1.2.0rc1pre"),
		Parse("1.2.3-20150101"),
		Parse("1.2.3-20150102"),
		Parse("2.0"),
		ParseWithRelease("2.0", "1"),
		ParseWithRelease("2.0", "2"),
		ParseWithRelease("2.0", "1.el7"),
	}
	for _, a := range versions {
		for _, b := range versions {
			if a.Wildcard() != b.Wildcard() {
				// Wildcard comparisons are intentionally non-strict.
				continue
			}
			if got, want := a.Compare(b), -b.Compare(a); got != want {
				t.Errorf("Compare(%s, %s) = %d, but Compare(%s, %s) = %d",
					a, b, got, b, a, b.Compare(a))
			}
		}
	}
}

func TestCompareRelease(t *testing.T) {
	tests := []struct {
		name string
		a, b Version
		want int
	}{
		{"numeric release", ParseWithRelease("1.0", "2"), ParseWithRelease("1.0", "10"), -1},
		{"equal releases", ParseWithRelease("1.0", "3"), ParseWithRelease("1.0", "3"), 0},
		{"suffix bytewise", ParseWithRelease("1.0", "1.el7"), ParseWithRelease("1.0", "1.el6"), 1},
		{"numeric prefix first", ParseWithRelease("1.0", "2.el6"), ParseWithRelease("1.0", "10.el5"), -1},
		{"bare tag below numbered", ParseWithRelease("1.0", "rc1"), ParseWithRelease("1.0", "1"), -1},
		{"version wins over release", ParseWithRelease("1.1", "1"), ParseWithRelease("1.0", "99"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestWildcardRelease(t *testing.T) {
	wild := Parse("1.2.3")
	for _, rel := range []string{"1", "2", "0.99", "1.el7"} {
		concrete := ParseWithRelease("1.2.3", rel)
		if !wild.Equal(concrete) {
			t.Errorf("wildcard %s should equal %s", wild, concrete)
		}
		if !concrete.Equal(wild) {
			t.Errorf("%s should equal wildcard %s", concrete, wild)
		}
	}
	if wild.Equal(Parse("1.2.4")) {
		t.Error("wildcard must not match a different version")
	}
}

func TestParseDegradesQuietly(t *testing.T) {
	tests := []struct {
		input  string
		parsed bool
	}{
		{"1.2.3", true},
		{"1.2rc3", true},
		{"20150101", true},
		{"1.2.3-20150101", true},
		{"", false},
		{"not-a-version", false},
		{"1..2", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v := Parse(tt.input)
			if v.Parsed() != tt.parsed {
				t.Errorf("Parse(%q).Parsed() = %v, want %v", tt.input, v.Parsed(), tt.parsed)
			}
			if !tt.parsed {
				if v.Compare(Parse("0")) != 0 {
					t.Errorf("unparsed %q should degrade to the zero version", tt.input)
				}
			}
		})
	}
}

func TestString(t *testing.T) {
	if got := ParseWithRelease("1.2", "3").String(); got != "1.2-3" {
		t.Errorf("String() = %q, want %q", got, "1.2-3")
	}
	if got := Parse("1.2").String(); got != "1.2" {
		t.Errorf("String() = %q, want %q", got, "1.2")
	}
}
