package material

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Material
	}{
		{"steel", Steel},
		{"  Copper ", Copper},
		{"ALUMINUM", Aluminum},
		{"stainless_steel", StainlessSteel},
		{"stainless-steel", StainlessSteel},
		{"Stainless Steel", StainlessSteel},
		{"StainlessSteel", StainlessSteel},
		{"other", Other},
		{"zinc", Unknown},
		{"", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Parse(tt.in); got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPricePerLb(t *testing.T) {
	want := map[Material]float64{
		Steel:          0.10,
		Aluminum:       0.65,
		Copper:         3.50,
		Brass:          2.20,
		Lead:           0.80,
		StainlessSteel: 0.40,
		Other:          0.05,
		Unknown:        0.00,
	}

	for _, m := range All() {
		if got := m.PricePerLb(); got != want[m] {
			t.Errorf("%s price = %v, want %v", m, got, want[m])
		}
	}
	if got := Material("zinc").PricePerLb(); got != 0 {
		t.Errorf("unlisted material price = %v, want 0", got)
	}
}

func TestDensity(t *testing.T) {
	for _, m := range All() {
		if m.Density() <= 0 {
			t.Errorf("%s density = %v", m, m.Density())
		}
	}
	if Material("zinc").Density() != Unknown.Density() {
		t.Error("unlisted material should use the Unknown density")
	}
}
