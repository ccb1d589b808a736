package cost

import "testing"

func TestExtract_Precedence(t *testing.T) {
	cases := []struct {
		name     string
		envelope map[string]interface{}
		want     float64
	}{
		{
			name:     "cost takes precedence over totalCost",
			envelope: map[string]interface{}{"cost": 1.5, "totalCost": 9.0},
			want:     1.5,
		},
		{
			name:     "totalCost takes precedence over total_cost",
			envelope: map[string]interface{}{"totalCost": 2.5, "total_cost": 9.0},
			want:     2.5,
		},
		{
			name:     "total_cost used when others absent",
			envelope: map[string]interface{}{"total_cost": 3.25},
			want:     3.25,
		},
		{
			name:     "sums costs map when no scalar present",
			envelope: map[string]interface{}{"costs": map[string]interface{}{"a": 1.0, "b": 2.0}},
			want:     3.0,
		},
		{
			name:     "defaults to zero",
			envelope: map[string]interface{}{"unrelated": "value"},
			want:     0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Extract(tc.envelope); got != tc.want {
				t.Errorf("Extract() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestExtract_CoercesStringNumerics(t *testing.T) {
	envelope := map[string]interface{}{"cost": "4.75"}
	if got := Extract(envelope); got != 4.75 {
		t.Errorf("Extract() = %v, want 4.75", got)
	}
}

func TestExtract_CoercesIntTypes(t *testing.T) {
	if got := Extract(map[string]interface{}{"cost": 5}); got != 5 {
		t.Errorf("Extract(int) = %v, want 5", got)
	}
	if got := Extract(map[string]interface{}{"cost": int64(6)}); got != 6 {
		t.Errorf("Extract(int64) = %v, want 6", got)
	}
}

func TestExtract_ClampsNegativeToZero(t *testing.T) {
	if got := Extract(map[string]interface{}{"cost": -3.0}); got != 0 {
		t.Errorf("Extract(negative) = %v, want 0", got)
	}
}

func TestExtract_UnparseableStringFallsThroughToZero(t *testing.T) {
	if got := Extract(map[string]interface{}{"cost": "not-a-number"}); got != 0 {
		t.Errorf("Extract(unparseable) = %v, want 0", got)
	}
}

func TestExtract_IgnoresMalformedCostsMap(t *testing.T) {
	if got := Extract(map[string]interface{}{"costs": "not-a-map"}); got != 0 {
		t.Errorf("Extract(malformed costs) = %v, want 0", got)
	}
}
