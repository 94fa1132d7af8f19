package judge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSlots(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		k, nRel   int
		want      []int
		wantLoose bool
	}{
		{name: "strict", raw: `{"slots":[2,5]}`, k: 10, nRel: 2, want: []int{2, 5}},
		{name: "strict_with_spaces", raw: "  {\"slots\": [7]}\n", k: 10, nRel: 1, want: []int{7}},
		{name: "strict_string_slots", raw: `{"slots":["3","1"]}`, k: 10, nRel: 2, want: []int{3, 1}},
		{name: "duplicates_and_out_of_range", raw: `{"slots":[2,2,5,99]}`, k: 10, nRel: 3, want: []int{2, 5, 1}, wantLoose: true},
		{name: "too_many", raw: `{"slots":[4,3,2,1]}`, k: 10, nRel: 2, want: []int{4, 3}, wantLoose: true},
		{name: "extra_keys_ignored", raw: `{"slots":[6], "confidence": 9}`, k: 10, nRel: 2, want: []int{6, 1}, wantLoose: true},
		{name: "trailing_comma", raw: `{"slots":[1,]}`, k: 10, nRel: 2, want: []int{1, 2}, wantLoose: true},
		{name: "prose", raw: "I think documents 4 and 8 are relevant.", k: 10, nRel: 2, want: []int{4, 8}, wantLoose: true},
		{name: "empty", raw: "", k: 10, nRel: 3, want: []int{1, 2, 3}, wantLoose: true},
		{name: "zero_slot", raw: `{"slots":[0,3]}`, k: 5, nRel: 2, want: []int{3, 1}, wantLoose: true},
		{name: "fractional", raw: `{"slots":[2.5]}`, k: 5, nRel: 1, want: []int{2}, wantLoose: true},
		{name: "huge_number", raw: "99999999999999999999999 then 2", k: 5, nRel: 1, want: []int{2}, wantLoose: true},
		{name: "nrel_clamped_to_k", raw: `{"slots":[3]}`, k: 3, nRel: 5, want: []int{3, 1, 2}, wantLoose: true},
		{name: "nrel_zero", raw: `{"slots":[1]}`, k: 3, nRel: 0, want: []int{}},
		{name: "k_zero", raw: `{"slots":[1]}`, k: 0, nRel: 1, want: []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, loose := ParseSlots(tt.raw, tt.k, tt.nRel)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantLoose, loose)
		})
	}
}

func TestParseSlots_AlwaysDistinctInRange(t *testing.T) {
	raws := []string{
		"", "null", "[]", `{"slots":null}`, `{"slots":[]}`, `{"slots":[-1,-2]}`,
		`{"slots":[10,10,10]}`, "1 1 1 1", "slots: 3, 3, 11, 2", "{{{", "٣ ٤",
	}
	for _, raw := range raws {
		for k := 1; k <= 10; k++ {
			for nRel := 1; nRel <= k; nRel++ {
				got, _ := ParseSlots(raw, k, nRel)
				assert.Len(t, got, nRel, "raw=%q k=%d", raw, k)
				seen := map[int]bool{}
				for _, s := range got {
					assert.GreaterOrEqual(t, s, 1)
					assert.LessOrEqual(t, s, k)
					assert.False(t, seen[s], "duplicate slot %d for %q", s, raw)
					seen[s] = true
				}
			}
		}
	}
}

func TestLooseSlots(t *testing.T) {
	assert.Equal(t, []int{2, 5, 1}, LooseSlots(`{"slots":[2,2,5,99]}`, 10, 3))
	assert.Equal(t, []int{1, 2}, LooseSlots("no numbers here", 4, 2))
	assert.Equal(t, []int{}, LooseSlots("1", 4, 0))
}
