package judge

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var intRe = regexp.MustCompile(`\d+`)

// slotsReply is the JSON object the judge is asked to return.
type slotsReply struct {
	Slots []any `json:"slots"`
}

// ParseSlots turns a raw judge reply into exactly min(nRel, k) distinct slots
// in [1, k]. A reply that is a JSON object whose "slots" list already
// satisfies that is returned as is. Otherwise the numbers are recovered
// loosely: from the decoded "slots" list when the reply is JSON, else from
// the raw text. The second return value reports whether the loose path was
// taken.
func ParseSlots(raw string, k, nRel int) ([]int, bool) {
	nRel = clampRel(k, nRel)
	if nRel == 0 {
		return []int{}, false
	}

	nums, ok := decodeSlots(raw)
	if ok && validSlots(nums, k, nRel) {
		return nums, false
	}
	if ok {
		return fillSlots(nums, k, nRel), true
	}
	return LooseSlots(raw, k, nRel), true
}

// LooseSlots extracts every integer from raw, keeps those in [1, k] in
// first-seen order without repeats, pads with the lowest unused slots and
// truncates to nRel.
func LooseSlots(raw string, k, nRel int) []int {
	nRel = clampRel(k, nRel)
	if nRel == 0 {
		return []int{}
	}
	var nums []int
	for _, m := range intRe.FindAllString(raw, -1) {
		n, err := strconv.Atoi(m)
		if err != nil {
			// Overflowing digit runs are out of range anyway.
			continue
		}
		nums = append(nums, n)
	}
	return fillSlots(nums, k, nRel)
}

func fillSlots(nums []int, k, nRel int) []int {
	out := make([]int, 0, nRel)
	seen := make(map[int]bool, nRel)
	for _, n := range nums {
		if len(out) == nRel {
			break
		}
		if n < 1 || n > k || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	for s := 1; s <= k && len(out) < nRel; s++ {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// decodeSlots reads the "slots" list of a JSON object reply. Elements may be
// integral numbers or numeric strings.
func decodeSlots(raw string) ([]int, bool) {
	var reply slotsReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &reply); err != nil {
		return nil, false
	}
	if reply.Slots == nil {
		return nil, false
	}
	out := make([]int, 0, len(reply.Slots))
	for _, v := range reply.Slots {
		switch x := v.(type) {
		case float64:
			if x != math.Trunc(x) || math.Abs(x) > math.MaxInt32 {
				return nil, false
			}
			out = append(out, int(x))
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(x))
			if err != nil {
				return nil, false
			}
			out = append(out, n)
		default:
			return nil, false
		}
	}
	return out, true
}

func validSlots(nums []int, k, nRel int) bool {
	if len(nums) != nRel {
		return false
	}
	seen := make(map[int]bool, len(nums))
	for _, n := range nums {
		if n < 1 || n > k || seen[n] {
			return false
		}
		seen[n] = true
	}
	return true
}

func clampRel(k, nRel int) int {
	if k <= 0 || nRel <= 0 {
		return 0
	}
	return min(nRel, k)
}
