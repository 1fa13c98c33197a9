package gtdlog

// OrderDiff is a sequence of anchored groups encoding a permutation delta.
// Each group's first element is the anchor: nil means "prepend", otherwise
// insert the remaining keys of the group immediately after that anchor,
// first removing any prior occurrence of those keys. A group with a nil
// anchor still only ever appears as the first element of the slice;
// PatchOrder never treats a later nil specially.
type OrderDiff [][]*string

func ptr(s string) *string { return &s }

// PatchOrder applies diff to a permutation, in order, one group at a time.
// Keys named in a group that aren't present in the current sequence are
// dropped silently; a group left with no surviving keys is a no-op. Unknown
// anchors make the whole group a no-op (matching the Python reference's
// behavior of leaving the sequence untouched when the anchor can't be
// found).
func PatchOrder(a []string, diff OrderDiff) []string {
	out := append([]string(nil), a...)

	for _, group := range diff {
		if len(group) == 0 {
			continue
		}
		anchor := group[0]
		keys := make([]string, 0, len(group)-1)
		present := make(map[string]bool, len(out))
		for _, s := range out {
			present[s] = true
		}
		for _, k := range group[1:] {
			if k != nil && present[*k] {
				keys = append(keys, *k)
			}
		}
		if len(keys) == 0 {
			continue
		}

		if anchor != nil && !present[*anchor] {
			continue
		}

		out = removeAll(out, keys)

		insertAt := 0
		if anchor != nil {
			insertAt = indexOf(out, *anchor) + 1
		}
		tail := append([]string(nil), out[insertAt:]...)
		out = append(append(append([]string(nil), out[:insertAt]...), keys...), tail...)
	}

	return out
}

func removeAll(seq []string, drop []string) []string {
	dropSet := make(map[string]bool, len(drop))
	for _, d := range drop {
		dropSet[d] = true
	}
	out := make([]string, 0, len(seq))
	for _, s := range seq {
		if !dropSet[s] {
			out = append(out, s)
		}
	}
	return out
}

func indexOf(seq []string, s string) int {
	for i, v := range seq {
		if v == s {
			return i
		}
	}
	return -1
}

// DiffOrder computes the order-diff that PatchOrder(a, DiffOrder(a, b))
// turns back into b, for any permutation b of a. It maps each element of b
// to its position in a, takes the longest run of elements whose positions
// in a are already increasing (the longest stretch that doesn't need to
// move), and emits one insert/replace group for each divergent span
// between them, anchored on the predecessor kept element (or nil, meaning
// prepend).
func DiffOrder(a, b []string) OrderDiff {
	posInA := make(map[string]int, len(a))
	for i, s := range a {
		posInA[s] = i
	}

	indices := make([]int, len(b))
	for i, s := range b {
		indices[i] = posInA[s]
	}

	kept := make(map[int]bool, len(b))
	for _, bIdx := range longestIncreasingRun(indices) {
		kept[bIdx] = true
	}

	var diff OrderDiff
	var anchor *string
	var run []*string

	flush := func() {
		if len(run) == 0 {
			return
		}
		group := append([]*string{anchor}, run...)
		diff = append(diff, group)
		run = nil
	}

	for i, s := range b {
		s := s
		if kept[i] {
			flush()
			anchor = ptr(s)
		} else {
			run = append(run, &s)
		}
	}
	flush()

	return diff
}

// longestIncreasingRun returns the positions (indices into seq) of the
// longest strictly increasing subsequence of seq, via patience sorting
// with predecessor links (O(n log n)).
func longestIncreasingRun(seq []int) []int {
	n := len(seq)
	if n == 0 {
		return nil
	}

	tailVal := make([]int, 0, n)
	tailIdx := make([]int, 0, n)
	prev := make([]int, n)

	for i, x := range seq {
		lo, hi := 0, len(tailVal)
		for lo < hi {
			mid := (lo + hi) / 2
			if tailVal[mid] >= x {
				hi = mid
			} else {
				lo = mid + 1
			}
		}
		if lo > 0 {
			prev[i] = tailIdx[lo-1]
		} else {
			prev[i] = -1
		}
		if lo == len(tailVal) {
			tailVal = append(tailVal, x)
			tailIdx = append(tailIdx, i)
		} else {
			tailVal[lo] = x
			tailIdx[lo] = i
		}
	}

	length := len(tailVal)
	result := make([]int, length)
	k := tailIdx[length-1]
	for idx := length - 1; idx >= 0; idx-- {
		result[idx] = k
		k = prev[k]
	}
	return result
}
