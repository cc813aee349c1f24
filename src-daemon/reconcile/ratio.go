package reconcile

// ratcliffObershelp is the gestalt pattern-matching ratio: twice the
// number of matching characters over the combined length, with matching
// blocks found recursively around the longest common substring. It plugs
// into strutil as a StringMetric; strutil's own metrics package does not
// ship this one.
type ratcliffObershelp struct{}

func (ratcliffObershelp) Compare(a, b string) float64 {
	aRunes, bRunes := []rune(a), []rune(b)
	if len(aRunes) == 0 && len(bRunes) == 0 {
		return 1
	}
	if len(aRunes) == 0 || len(bRunes) == 0 {
		return 0
	}
	matched := matchingRunes(aRunes, bRunes)
	return 2 * float64(matched) / float64(len(aRunes)+len(bRunes))
}

// matchingRunes counts the runes covered by matching blocks: the longest
// common substring, then the same recursively on the pieces left and
// right of it.
func matchingRunes(a, b []rune) int {
	aStart, bStart, size := longestCommonRun(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchingRunes(a[:aStart], b[:bStart]) +
		matchingRunes(a[aStart+size:], b[bStart+size:])
}

func longestCommonRun(a, b []rune) (aStart, bStart, size int) {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] != b[j-1] {
				curr[j] = 0
				continue
			}
			curr[j] = prev[j-1] + 1
			if curr[j] > size {
				size = curr[j]
				aStart = i - size
				bStart = j - size
			}
		}
		prev, curr = curr, prev
	}
	return aStart, bStart, size
}
