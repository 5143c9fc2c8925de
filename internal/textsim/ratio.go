// Package textsim provides a bounded longest-common-subsequence similarity
// ratio used by the Retriever to re-rank embedding-space neighbors.
package textsim

// Ratio returns a longest-common-subsequence-based similarity coefficient
// in [0,1] between a and b: 2*len(LCS(a,b)) / (len(a)+len(b)). Two empty
// strings are considered identical (ratio 1).
//
// Computed with a rolling two-row DP table, so cost is O(len(a)*len(b))
// time and O(min(len(a),len(b))) space — bounded by chunk size per the
// concurrency model's "no blocking CPU work beyond the text-similarity
// ratio" guarantee.
func Ratio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}

	prev := make([]int, len(ra)+1)
	curr := make([]int, len(ra)+1)

	for j := 1; j <= len(rb); j++ {
		for i := 1; i <= len(ra); i++ {
			if ra[i-1] == rb[j-1] {
				curr[i] = prev[i-1] + 1
			} else if prev[i] >= curr[i-1] {
				curr[i] = prev[i]
			} else {
				curr[i] = curr[i-1]
			}
		}
		prev, curr = curr, prev
	}

	lcsLen := prev[len(ra)]
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(lcsLen) / float64(total)
}
