// Package evaluation scores candidate rankings and judge picks against qrels.
package evaluation

import (
	"math"
	"sort"
)

// gains returns the grade of each ranked doc, 0 for unjudged docs.
func gains(ranked []string, grades map[string]int) []int {
	out := make([]int, len(ranked))
	for i, d := range ranked {
		out[i] = grades[d]
	}
	return out
}

// Hits counts docs with a positive grade in the first k.
func Hits(rel []int, k int) int {
	n := 0
	for i := 0; i < min(k, len(rel)); i++ {
		if rel[i] > 0 {
			n++
		}
	}
	return n
}

// PrecisionAtK is Hits over k. Short lists are not padded: missing ranks count
// as misses.
func PrecisionAtK(rel []int, k int) float64 {
	if k <= 0 {
		return 0
	}
	return float64(Hits(rel, k)) / float64(k)
}

// RecallAtK is Hits over the number of relevant docs.
func RecallAtK(rel []int, k, nRel int) float64 {
	if nRel <= 0 {
		return 0
	}
	return float64(Hits(rel, k)) / float64(nRel)
}

// ReciprocalRank is 1/rank of the first relevant doc within k, or 0.
func ReciprocalRank(rel []int, k int) float64 {
	for i := 0; i < min(k, len(rel)); i++ {
		if rel[i] > 0 {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// NDCGAtK uses linear gains and a log2(rank+1) discount. The ideal ordering is
// built from all grades of the query, not only the retrieved ones.
func NDCGAtK(rel []int, k int, grades []int) float64 {
	idcg := dcg(sortedDesc(grades), k)
	if idcg == 0 {
		return 0
	}
	return dcg(rel, k) / idcg
}

func dcg(rel []int, k int) float64 {
	var s float64
	for i := 0; i < min(k, len(rel)); i++ {
		s += float64(rel[i]) / math.Log2(float64(i+2))
	}
	return s
}

func sortedDesc(v []int) []int {
	out := append([]int(nil), v...)
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}
