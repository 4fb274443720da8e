package eval

import "slices"

// Counts holds set-overlap counts between extracted and expected ids.
type Counts struct {
	TruePositives  int `json:"true_positives"`
	FalsePositives int `json:"false_positives"`
	FalseNegatives int `json:"false_negatives"`
}

// Add returns the element-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		TruePositives:  c.TruePositives + o.TruePositives,
		FalsePositives: c.FalsePositives + o.FalsePositives,
		FalseNegatives: c.FalseNegatives + o.FalseNegatives,
	}
}

// Precision is TP / (TP + FP), or 1 when nothing was extracted.
func (c Counts) Precision() float64 {
	if c.TruePositives+c.FalsePositives == 0 {
		return 1
	}
	return float64(c.TruePositives) / float64(c.TruePositives+c.FalsePositives)
}

// Recall is TP / (TP + FN), or 1 when nothing was expected.
func (c Counts) Recall() float64 {
	if c.TruePositives+c.FalseNegatives == 0 {
		return 1
	}
	return float64(c.TruePositives) / float64(c.TruePositives+c.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (c Counts) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// compare counts extracted ids against expected ones. Duplicate ids count
// once. The returned slices are sorted.
func compare(extracted, expected []string) (c Counts, missing, unexpected []string) {
	got := make(map[string]bool, len(extracted))
	for _, id := range extracted {
		got[id] = true
	}
	want := make(map[string]bool, len(expected))
	for _, id := range expected {
		want[id] = true
	}
	for id := range want {
		if got[id] {
			c.TruePositives++
		} else {
			missing = append(missing, id)
		}
	}
	for id := range got {
		if !want[id] {
			unexpected = append(unexpected, id)
		}
	}
	c.FalseNegatives = len(missing)
	c.FalsePositives = len(unexpected)
	slices.Sort(missing)
	slices.Sort(unexpected)
	return c, missing, unexpected
}

// present returns the members of ids found in extracted, sorted.
func present(extracted, ids []string) []string {
	var out []string
	for _, id := range ids {
		if slices.Contains(extracted, id) && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
