// Package align computes minimum edit distance alignments between a
// hypothesis and a reference token sequence.
//
// Align fills the full (|ref|+1) x (|hyp|+1) cost matrix, so time and memory
// grow with the product of both lengths. Callers should score utterance-sized
// sequences rather than whole recordings.
package align

// Kind classifies one alignment position.
type Kind int

const (
	Match Kind = iota
	Substitution
	Insertion
	Deletion
)

// String returns the code used in alignment tables.
func (k Kind) String() string {
	switch k {
	case Match:
		return "OK"
	case Substitution:
		return "S"
	case Insertion:
		return "I"
	case Deletion:
		return "D"
	default:
		return "?"
	}
}

// Op is one alignment position. RefIndex is -1 for insertions and HypIndex
// is -1 for deletions.
type Op struct {
	Kind     Kind   `json:"kind"`
	RefIndex int    `json:"ref_index"`
	HypIndex int    `json:"hyp_index"`
	Ref      string `json:"ref,omitempty"`
	Hyp      string `json:"hyp,omitempty"`
}

type Alignment []Op

// Counts tallies operations by kind.
type Counts struct {
	Correct       int
	Substitutions int
	Insertions    int
	Deletions     int
}

// Errors is the number of non-match operations.
func (c Counts) Errors() int { return c.Substitutions + c.Insertions + c.Deletions }

func (a Alignment) Counts() Counts {
	var c Counts
	for _, op := range a {
		switch op.Kind {
		case Match:
			c.Correct++
		case Substitution:
			c.Substitutions++
		case Insertion:
			c.Insertions++
		case Deletion:
			c.Deletions++
		}
	}
	return c
}

// RefProjection returns the reference tokens in order, skipping insertions.
func (a Alignment) RefProjection() []string {
	out := make([]string, 0, len(a))
	for _, op := range a {
		if op.Kind != Insertion {
			out = append(out, op.Ref)
		}
	}
	return out
}

// HypProjection returns the hypothesis tokens in order, skipping deletions.
func (a Alignment) HypProjection() []string {
	out := make([]string, 0, len(a))
	for _, op := range a {
		if op.Kind != Deletion {
			out = append(out, op.Hyp)
		}
	}
	return out
}

// Align returns a minimum-cost alignment of hyp against ref with unit costs.
// Among equal-cost paths the backtrace prefers Match, then Substitution,
// then Deletion, then Insertion.
func Align(hyp, ref []string) Alignment {
	n, m := len(ref), len(hyp)

	d := make([][]int, n+1)
	for i := range d {
		d[i] = make([]int, m+1)
		d[i][0] = i
	}
	for j := 0; j <= m; j++ {
		d[0][j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			sub := d[i-1][j-1]
			if ref[i-1] != hyp[j-1] {
				sub++
			}
			d[i][j] = min(sub, d[i-1][j]+1, d[i][j-1]+1)
		}
	}

	ops := make([]Op, 0, max(n, m))
	i, j := n, m
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && ref[i-1] == hyp[j-1] && d[i][j] == d[i-1][j-1]:
			i--
			j--
			ops = append(ops, Op{Kind: Match, RefIndex: i, HypIndex: j, Ref: ref[i], Hyp: hyp[j]})
		case i > 0 && j > 0 && d[i][j] == d[i-1][j-1]+1:
			i--
			j--
			ops = append(ops, Op{Kind: Substitution, RefIndex: i, HypIndex: j, Ref: ref[i], Hyp: hyp[j]})
		case i > 0 && d[i][j] == d[i-1][j]+1:
			i--
			ops = append(ops, Op{Kind: Deletion, RefIndex: i, HypIndex: -1, Ref: ref[i]})
		default:
			j--
			ops = append(ops, Op{Kind: Insertion, RefIndex: -1, HypIndex: j, Hyp: hyp[j]})
		}
	}

	for l, r := 0, len(ops)-1; l < r; l, r = l+1, r-1 {
		ops[l], ops[r] = ops[r], ops[l]
	}
	return Alignment(ops)
}
