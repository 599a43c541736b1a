package align

import (
	"math/rand"
	"reflect"
	"testing"
)

func kinds(a Alignment) []Kind {
	out := make([]Kind, len(a))
	for i, op := range a {
		out[i] = op.Kind
	}
	return out
}

func TestAlign(t *testing.T) {
	tests := []struct {
		name  string
		hyp   []string
		ref   []string
		kinds []Kind
	}{
		{"identity", []string{"今日", "は", "晴れ"}, []string{"今日", "は", "晴れ"}, []Kind{Match, Match, Match}},
		{"total mismatch", []string{"a", "b"}, []string{"c", "d"}, []Kind{Substitution, Substitution}},
		{"swapped prefers substitution", []string{"b", "a"}, []string{"a", "b"}, []Kind{Substitution, Substitution}},
		{"empty reference", []string{"x", "y"}, nil, []Kind{Insertion, Insertion}},
		{"empty hypothesis", nil, []string{"x", "y"}, []Kind{Deletion, Deletion}},
		{"both empty", nil, nil, []Kind{}},
		{"deletion in middle", []string{"a", "c"}, []string{"a", "b", "c"}, []Kind{Match, Deletion, Match}},
		{"insertion in middle", []string{"a", "x", "b"}, []string{"a", "b"}, []Kind{Match, Insertion, Match}},
		{"longer hypothesis", []string{"a", "b", "c"}, []string{"x", "y"}, []Kind{Insertion, Substitution, Substitution}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Align(tt.hyp, tt.ref)
			if got := kinds(a); !reflect.DeepEqual(got, tt.kinds) {
				t.Fatalf("kinds = %v, want %v", got, tt.kinds)
			}
		})
	}
}

func TestAlignIndices(t *testing.T) {
	a := Align([]string{"a", "x", "c"}, []string{"a", "c", "d"})
	for _, op := range a {
		switch op.Kind {
		case Insertion:
			if op.RefIndex != -1 || op.Hyp == "" {
				t.Fatalf("bad insertion op %+v", op)
			}
		case Deletion:
			if op.HypIndex != -1 || op.Ref == "" {
				t.Fatalf("bad deletion op %+v", op)
			}
		default:
			if op.RefIndex < 0 || op.HypIndex < 0 {
				t.Fatalf("bad paired op %+v", op)
			}
		}
	}
}

func TestKindString(t *testing.T) {
	want := map[Kind]string{Match: "OK", Substitution: "S", Insertion: "I", Deletion: "D"}
	for k, s := range want {
		if k.String() != s {
			t.Fatalf("%d.String() = %q, want %q", k, k.String(), s)
		}
	}
}

func TestAlignCompleteness(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []string{"a", "b", "c", "d"}
	gen := func() []string {
		n := rng.Intn(8)
		out := make([]string, n)
		for i := range out {
			out[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return out
	}

	for i := 0; i < 500; i++ {
		hyp, ref := gen(), gen()
		a := Align(hyp, ref)
		if got := a.RefProjection(); !equal(got, ref) {
			t.Fatalf("ref projection %v != %v (hyp %v)", got, ref, hyp)
		}
		if got := a.HypProjection(); !equal(got, hyp) {
			t.Fatalf("hyp projection %v != %v (ref %v)", got, hyp, ref)
		}
		c := a.Counts()
		if c.Correct+c.Substitutions+c.Deletions != len(ref) {
			t.Fatalf("count identity violated: %+v for ref %v", c, ref)
		}
		if c.Errors() != naiveDistance(hyp, ref) {
			t.Fatalf("alignment cost %d != distance %d for %v / %v", c.Errors(), naiveDistance(hyp, ref), hyp, ref)
		}
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func naiveDistance(hyp, ref []string) int {
	if len(ref) == 0 {
		return len(hyp)
	}
	if len(hyp) == 0 {
		return len(ref)
	}
	cost := 1
	if hyp[0] == ref[0] {
		cost = 0
	}
	return min(
		naiveDistance(hyp[1:], ref[1:])+cost,
		naiveDistance(hyp, ref[1:])+1,
		naiveDistance(hyp[1:], ref)+1,
	)
}
