package rank

import (
	"math"
	"reflect"
	"testing"
)

func exampleRanker() *Ranker {
	r := New()
	r.Increase("java", 10)
	r.Increase("java", 8)
	r.Increase("print", 12)
	r.Increase("string", 8)
	r.Increase("python", 2)
	return r
}

func TestRankerAccumulation(t *testing.T) {
	r := exampleRanker()

	scores := map[string]float64{"java": 18, "print": 12, "string": 8, "python": 2}
	for tag, want := range scores {
		if got := r.Score(tag); got != want {
			t.Errorf("Score(%s) = %v, want %v", tag, got, want)
		}
	}

	proportions := map[string]float64{"java": 1.0, "print": 0.667, "string": 0.444, "python": 0.111}
	for tag, want := range proportions {
		if got := r.Proportion(tag); math.Abs(got-want) > 0.001 {
			t.Errorf("Proportion(%s) = %.3f, want %.3f", tag, got, want)
		}
	}
	if r.Len() != 4 {
		t.Errorf("Len = %d", r.Len())
	}
}

func TestSelectThreshold(t *testing.T) {
	r := exampleRanker()

	tests := []struct {
		threshold float64
		want      []string
	}{
		{0.10, []string{"java", "print", "string", "python"}},
		{0.5, []string{"java", "print"}},
		{1.0, []string{"java"}},
		{1.01, []string{}},
	}
	for _, tt := range tests {
		got := Tags(r.Select(tt.threshold))
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Select(%v) = %v, want %v", tt.threshold, got, tt.want)
		}
	}
}

func TestSelectBoundaryIsInclusive(t *testing.T) {
	r := New()
	r.Increase("go", 10)
	r.Increase("concurrency", 5)
	r.Increase("channels", 4.99)

	got := Tags(r.Select(0.5))
	want := []string{"go", "concurrency"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Select(0.5) = %v, want %v", got, want)
	}
}

func TestSelectTiesSortByTag(t *testing.T) {
	r := New()
	r.Increase("b", 3)
	r.Increase("a", 3)
	r.Increase("c", 1)

	sel := r.Select(0)
	if got := Tags(sel); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("order = %v", got)
	}
	if sel[2].Proportion != 1.0/3.0 {
		t.Errorf("proportion = %v", sel[2].Proportion)
	}
}

func TestAddHitCreditsEachTag(t *testing.T) {
	r := New()
	r.AddHit("java  string java", 2.5)
	r.AddHit("java", 1)

	if r.Score("java") != 3.5 {
		t.Errorf("java = %v, want 3.5 (duplicate tag credited once per hit)", r.Score("java"))
	}
	if r.Score("string") != 2.5 {
		t.Errorf("string = %v, want 2.5", r.Score("string"))
	}
}

func TestEmptyRanker(t *testing.T) {
	r := New()
	if r.Proportion("anything") != 0 {
		t.Error("empty ranker proportion should be 0")
	}
	if got := r.Select(0); len(got) != 0 {
		t.Errorf("Select on empty = %v", got)
	}

	r.Increase("zero", 0)
	r.Increase("neg", -4)
	if r.Score("neg") != 0 {
		t.Errorf("negative amount applied: %v", r.Score("neg"))
	}
	if got := r.Select(0); len(got) != 0 {
		t.Errorf("all-zero scores selected: %v", got)
	}
}
