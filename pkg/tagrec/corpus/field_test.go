package corpus

import (
	"strings"
	"testing"
)

func TestParseField(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"plain", `"hello",`, "hello", true},
		{"escaped quote", `"a""b"`, `a"b`, true},
		{"leading junk skipped", `xyz, "value"` + "\n", "value", true},
		{"comma inside", `"a,b","c"`, "a,b", true},
		{"newline inside", "\"line1\nline2\"\n", "line1\nline2", true},
		{"closed by CR", "\"v\"\r\n", "v", true},
		{"stray quote kept", `"say "hi" now"`, `say "hi" now`, true},
		{"eof mid field", `"unterminated`, "unterminated", true},
		{"eof after quote", `"done"`, "done", true},
		{"empty field", `"",`, "", true},
		{"no quote", "no quotes here", "", false},
		{"empty input", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewFieldParser(strings.NewReader(tt.input))
			got, ok, err := p.ParseField()
			if err != nil {
				t.Fatalf("ParseField: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("value = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseFieldSequence(t *testing.T) {
	p := NewFieldParser(strings.NewReader(`"1","Title ""x""","<p>body</p>","go java"` + "\n"))
	want := []string{"1", `Title "x"`, "<p>body</p>", "go java"}
	for i, w := range want {
		got, ok, err := p.ParseField()
		if err != nil || !ok {
			t.Fatalf("field %d: ok=%v err=%v", i, ok, err)
		}
		if got != w {
			t.Errorf("field %d = %q, want %q", i, got, w)
		}
	}
	if _, ok, _ := p.ParseField(); ok {
		t.Error("expected not-found after last field")
	}
}
