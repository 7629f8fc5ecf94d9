package validate_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"lotbuy/internal/validate"
)

func TestQ(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"  road bike ", "road bike", true},
		{"<script>", "<script>", false},
		{"", "", false},
		{"snake_case", "snake_case", true},
	}
	for _, c := range cases {
		got, ok := validate.Q(c.in)
		if got != c.want || ok != c.ok {
			t.Fatalf("Q(%q) = %q, %v; want %q, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

// Long multi-byte queries are cut on a character boundary.
func TestQ_TruncatesOnRuneBoundary(t *testing.T) {
	in := "a" + strings.Repeat("é", 60)
	got, ok := validate.Q(in)
	if !ok {
		t.Fatalf("query rejected: %q", got)
	}
	if len(got) > validate.MaxQLen || !utf8.ValidString(got) {
		t.Fatalf("bad truncation: len=%d valid=%v", len(got), utf8.ValidString(got))
	}
	if !strings.HasPrefix(in, got) {
		t.Fatalf("truncated query %q is not a prefix of the input", got)
	}
}

func TestPassword(t *testing.T) {
	for pw, want := range map[string]bool{
		"Passw0rd!":           true,
		"password":            false,
		"SHORT1!":             false,
		"NoDigitsHere!":       false,
		strings.Repeat("Aa1!", 17): false,
	} {
		if got := validate.Password(pw); got != want {
			t.Fatalf("Password(%q) = %v, want %v", pw, got, want)
		}
	}
}

func TestLimitAndAmount(t *testing.T) {
	if n := validate.Limit("500", 20, 100); n != 100 {
		t.Fatalf("limit clamp = %d", n)
	}
	if n := validate.Limit("x", 20, 100); n != 20 {
		t.Fatalf("limit default = %d", n)
	}
	if _, ok := validate.Amount("-1"); ok {
		t.Fatal("negative amount accepted")
	}
	if v, ok := validate.Amount(" 12.5 "); !ok || v == nil || *v != 12.5 {
		t.Fatalf("amount = %v %v", v, ok)
	}
}
