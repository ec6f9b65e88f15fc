package ai

import (
	"context"
	"testing"
)

func TestStripFences(t *testing.T) {
	cases := []struct{ in, want string }{
		{`{"title":"a"}`, `{"title":"a"}`},
		{"```json\n{\"title\":\"a\"}\n```", `{"title":"a"}`},
		{"```\n{\"title\":\"a\"}\n```", `{"title":"a"}`},
		{"  {\"title\":\"a\"}  ", `{"title":"a"}`},
	}
	for _, c := range cases {
		if got := stripFences(c.in); got != c.want {
			t.Errorf("stripFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNilClientDegrades(t *testing.T) {
	var c *Client
	if _, err := c.GeneratePlan(context.Background(), "", nil); err == nil {
		t.Fatal("want error on nil client")
	}
	if _, err := c.ExtractFromText(context.Background(), "x"); err == nil {
		t.Fatal("want error on nil client")
	}
}
