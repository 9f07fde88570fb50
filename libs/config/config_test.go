package config

import "testing"

func TestInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := Int("TEST_INT", 7); got != 42 {
		t.Fatalf("got %d", got)
	}
	if got := Int("TEST_INT_UNSET", 7); got != 7 {
		t.Fatalf("fallback: got %d", got)
	}
	t.Setenv("TEST_INT_BAD", "forty")
	if got := Int("TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("malformed: got %d", got)
	}
}

func TestBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "false")
	if Bool("TEST_BOOL", true) {
		t.Fatal("expected false")
	}
	if !Bool("TEST_BOOL_UNSET", true) {
		t.Fatal("expected fallback true")
	}
}

func TestList(t *testing.T) {
	t.Setenv("TEST_LIST", "a, b,,c ")
	got := List("TEST_LIST")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("got %v", got)
	}
	if List("TEST_LIST_UNSET") != nil {
		t.Fatal("expected nil for unset")
	}
}

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "8081")
	if p, err := Port("TEST_PORT", "8080"); err != nil || p != "8081" {
		t.Fatalf("got %q, %v", p, err)
	}
	t.Setenv("TEST_PORT_BAD", "99999")
	if _, err := Port("TEST_PORT_BAD", "8080"); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}
