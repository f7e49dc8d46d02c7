package token

import (
	"testing"
	"time"
)

func TestIssueValidate_RoundTrip(t *testing.T) {
	c, err := NewCodec("test-secret")
	if err != nil {
		t.Fatalf("NewCodec error: %v", err)
	}

	tok, err := c.Issue("user-42", time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	id, err := c.Validate(tok)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if id != "user-42" {
		t.Fatalf("expected identity user-42, got %s", id)
	}
}

func TestValidate_Expired(t *testing.T) {
	c, _ := NewCodec("test-secret")

	now := time.Now()
	c.nowFunc = func() time.Time { return now }
	tok, err := c.Issue("user-42", time.Minute)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	// advance past the ttl
	c.nowFunc = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := c.Validate(tok); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid for expired token, got %v", err)
	}
}

func TestValidate_SingleByteMutation(t *testing.T) {
	c, _ := NewCodec("test-secret")
	tok, err := c.Issue("user-42", time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	for i := 0; i < len(tok); i++ {
		mutated := []byte(tok)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		if _, err := c.Validate(string(mutated)); err != ErrInvalid {
			t.Fatalf("expected ErrInvalid for mutation at byte %d, got %v", i, err)
		}
	}
}

func TestValidate_Malformed(t *testing.T) {
	c, _ := NewCodec("test-secret")
	cases := []string{
		"",
		"no-dot-here",
		".",
		"onlybody.",
		".onlysig",
		"!!!notbase64.deadbeef",
	}
	for _, tc := range cases {
		if _, err := c.Validate(tc); err != ErrInvalid {
			t.Fatalf("expected ErrInvalid for %q, got %v", tc, err)
		}
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	a, _ := NewCodec("secret-a")
	b, _ := NewCodec("secret-b")
	tok, err := a.Issue("user-42", time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if _, err := b.Validate(tok); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid across secrets, got %v", err)
	}
}
