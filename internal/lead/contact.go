package lead

import (
	"fmt"
	"net/mail"
	"strings"
)

type Contact struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Company   string `json:"company,omitempty"`
}

func (c Contact) Validate() error {
	if c.Email != "" {
		if _, err := mail.ParseAddress(c.Email); err != nil {
			return fmt.Errorf("invalid email address %q", c.Email)
		}
	}
	if c.Phone != "" && len(digits(c.Phone)) < 10 {
		return fmt.Errorf("phone number must contain at least 10 digits")
	}
	return nil
}

func (c Contact) FullName() string {
	first := strings.TrimSpace(c.FirstName)
	last := strings.TrimSpace(c.LastName)
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	default:
		return last
	}
}

func (c Contact) HasContactMethod() bool {
	return c.Email != "" || c.Phone != ""
}

// SameContact decides whether two leads came from the same person.
// Precedence is strict: email evidence decides when both sides have an
// email, phone decides next, name is the weakest signal. A mismatch at a
// higher level is never overridden by a match at a lower one.
func SameContact(a, b Contact) bool {
	if a.Email != "" && b.Email != "" {
		return strings.EqualFold(strings.TrimSpace(a.Email), strings.TrimSpace(b.Email))
	}

	if a.Phone != "" && b.Phone != "" {
		p1, p2 := digits(a.Phone), digits(b.Phone)
		if len(p1) < 10 || len(p2) < 10 {
			return false
		}
		return p1[len(p1)-10:] == p2[len(p2)-10:]
	}

	n1, n2 := a.FullName(), b.FullName()
	if n1 != "" && n2 != "" {
		return strings.EqualFold(n1, n2)
	}

	return false
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
