package access

import (
	"fmt"
	"strings"
)

// Level is the totally ordered privilege tier attached to a confirmed account.
type Level int

const (
	ReadOnly Level = iota
	Support
	Admin
)

var names = map[Level]string{
	ReadOnly: "ReadOnly",
	Support:  "Support",
	Admin:    "Admin",
}

func (l Level) String() string {
	if name, ok := names[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Valid reports whether l is a known tier.
func (l Level) Valid() bool {
	_, ok := names[l]
	return ok
}

// AtLeast reports whether l sits at or above other in the privilege order.
func (l Level) AtLeast(other Level) bool {
	return l >= other
}

// RequiresApproval reports whether granting l needs human sign-off.
// Any tier above the lowest does.
func (l Level) RequiresApproval() bool {
	return l > ReadOnly
}

// Parse resolves a tier by name, case-insensitively.
func Parse(s string) (Level, error) {
	for lvl, name := range names {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return lvl, nil
		}
	}
	return ReadOnly, fmt.Errorf("unknown access level %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("unknown access level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	lvl, err := Parse(string(text))
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}
