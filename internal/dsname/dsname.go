// Package dsname validates z/OS data set and member names.
package dsname

import (
	"fmt"
	"strings"
)

const (
	MaxDatasetLength   = 44
	MaxQualifierLength = 8
	MaxMemberLength    = 8
)

// Error is a validation failure detected before any remote call.
type Error struct {
	Name   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid name %q: %s", e.Name, e.Reason)
}

func isNational(c byte) bool {
	return c == '@' || c == '#' || c == '$'
}

func isAlpha(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// Normalize upper-cases and trims a name and strips surrounding quotes.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if len(name) >= 2 && name[0] == '\'' && name[len(name)-1] == '\'' {
		name = name[1 : len(name)-1]
	}
	return strings.ToUpper(name)
}

// ValidateDataset checks a fully qualified data set name.
func ValidateDataset(name string) error {
	if name == "" {
		return &Error{Name: name, Reason: "name is empty"}
	}
	if len(name) > MaxDatasetLength {
		return &Error{Name: name, Reason: fmt.Sprintf("longer than %d characters", MaxDatasetLength)}
	}
	for _, q := range strings.Split(name, ".") {
		if err := validateQualifier(q); err != nil {
			return &Error{Name: name, Reason: err.Error()}
		}
	}
	return nil
}

func validateQualifier(q string) error {
	if q == "" {
		return fmt.Errorf("empty qualifier")
	}
	if len(q) > MaxQualifierLength {
		return fmt.Errorf("qualifier %q longer than %d characters", q, MaxQualifierLength)
	}
	if !isAlpha(q[0]) && !isNational(q[0]) {
		return fmt.Errorf("qualifier %q must start with a letter or @ # $", q)
	}
	for i := 1; i < len(q); i++ {
		c := q[i]
		if !isAlpha(c) && !isDigit(c) && !isNational(c) && c != '-' {
			return fmt.Errorf("qualifier %q contains invalid character %q", q, c)
		}
	}
	return nil
}

// ValidateMember checks a PDS member name.
func ValidateMember(name string) error {
	if name == "" {
		return &Error{Name: name, Reason: "name is empty"}
	}
	if len(name) > MaxMemberLength {
		return &Error{Name: name, Reason: fmt.Sprintf("longer than %d characters", MaxMemberLength)}
	}
	if !isAlpha(name[0]) && !isNational(name[0]) {
		return &Error{Name: name, Reason: "must start with a letter or @ # $"}
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		if !isAlpha(c) && !isDigit(c) && !isNational(c) {
			return &Error{Name: name, Reason: fmt.Sprintf("invalid character %q", c)}
		}
	}
	return nil
}

// ValidatePattern checks a listing filter such as USER.*.COBOL or SYS1.**.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return &Error{Name: pattern, Reason: "pattern is empty"}
	}
	if len(pattern) > MaxDatasetLength {
		return &Error{Name: pattern, Reason: fmt.Sprintf("longer than %d characters", MaxDatasetLength)}
	}
	for _, q := range strings.Split(pattern, ".") {
		if q == "" {
			return &Error{Name: pattern, Reason: "empty qualifier"}
		}
		for i := 0; i < len(q); i++ {
			c := q[i]
			if !isAlpha(c) && !isDigit(c) && !isNational(c) && c != '-' && c != '*' && c != '%' {
				return &Error{Name: pattern, Reason: fmt.Sprintf("invalid character %q", c)}
			}
		}
	}
	return nil
}
