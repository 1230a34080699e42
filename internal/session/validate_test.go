package session

import "testing"

func TestValidateName(t *testing.T) {
	valid := []string{"main", "work-1", "a_b", "x"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "UPPER", "has space", "dot.name", "way/too/deep",
		"Аутентификация", "0123456789012345678901234567890123456789012345678901234567890123456789"}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}
