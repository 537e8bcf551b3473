package database

import "testing"

func TestRemoveDiacritics(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"José", "Jose"},
		{"Nur Aisyah", "Nur Aisyah"},
		{"Jiří", "Jiri"},
		{"", ""},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			if got := RemoveDiacritics(tc.input); got != tc.expected {
				t.Errorf("RemoveDiacritics(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"José García", "jose garcia"},
		{"  Ahmad   Bin  Ali ", "ahmad bin ali"},
		{"WONG mei-ling", "wong mei-ling"},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			if got := NormalizeName(tc.input); got != tc.expected {
				t.Errorf("NormalizeName(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}
