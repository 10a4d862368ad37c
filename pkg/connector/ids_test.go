// Copyright 2024-2026 Aiku AI

package connector

import (
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeGroupName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already valid", "physics-101.a_b", "physics-101.a_b"},
		{"spaces", "Physics 101", "Physics_101"},
		{"accents", "Chimie générale été", "Chimie_generale_ete"},
		{"runs collapse", "Math  &  Stats!!", "Math_Stats"},
		{"trim underscores", "  (Biology)  ", "Biology"},
		{"only symbols", "!!! ???", ""},
		{"empty", "", ""},
		{"non latin", "Русский язык", ""},
		{"mixed script", "Art 美術 2", "Art_2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SanitizeGroupName(tt.in); got != tt.want {
				t.Errorf("SanitizeGroupName(%q): got %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeGroupName_Length(t *testing.T) {
	t.Parallel()
	got := SanitizeGroupName(strings.Repeat("a", 200))
	if len(got) != maxGroupNameLength {
		t.Errorf("expected %d characters, got %d", maxGroupNameLength, len(got))
	}
	got = SanitizeGroupName(strings.Repeat("a", maxGroupNameLength-1) + " b")
	if strings.HasSuffix(got, "_") {
		t.Errorf("expected truncated name without trailing underscore, got %q", got)
	}
}

func TestRenamedGroupName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		attempt int
		want    string
	}{
		{-1, "chem"},
		{0, "chem"},
		{1, "chem_1"},
		{12, "chem_12"},
	}
	for _, tt := range tests {
		if got := RenamedGroupName("chem", tt.attempt); got != tt.want {
			t.Errorf("RenamedGroupName(chem, %d): got %q, want %q", tt.attempt, got, tt.want)
		}
	}
}

var validGroupNameRe = regexp.MustCompile(`^[0-9A-Za-z._-]*$`)

func FuzzSanitizeGroupName(f *testing.F) {
	f.Add("Physics 101")
	f.Add("Chimie générale")
	f.Add("___")
	f.Add("Русский")
	f.Add(strings.Repeat("x ", 100))
	f.Fuzz(func(t *testing.T, name string) {
		got := SanitizeGroupName(name)
		if !validGroupNameRe.MatchString(got) {
			t.Errorf("SanitizeGroupName(%q) = %q contains disallowed characters", name, got)
		}
		if len(got) > maxGroupNameLength {
			t.Errorf("SanitizeGroupName(%q) = %q is too long", name, got)
		}
		if strings.HasPrefix(got, "_") || strings.HasSuffix(got, "_") {
			t.Errorf("SanitizeGroupName(%q) = %q has surrounding underscores", name, got)
		}
		if !utf8.ValidString(got) {
			t.Errorf("SanitizeGroupName(%q) = %q is not valid UTF-8", name, got)
		}
		if again := SanitizeGroupName(got); again != got {
			t.Errorf("SanitizeGroupName is not idempotent: %q -> %q", got, again)
		}
	})
}
