package models

import "testing"

func TestAttributeValue(t *testing.T) {
	u := DirectoryUser{
		ID: "alice",
		Attributes: []Attribute{
			{Name: "discordid", Value: []string{"42"}},
			{Name: "empty", Value: nil},
		},
	}

	if got := u.DiscordID(); got != "42" {
		t.Fatalf("DiscordID() = %q, want %q", got, "42")
	}
	if got := u.AttributeValue("empty"); got != "" {
		t.Fatalf("empty attribute should yield \"\", got %q", got)
	}
	if got := u.AttributeValue("missing"); got != "" {
		t.Fatalf("missing attribute should yield \"\", got %q", got)
	}
}
