package threads

import "testing"

func TestChannelNameRoundTrip(t *testing.T) {
	name := ChannelName("123456789012345678")
	if name != "modmail-123456789012345678" {
		t.Fatalf("unexpected channel name %q", name)
	}

	userID, ok := ParseChannelName(name)
	if !ok {
		t.Fatal("expected name to parse")
	}
	if userID != "123456789012345678" {
		t.Fatalf("expected user id back, got %q", userID)
	}
}

func TestParseChannelNameRejectsForeignNames(t *testing.T) {
	cases := []string{
		"general",
		"modmail-",
		"modmail-not-a-user",
		"modmail-123abc",
		"mail-12345",
	}
	for _, name := range cases {
		if _, ok := ParseChannelName(name); ok {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
}
