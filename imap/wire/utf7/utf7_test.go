package utf7

import "testing"

func TestRoundTrip(t *testing.T) {
	cases := []struct{ utf8, mod7 string }{
		{"Entwürfe", "Entw&APw-rfe"},
		{"INBOX", "INBOX"},
		{"&", "&-"},
		{"Sent & Received", "Sent &- Received"},
		{"日本語", "&ZeVnLIqe-"},
		{"", ""},
	}
	for _, c := range cases {
		got := string(Encode([]byte(c.utf8)))
		if got != c.mod7 {
			t.Errorf("Encode(%q) = %q, want %q", c.utf8, got, c.mod7)
		}
		back, err := Decode([]byte(c.mod7))
		if err != nil {
			t.Fatalf("Decode(%q): %v", c.mod7, err)
		}
		if string(back) != c.utf8 {
			t.Errorf("Decode(%q) = %q, want %q", c.mod7, back, c.utf8)
		}
	}
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode([]byte("&missing-close"))
	if err == nil {
		t.Fatal("expected error decoding unterminated shift sequence")
	}
}
