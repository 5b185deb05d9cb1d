package transport

import "testing"

func TestActionRoundTrip(t *testing.T) {
	cases := []Action{
		RegenerateAction{InputID: "42:17"},
		AllowActorAction{ActorID: 99},
		BlockActorAction{ActorID: -5},
	}
	for _, a := range cases {
		got := DecodeAction(EncodeAction(a))
		if got != a {
			t.Fatalf("round trip: got %#v, want %#v", got, a)
		}
	}
}

func TestDecodeActionRejectsGarbage(t *testing.T) {
	for _, data := range []string{
		"", "msg", "msg.generate", "msg.generate.", "user.allow.notanumber",
		"user.unknown.5", "reset_ctx",
	} {
		if a := DecodeAction(data); a != nil {
			t.Fatalf("decoded %q into %#v, want nil", data, a)
		}
	}
}
