package dvm

import (
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func key(c string) string {
	return strings.Repeat(c, 64)
}

func TestParseRequestSeparateInputs(t *testing.T) {
	ev := &nostr.Event{
		Kind: requestKind,
		Tags: nostr.Tags{
			{"i", key("a"), "text"},
			{"i", key("b"), "text"},
			{"param", "max_hops", "4"},
		},
	}
	from, to, maxHops, err := parseRequest(ev)
	if err != nil {
		t.Fatalf("parseRequest: %v", err)
	}
	if from != key("a") || to != key("b") {
		t.Errorf("from/to = %s/%s", from, to)
	}
	if maxHops != 4 {
		t.Errorf("maxHops = %d, want 4", maxHops)
	}
}

func TestParseRequestColonPair(t *testing.T) {
	ev := &nostr.Event{
		Kind: requestKind,
		Tags: nostr.Tags{
			{"i", key("a") + ":" + key("b"), "text"},
		},
	}
	from, to, maxHops, err := parseRequest(ev)
	if err != nil {
		t.Fatalf("parseRequest: %v", err)
	}
	if from != key("a") || to != key("b") {
		t.Errorf("from/to = %s/%s", from, to)
	}
	if maxHops != 0 {
		t.Errorf("maxHops = %d, want 0 (default)", maxHops)
	}
}

func TestParseRequestWrongInputCount(t *testing.T) {
	ev := &nostr.Event{
		Kind: requestKind,
		Tags: nostr.Tags{{"i", key("a"), "text"}},
	}
	if _, _, _, err := parseRequest(ev); err == nil {
		t.Error("single input should be rejected")
	}

	ev.Tags = nostr.Tags{}
	if _, _, _, err := parseRequest(ev); err == nil {
		t.Error("no inputs should be rejected")
	}
}

func TestParseRequestIgnoresBadParam(t *testing.T) {
	ev := &nostr.Event{
		Kind: requestKind,
		Tags: nostr.Tags{
			{"i", key("a"), "text"},
			{"i", key("b"), "text"},
			{"param", "max_hops", "many"},
		},
	}
	_, _, maxHops, err := parseRequest(ev)
	if err != nil {
		t.Fatalf("parseRequest: %v", err)
	}
	if maxHops != 0 {
		t.Errorf("maxHops = %d, want 0 for unparsable param", maxHops)
	}
}
