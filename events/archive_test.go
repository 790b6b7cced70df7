package events

import (
	"bytes"
	"testing"

	"github.com/m-lab/netlinkctl/rtmsg"
)

func TestArchiveReplay(t *testing.T) {
	var buf bytes.Buffer
	w := NewArchiveWriter(&buf)

	link := &rtmsg.Link{Header: rtmsg.IfInfomsg{Index: 9}, Name: "dummy0", Kind: "dummy"}
	body := mustBuild(t, link.Build())
	if err := w.Write(rtmsg.RTM_NEWLINK, body); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Write(rtmsg.RTM_DELLINK, body); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	// A garbage record must be skipped, not fail the replay.
	if err := w.Write(rtmsg.RTM_NEWLINK, []byte{1}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	events, err := Replay(NewArchiveReader(&buf))
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("replayed %d events, want 2", len(events))
	}
	if events[0].Kind != KindNewLink || events[0].Link.Name != "dummy0" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Kind != KindDelLink {
		t.Errorf("second event kind = %v", events[1].Kind)
	}
}
