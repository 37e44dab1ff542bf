package notice

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestRecorderKeepsOrder(t *testing.T) {
	t.Parallel()

	var r Recorder
	r.Notify(Notice{Kind: KindInfo, Text: "a"})
	r.Notify(Notice{Kind: KindAlert, Text: "b"})

	texts := r.Texts()
	if len(texts) != 2 || texts[0] != "a" || texts[1] != "b" {
		t.Fatalf("unexpected texts: %v", texts)
	}
	notices := r.Notices()
	notices[0].Text = "mutated"
	if r.Texts()[0] != "a" {
		t.Fatalf("Notices must return a copy")
	}
}

func TestLoggingForwards(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var r Recorder
	sink := Logging(slog.New(slog.NewTextHandler(&buf, nil)), &r)
	sink.Notify(Notice{Kind: KindAlert, Text: TextSuperiorFallback})

	if got := r.Texts(); len(got) != 1 || got[0] != TextSuperiorFallback {
		t.Fatalf("notice not forwarded: %v", got)
	}
	if !strings.Contains(buf.String(), "kind=alert") {
		t.Fatalf("notice not logged: %s", buf.String())
	}
}
