package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/meerkat-chat/meerkat/internal/message"
	"github.com/meerkat-chat/meerkat/internal/notice"
	"github.com/meerkat-chat/meerkat/internal/prune"
	"github.com/meerkat-chat/meerkat/internal/session"
)

const shortIDLen = 8

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

// renderView writes the timeline as plain text. now anchors relative times.
func renderView(w io.Writer, view session.View, now time.Time) {
	var status []string
	status = append(status, humanize.Comma(int64(len(view.Messages)))+" messages")
	if view.Countdown < 0 {
		status = append(status, "countdown off")
	} else {
		status = append(status, fmt.Sprintf("countdown %ds", view.Countdown))
	}
	if view.Connected {
		status = append(status, "live")
	} else {
		status = append(status, "offline")
	}
	if view.SuperiorOnly {
		if view.Degraded {
			status = append(status, "superior (fallback)")
		} else {
			status = append(status, "superior")
		}
	}
	fmt.Fprintf(w, "== %s · %s ==\n", view.Chatroom.Name, strings.Join(status, " · "))
	if view.HasOlder {
		fmt.Fprintln(w, "   (/older for earlier messages)")
	}
	for _, msg := range view.Messages {
		renderMessage(w, msg, now)
	}
}

func renderMessage(w io.Writer, msg message.Message, now time.Time) {
	name := msg.Sender.DisplayName
	if name == "" {
		name = fmt.Sprintf("user %d", msg.SenderID)
	}
	marker := " "
	if msg.RemovalState == message.Degraded {
		marker = "~"
	}
	fmt.Fprintf(w, "%s[%s] %s · %s\n", marker, shortID(msg.ID), name, humanize.RelTime(msg.CreatedAt, now, "ago", "from now"))
	for _, line := range strings.Split(prune.Fold(msg.Text, prune.Config{}), "\n") {
		fmt.Fprintf(w, "%s   %s\n", marker, line)
	}
	if msg.QuickReplies != nil {
		opts := make([]string, 0, len(msg.QuickReplies.Options))
		for i, opt := range msg.QuickReplies.Options {
			opts = append(opts, fmt.Sprintf("(%d) %s", i+1, opt.Label))
		}
		fmt.Fprintf(w, "%s   %s\n", marker, strings.Join(opts, "  "))
	}
}

func renderNotice(w io.Writer, n notice.Notice) {
	fmt.Fprintf(w, "! [%s] %s\n", n.Kind, n.Text)
}

// findMessage resolves a full id or a unique short prefix against the view.
func findMessage(view session.View, ref string) (message.Message, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return message.Message{}, fmt.Errorf("message id is required")
	}
	var (
		found message.Message
		count int
	)
	for _, msg := range view.Messages {
		if msg.ID == ref {
			return msg, nil
		}
		if strings.HasPrefix(msg.ID, ref) {
			found = msg
			count++
		}
	}
	switch count {
	case 0:
		return message.Message{}, fmt.Errorf("no message matches %q", ref)
	case 1:
		return found, nil
	default:
		return message.Message{}, fmt.Errorf("%q matches %d messages", ref, count)
	}
}
