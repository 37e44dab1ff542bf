package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meerkat-chat/meerkat/internal/api"
	"github.com/meerkat-chat/meerkat/internal/auth"
	"github.com/meerkat-chat/meerkat/internal/channel"
	"github.com/meerkat-chat/meerkat/internal/logger"
	"github.com/meerkat-chat/meerkat/internal/notice"
	"github.com/meerkat-chat/meerkat/internal/quickreply"
	"github.com/meerkat-chat/meerkat/internal/removal"
	"github.com/meerkat-chat/meerkat/internal/report"
	"github.com/meerkat-chat/meerkat/internal/session"
)

const chatHelp = `commands:
  <text>                               send a message
  /allclear <text>                     send an all-clear message
  /reply <id> <n>                      choose quick reply n of a message
  /report <id> <clear|problem> [text]  file an all-clear report
  /unread <id>                         list who has not read a message
  /superior                            toggle the commander-only view
  /countdown <seconds>                 set the removal countdown (-1 disables)
  /older                               load earlier messages
  /refresh                             reload chatroom members
  /help                                show this help
  /quit                                leave`

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a chatroom in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			chatroomID, _ := cmd.Flags().GetInt64("chatroom")
			token, _ := cmd.Flags().GetString("token")
			if token == "" {
				token = cfg.Auth.Token
			}
			viewerID, err := auth.ViewerIDFromToken(token)
			if err != nil {
				return fmt.Errorf("auth token: %w", err)
			}
			countdown := cfg.Removal.CountdownSeconds
			if cmd.Flags().Changed("countdown") {
				countdown, _ = cmd.Flags().GetInt("countdown")
			}

			client, err := api.NewClient(cfg.API.BaseURL, token, cfg.API.TimeoutDuration())
			if err != nil {
				return err
			}
			manager := channel.NewManager(logger.L, &channel.WebsocketTransport{
				URL:   cfg.Socket.URL,
				Path:  cfg.Socket.Path,
				Token: token,
			})

			r := &repl{out: cmd.OutOrStdout()}
			sess := session.New(logger.L, session.Config{
				ChatroomID:        chatroomID,
				ViewerID:          viewerID,
				HistoryPageSize:   cfg.Session.HistoryPageSize,
				ReconnectInterval: cfg.Session.ReconnectDuration(),
				Countdown:         countdown,
				Policy:            removal.Policy{DegradeFraction: cfg.Removal.DegradeFraction},
				TickInterval:      cfg.Removal.TickDuration(),
			}, client, manager, notice.SinkFunc(r.notify), quickreply.NavigatorFunc(r.navigate))
			r.sess = sess

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return r.run(ctx, cmd.InOrStdin())
		},
	}
	cmd.Flags().Int64("chatroom", 1, "chatroom id to join")
	cmd.Flags().String("token", "", "access token (overrides auth.token)")
	cmd.Flags().Int("countdown", removal.Disabled, "removal countdown in seconds (overrides removal.countdown_seconds)")
	return cmd
}

type repl struct {
	sess *session.Session
	out  io.Writer
	mu   sync.Mutex
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) notify(n notice.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	renderNotice(r.out, n)
}

func (r *repl) navigate(_ context.Context, intent quickreply.Intent) error {
	switch intent.Kind {
	case quickreply.OpenReportWorkflow:
		r.printf("-> report on %s: /report %s <clear|problem> [text]\n", shortID(intent.MessageID), shortID(intent.MessageID))
	case quickreply.OpenMyReportWorkflow, quickreply.OpenStatisticsWorkflow:
		r.printf("-> %s for %s: /unread %s\n", intent.Kind, shortID(intent.MessageID), shortID(intent.MessageID))
	default:
		r.printf("-> %s\n", intent.Kind)
	}
	return nil
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.sess.Close(closeCtx)
	}()
	if err := r.sess.Start(ctx); err != nil {
		return err
	}
	r.printf("%s\n", chatHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.sess.Done():
			return nil
		case <-r.sess.Updates():
			r.render(ctx)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := r.handle(ctx, line)
			if err != nil {
				r.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (r *repl) render(ctx context.Context) {
	view, err := r.sess.Timeline(ctx)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	renderView(r.out, view, time.Now())
}

// parseCommand splits a slash command into its name and arguments. Plain
// text yields an empty name.
func parseCommand(line string) (string, []string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", nil
	}
	fields := strings.Fields(line)
	return strings.ToLower(strings.TrimPrefix(fields[0], "/")), fields[1:]
}

// restAfter returns the raw text following the first n fields of line.
func restAfter(line string, n int) string {
	rest := strings.TrimSpace(line)
	for i := 0; i < n; i++ {
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			return ""
		}
		rest = strings.TrimSpace(rest[idx:])
	}
	return rest
}

func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	name, args := parseCommand(line)
	switch name {
	case "":
		if strings.TrimSpace(line) == "" {
			return false, nil
		}
		_, err := r.sess.Send(ctx, line)
		return false, err
	case "quit", "exit":
		return true, nil
	case "help":
		r.printf("%s\n", chatHelp)
		return false, nil
	case "allclear":
		_, err := r.sess.SendAllClear(ctx, restAfter(line, 1))
		return false, err
	case "superior":
		on, err := r.sess.ToggleSuperior(ctx)
		if err == nil {
			r.printf("superior view %s\n", onOff(on))
		}
		return false, err
	case "countdown":
		if len(args) != 1 {
			return false, errors.New("usage: /countdown <seconds>")
		}
		seconds, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("invalid countdown %q", args[0])
		}
		changed, err := r.sess.SetCountdown(ctx, seconds)
		if err == nil {
			r.printf("countdown set, %d messages changed\n", changed)
		}
		return false, err
	case "older":
		added, err := r.sess.LoadOlder(ctx)
		if err == nil && added == 0 {
			r.printf("no earlier messages\n")
		}
		return false, err
	case "refresh":
		return false, r.sess.RefreshRoster(ctx)
	case "reply":
		return false, r.reply(ctx, args)
	case "report":
		return false, r.report(ctx, line, args)
	case "unread":
		return false, r.unread(ctx, args)
	default:
		return false, fmt.Errorf("unknown command /%s", name)
	}
}

func (r *repl) lookup(ctx context.Context, ref string) (string, error) {
	view, err := r.sess.Timeline(ctx)
	if err != nil {
		return "", err
	}
	msg, err := findMessage(view, ref)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (r *repl) reply(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: /reply <id> <n>")
	}
	view, err := r.sess.Timeline(ctx)
	if err != nil {
		return err
	}
	msg, err := findMessage(view, args[0])
	if err != nil {
		return err
	}
	if msg.QuickReplies == nil {
		return fmt.Errorf("message %s has no quick replies", shortID(msg.ID))
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 || n > len(msg.QuickReplies.Options) {
		return fmt.Errorf("choose an option between 1 and %d", len(msg.QuickReplies.Options))
	}
	_, err = r.sess.SelectQuickReply(ctx, quickreply.Selection{
		MessageID: msg.ID,
		Value:     msg.QuickReplies.Options[n-1].Value,
	})
	return err
}

func (r *repl) report(ctx context.Context, line string, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: /report <id> <clear|problem> [text]")
	}
	id, err := r.lookup(ctx, args[0])
	if err != nil {
		return err
	}
	form, err := r.sess.NewReportForm(id)
	if err != nil {
		return err
	}
	if err := fillReportForm(form, line, args[1]); err != nil {
		return err
	}
	_, err = r.sess.SubmitReport(ctx, form)
	return err
}

// fillReportForm applies the verdict and, when given, the text after it.
// A bare "clear" keeps the pre-filled content.
func fillReportForm(form *report.Form, line, verdict string) error {
	switch strings.ToLower(verdict) {
	case "clear":
		form.SetType(api.AllClearClear)
	case "problem":
		form.SetType(api.AllClearProblem)
	default:
		return fmt.Errorf("unknown report type %q", verdict)
	}
	if text := restAfter(line, 3); text != "" {
		form.SetContent(text)
	}
	return nil
}

func (r *repl) unread(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /unread <id>")
	}
	id, err := r.lookup(ctx, args[0])
	if err != nil {
		return err
	}
	people, err := r.sess.Unread(ctx, id)
	if err != nil {
		return err
	}
	if len(people) == 0 {
		r.printf("everyone has read %s\n", shortID(id))
		return nil
	}
	names := make([]string, 0, len(people))
	for _, p := range people {
		names = append(names, p.DisplayName)
	}
	r.printf("%d unread: %s\n", len(people), strings.Join(names, ", "))
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
