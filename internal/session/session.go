// Package session owns one chatroom session. It loads the chatroom, seeds
// the timeline, keeps the push channel open and serializes every mutation
// on a single event loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/meerkat-chat/meerkat/internal/api"
	"github.com/meerkat-chat/meerkat/internal/channel"
	"github.com/meerkat-chat/meerkat/internal/history"
	"github.com/meerkat-chat/meerkat/internal/message"
	"github.com/meerkat-chat/meerkat/internal/notice"
	"github.com/meerkat-chat/meerkat/internal/quickreply"
	"github.com/meerkat-chat/meerkat/internal/readtrack"
	"github.com/meerkat-chat/meerkat/internal/removal"
	"github.com/meerkat-chat/meerkat/internal/report"
	"github.com/meerkat-chat/meerkat/internal/roster"
	"github.com/meerkat-chat/meerkat/internal/superior"
)

// AllClearPrefix starts the text of every all-clear message.
const AllClearPrefix = "[이상무 보고]\n"

const (
	defaultPageSize          = 50
	defaultReconnectInterval = 3 * time.Second
	defaultTickInterval      = time.Second
	defaultReadInterval      = time.Second
	closeTimeout             = 5 * time.Second
	eventBuffer              = 64
)

var (
	ErrNotStarted     = errors.New("session not started")
	ErrAlreadyStarted = errors.New("session already started")
	ErrClosed         = errors.New("session closed")
	ErrEmptyText      = errors.New("message text is empty")
	ErrUnknownMessage = errors.New("unknown message")
	ErrNotSender      = errors.New("only the sender can report on an all-clear message")
)

// Backend is the REST surface a session uses.
type Backend interface {
	history.Fetcher
	superior.CommanderLookup
	report.Submitter
	readtrack.Client
	History(ctx context.Context, chatroomID int64, before string, limit int) (api.HistoryPage, error)
}

// Channel is the push channel a session subscribes through.
type Channel interface {
	Open(ctx context.Context, chatroomID int64, handlers channel.Handlers) (*channel.Handle, error)
	Close(ctx context.Context, handle *channel.Handle) error
	Emit(ctx context.Context, handle *channel.Handle, event string, payload any) error
}

// Config tunes a session.
type Config struct {
	ChatroomID int64
	ViewerID   int64

	HistoryPageSize   int
	ReconnectInterval time.Duration
	ReadInterval      time.Duration

	Countdown    int
	Policy       removal.Policy
	TickInterval time.Duration
}

// View is the rendered timeline.
type View struct {
	Chatroom     api.Chatroom
	Messages     []message.Message
	SuperiorOnly bool
	Degraded     bool
	Countdown    int
	Connected    bool
	HasOlder     bool
}

// Session is one chatroom session. Close must be called even when Start
// fails.
type Session struct {
	cfg     Config
	backend Backend
	channel Channel
	sink    notice.Sink
	logger  *slog.Logger

	store      *message.Store
	dispatcher *message.Dispatcher
	loader     *history.Loader
	scheduler  *removal.Scheduler
	filter     *superior.Filter
	quick      *quickreply.Handler
	reporter   *report.Reporter
	reads      *readtrack.Tracker
	reconnect  *rate.Limiter

	ctx      context.Context
	cancel   context.CancelFunc
	events   chan func()
	loopDone chan struct{}
	updates  chan struct{}
	bg       sync.WaitGroup

	lifeMu  sync.Mutex
	started bool
	closed  bool

	// Owned by the event loop.
	room       api.Chatroom
	handle     *channel.Handle
	connected  bool
	timer      *removal.Timer
	superiorOn bool
	resolution superior.Resolution
	nextBefore string
	hasOlder   bool
	closeErr   error
}

// New creates a session. Nothing runs until Start.
func New(log *slog.Logger, cfg Config, backend Backend, ch Channel, sink notice.Sink, nav quickreply.Navigator) *Session {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = notice.Discard
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = defaultPageSize
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.ReadInterval <= 0 {
		cfg.ReadInterval = defaultReadInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	log = log.With(slog.Int64("chatroom_id", cfg.ChatroomID), slog.Int64("viewer_id", cfg.ViewerID))
	sink = notice.Logging(log, sink)

	store := message.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:        cfg,
		backend:    backend,
		channel:    ch,
		sink:       sink,
		logger:     log.With(slog.String("component", "session")),
		store:      store,
		dispatcher: message.NewDispatcher(log, store, cfg.ViewerID),
		loader:     history.NewLoader(log, backend),
		scheduler:  removal.NewScheduler(log, store, cfg.Policy, cfg.Countdown),
		filter:     superior.NewFilter(log, backend, sink),
		quick:      quickreply.NewHandler(log, nav),
		reporter:   report.NewReporter(log, backend, sink),
		reads:      readtrack.NewTracker(log, backend, cfg.ChatroomID, cfg.ReadInterval),
		reconnect:  rate.NewLimiter(rate.Every(cfg.ReconnectInterval), 1),
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan func(), eventBuffer),
		loopDone:   make(chan struct{}),
		updates:    make(chan struct{}, 1),
	}
	store.Subscribe(func(message.Message, bool) { s.changed() })
	return s
}

// Updates signals after the timeline changed. Signals coalesce.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// IsLoading reports whether the chatroom snapshot is still loading. It stays
// true after a load failure.
func (s *Session) IsLoading() bool {
	return s.loader.IsLoading()
}

// Start loads the chatroom and roster, seeds the newest history page, opens
// the push channel and starts the removal timer. A load failure raises a
// notice and leaves the channel closed.
func (s *Session) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	switch {
	case s.closed:
		s.lifeMu.Unlock()
		return ErrClosed
	case s.started:
		s.lifeMu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	go s.loop()
	s.lifeMu.Unlock()

	snap, err := s.loader.Load(ctx, s.cfg.ChatroomID)
	if err != nil {
		s.sink.Notify(notice.Notice{Kind: notice.KindError, Text: notice.TextLoadFailure})
		return err
	}
	var startErr error
	if err := s.call(ctx, func() { startErr = s.begin(ctx, snap) }); err != nil {
		return err
	}
	return startErr
}

// Run starts the session and blocks until ctx is done or the session is
// closed. The session is closed on every return path.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := s.Close(closeCtx); err != nil {
			s.logger.Warn("session close failed", slog.Any("error", err))
		}
	}()
	if err := s.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return nil
	case <-s.ctx.Done():
		return nil
	}
}

// Close closes the push channel, stops the removal timer and flushes the
// pending read receipt. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.lifeMu.Unlock()

	s.cancel()
	var errs []error
	if started {
		select {
		case <-s.loopDone:
			errs = append(errs, s.closeErr)
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("wait for event loop: %w", ctx.Err()))
		}
	}
	s.bg.Wait()
	if err := s.reads.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush read receipt: %w", err))
	}
	s.logger.Info("session closed")
	return errors.Join(errs...)
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.ctx.Done():
			s.shutdown()
			return
		}
	}
}

// call runs fn on the event loop and waits for it.
func (s *Session) call(ctx context.Context, fn func()) error {
	s.lifeMu.Lock()
	started, closed := s.started, s.closed
	s.lifeMu.Unlock()
	if closed {
		return ErrClosed
	}
	if !started {
		return ErrNotStarted
	}

	done := make(chan struct{})
	select {
	case s.events <- func() { defer close(done); fn() }:
	case <-s.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.loopDone:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		select {
		case <-done:
			return nil
		default:
			return ctx.Err()
		}
	}
}

// post queues fn on the event loop without waiting. It is dropped once the
// session is closing.
func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.ctx.Done():
	}
}

// spawn runs fn in the background; Close waits for it.
func (s *Session) spawn(fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(s.ctx)
	}()
}

func (s *Session) changed() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Session) begin(ctx context.Context, snap history.Snapshot) error {
	s.room = snap.Chatroom
	s.dispatcher.SetRoster(snap.Roster)

	if err := s.loadPage(ctx, ""); err != nil {
		s.logger.Warn("initial history page failed", slog.Any("error", err))
		s.sink.Notify(notice.Notice{Kind: notice.KindAlert, Text: notice.TextCommunicationError})
	}
	if err := s.openChannel(ctx); err != nil {
		s.sink.Notify(notice.Notice{Kind: notice.KindError, Text: notice.TextCommunicationError})
		return err
	}

	timer, err := removal.NewTimer(s.logger, s.cfg.TickInterval, func() {
		s.post(func() {
			if s.scheduler.Recompute() > 0 {
				s.changed()
			}
		})
	})
	if err != nil {
		return err
	}
	s.timer = timer
	s.timer.Start()
	s.scheduler.Recompute()
	s.logger.Info("session started",
		slog.String("chatroom", s.room.Name),
		slog.Int("participants", snap.Roster.Len()),
		slog.Int("messages", s.store.Len()),
	)
	s.changed()
	return nil
}

func (s *Session) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if s.timer != nil {
		select {
		case <-s.timer.Stop().Done():
		case <-ctx.Done():
			s.logger.Warn("removal timer did not stop in time")
		}
		s.timer = nil
	}
	if s.handle != nil {
		if err := s.channel.Close(ctx, s.handle); err != nil {
			s.closeErr = fmt.Errorf("close channel: %w", err)
		}
		s.handle = nil
		s.connected = false
	}
}

// openChannel subscribes to the chatroom once the roster is known.
func (s *Session) openChannel(ctx context.Context) error {
	if s.handle != nil {
		return nil
	}
	if s.dispatcher.Roster().Empty() {
		s.logger.Warn("roster empty; push channel not opened")
		return nil
	}
	handle, err := s.channel.Open(ctx, s.cfg.ChatroomID, channel.Handlers{
		OnConnect: func() {
			s.post(func() {
				s.connected = true
				s.changed()
			})
		},
		OnMessage: func(raw message.RawEvent) {
			s.post(func() { s.receive(raw) })
		},
		OnDisconnect: func(cause error) {
			s.post(func() { s.disconnected(cause) })
		},
	})
	if err != nil {
		return err
	}
	s.handle = handle
	return nil
}

func (s *Session) receive(raw message.RawEvent) {
	msg, err := s.dispatcher.Dispatch(raw)
	if err != nil {
		var unknown *message.UnknownSenderError
		if errors.As(err, &unknown) {
			s.sink.Notify(notice.Notice{Kind: notice.KindInfo, Text: notice.TextServerProblem})
		}
		return
	}
	if msg.SenderID != s.cfg.ViewerID {
		id := msg.ID
		s.spawn(func(ctx context.Context) {
			if _, err := s.reads.MarkRead(ctx, id); err != nil {
				s.logger.Debug("read receipt failed", slog.String("message_id", id), slog.Any("error", err))
			}
		})
	}
	if s.scheduler.Recompute() > 0 {
		s.changed()
	}
}

func (s *Session) disconnected(cause error) {
	s.handle = nil
	s.connected = false
	s.changed()
	if s.ctx.Err() != nil {
		return
	}
	if s.dispatcher.Roster().Empty() {
		s.logger.Warn("push channel lost; roster empty, not reopening", slog.Any("error", cause))
		return
	}
	s.logger.Info("push channel lost; reopening", slog.Any("error", cause))
	s.spawn(func(ctx context.Context) {
		if err := s.reconnect.Wait(ctx); err != nil {
			return
		}
		s.post(func() {
			if err := s.openChannel(ctx); err != nil {
				s.logger.Warn("push channel reopen failed", slog.Any("error", err))
				s.disconnected(err)
			}
		})
	})
}

func (s *Session) loadPage(ctx context.Context, before string) error {
	page, err := s.backend.History(ctx, s.cfg.ChatroomID, before, s.cfg.HistoryPageSize)
	if err != nil {
		return err
	}
	inserted, err := s.dispatcher.Seed(page.Messages)
	if err != nil {
		s.logger.Warn("history rows dropped", slog.Any("error", err))
	}
	s.nextBefore = page.NextBefore
	s.hasOlder = page.NextBefore != ""
	s.logger.Debug("history page seeded", slog.Int("inserted", inserted), slog.Bool("has_older", s.hasOlder))
	return nil
}

// Send posts text to the chatroom. The message shows up locally at once and
// is confirmed by the push echo carrying the same id.
func (s *Session) Send(ctx context.Context, text string) (message.Message, error) {
	return s.send(ctx, text, false)
}

// SendAllClear posts an all-clear request. Recipients get quick replies.
func (s *Session) SendAllClear(ctx context.Context, text string) (message.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return s.send(ctx, "", true)
	}
	return s.send(ctx, AllClearPrefix+text, true)
}

func (s *Session) send(ctx context.Context, text string, allClear bool) (message.Message, error) {
	if strings.TrimSpace(text) == "" {
		s.sink.Notify(notice.Notice{Kind: notice.KindAlert, Text: notice.TextEmptyContent})
		return message.Message{}, ErrEmptyText
	}
	var (
		msg     message.Message
		sendErr error
	)
	err := s.call(ctx, func() {
		id := newMessageID()
		msg, sendErr = s.dispatcher.LocalSend(id, text, allClear)
		if sendErr != nil {
			return
		}
		sendErr = s.channel.Emit(ctx, s.handle, channel.EventSendMessage, channel.OutboundMessage{
			ID:              id,
			ChatroomID:      s.cfg.ChatroomID,
			Text:            text,
			HasQuickReplies: allClear,
		})
		if sendErr != nil {
			s.logger.Warn("send failed", slog.String("message_id", id), slog.Any("error", sendErr))
			if s.store.RetractLocal(id) {
				s.changed()
			}
			s.sink.Notify(notice.Notice{Kind: notice.KindError, Text: notice.TextCommunicationError})
		}
	})
	if err != nil {
		return message.Message{}, err
	}
	return msg, sendErr
}

// SelectQuickReply resolves a tap on a quick reply of a stored message. Only
// the options offered to this viewer on that message are accepted.
func (s *Session) SelectQuickReply(ctx context.Context, sel quickreply.Selection) (quickreply.Intent, error) {
	msg, ok := s.store.Get(sel.MessageID)
	if !ok {
		return quickreply.Intent{}, fmt.Errorf("%w: %s", ErrUnknownMessage, sel.MessageID)
	}
	if !slices.Contains(msg.QuickReplies.Values(), sel.Value) {
		s.logger.Warn("quick reply not offered",
			slog.String("message_id", sel.MessageID),
			slog.String("value", string(sel.Value)),
		)
		return quickreply.Intent{}, fmt.Errorf("%w: %q not offered on %s", quickreply.ErrUnknownKind, sel.Value, sel.MessageID)
	}
	return s.quick.Select(ctx, sel, s.cfg.ViewerID, s.cfg.ChatroomID)
}

// ToggleSuperior switches the commander-only view and returns the new
// state. Enabling it raises a notice and resolves the commander.
func (s *Session) ToggleSuperior(ctx context.Context) (bool, error) {
	var on bool
	err := s.call(ctx, func() {
		s.superiorOn = !s.superiorOn
		on = s.superiorOn
		if on {
			s.sink.Notify(superior.EnabledNotice())
			s.resolution = s.filter.Resolve(ctx, s.cfg.ChatroomID)
		}
		s.changed()
	})
	return on, err
}

// SetCountdown changes the removal countdown. Negative values disable it.
func (s *Session) SetCountdown(ctx context.Context, seconds int) (int, error) {
	var changed int
	err := s.call(ctx, func() {
		changed = s.scheduler.SetCountdown(seconds)
		s.changed()
	})
	return changed, err
}

// LoadOlder seeds the next older history page and returns how many messages
// were added. It is a no-op once the oldest page was loaded.
func (s *Session) LoadOlder(ctx context.Context) (int, error) {
	var (
		added   int
		loadErr error
	)
	err := s.call(ctx, func() {
		if !s.hasOlder {
			return
		}
		before := s.store.Len()
		if loadErr = s.loadPage(ctx, s.nextBefore); loadErr != nil {
			s.sink.Notify(notice.Notice{Kind: notice.KindError, Text: notice.TextCommunicationError})
			return
		}
		s.scheduler.Recompute()
		added = s.store.Len() - before
		s.changed()
	})
	if err != nil {
		return 0, err
	}
	return added, loadErr
}

// RefreshRoster reloads chatroom and roster and replaces the identity map.
// The push channel is opened if it was waiting for identities.
func (s *Session) RefreshRoster(ctx context.Context) error {
	snap, err := s.loader.Load(ctx, s.cfg.ChatroomID)
	if err != nil {
		s.sink.Notify(notice.Notice{Kind: notice.KindError, Text: notice.TextLoadFailure})
		return err
	}
	var openErr error
	if err := s.call(ctx, func() {
		s.room = snap.Chatroom
		s.dispatcher.SetRoster(snap.Roster)
		openErr = s.openChannel(ctx)
		s.changed()
	}); err != nil {
		return err
	}
	return openErr
}

// NewReportForm starts an all-clear report for messageID.
func (s *Session) NewReportForm(messageID string) (*report.Form, error) {
	msg, ok := s.store.Get(messageID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}
	if msg.QuickReplies == nil {
		return nil, fmt.Errorf("%w: %s is not an all-clear message", ErrUnknownMessage, messageID)
	}
	if msg.SenderID != s.cfg.ViewerID {
		return nil, fmt.Errorf("%w: %s was sent by user %d", ErrNotSender, messageID, msg.SenderID)
	}
	return report.NewForm(s.cfg.ChatroomID, messageID), nil
}

// SubmitReport files a report form and returns the follow-up intent.
func (s *Session) SubmitReport(ctx context.Context, form *report.Form) (quickreply.Intent, error) {
	return s.reporter.Submit(ctx, form)
}

// Unread lists who has not read messageID yet.
func (s *Session) Unread(ctx context.Context, messageID string) ([]roster.Identity, error) {
	return s.reads.Unread(ctx, messageID)
}

// Timeline renders the current view: removed messages are hidden and the
// commander-only projection applies when enabled.
func (s *Session) Timeline(ctx context.Context) (View, error) {
	var view View
	err := s.call(ctx, func() {
		msgs := removal.Visible(s.store.All())
		view = View{
			Chatroom:     s.room,
			SuperiorOnly: s.superiorOn,
			Countdown:    s.scheduler.Countdown(),
			Connected:    s.connected,
			HasOlder:     s.hasOlder,
		}
		if s.superiorOn {
			projection := superior.Apply(msgs, s.resolution, s.cfg.ViewerID)
			msgs = projection.Messages
			view.Degraded = projection.Degraded
		}
		view.Messages = msgs
	})
	return view, err
}
