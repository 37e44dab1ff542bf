// Package notice carries user-visible messages raised by session components.
package notice

import (
	"log/slog"
	"sync"
)

// Kind is the presentation of a notice.
type Kind string

const (
	KindInfo  Kind = "info"
	KindAlert Kind = "alert"
	KindError Kind = "error"
)

// User-visible texts.
const (
	TextServerProblem      = "서버에 문제가 발생했습니다."
	TextSuperiorFallback   = "상급자 정보를 불러오지 못했습니다. 나의 메세지만 생략합니다."
	TextSuperiorOnly       = "최상급자의 메세지만 표시됩니다."
	TextEmptyContent       = "내용을 입력해 주세요."
	TextReportDone         = "보고가 완료되었습니다."
	TextCommunicationError = "서버와의 통신이 원활하지 않습니다."
	TextLoadFailure        = "채팅방 정보를 불러오지 못했습니다."
	TextContentTooLong     = "내용은 200자 이내로 입력해 주세요."
	TextInvalidReport      = "보고 유형을 선택해 주세요."
)

// Notice is one user-visible message.
type Notice struct {
	Kind Kind
	Text string
}

// Sink receives notices.
type Sink interface {
	Notify(n Notice)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(n Notice)

func (f SinkFunc) Notify(n Notice) { f(n) }

// Discard drops every notice.
var Discard Sink = SinkFunc(func(Notice) {})

// Recorder collects notices in order.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

// Notices returns a copy of everything recorded so far.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Texts returns the recorded texts in order.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.notices))
	for _, n := range r.notices {
		out = append(out, n.Text)
	}
	return out
}

// Logging wraps next and logs every notice at info level.
func Logging(log *slog.Logger, next Sink) Sink {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "notice"))
	if next == nil {
		next = Discard
	}
	return SinkFunc(func(n Notice) {
		log.Info("notice", slog.String("kind", string(n.Kind)), slog.String("text", n.Text))
		next.Notify(n)
	})
}
