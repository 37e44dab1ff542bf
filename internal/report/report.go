// Package report implements the all-clear report form.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/meerkat-chat/meerkat/internal/api"
	"github.com/meerkat-chat/meerkat/internal/notice"
	"github.com/meerkat-chat/meerkat/internal/quickreply"
)

// ClearContent is pre-filled when the report type is switched to CLEAR.
const ClearContent = "이상 없습니다."

// MaxContentLength bounds the report content in characters.
const MaxContentLength = 200

var (
	// ErrSubmissionFailure is returned when the backend rejects or drops a report.
	ErrSubmissionFailure = errors.New("report submission failed")
	// ErrEmptyContent is returned when the content is blank.
	ErrEmptyContent = errors.New("report content is empty")
	// ErrInFlight is returned while a previous submission is pending.
	ErrInFlight = errors.New("report submission in flight")
	// ErrInvalidForm is returned when the form fails validation.
	ErrInvalidForm = errors.New("invalid report")
)

// Submitter files a report with the backend.
type Submitter interface {
	SubmitAllClearResponse(ctx context.Context, req api.AllClearResponseRequest) error
}

// Form is the editable state of one report. The zero value is not usable;
// use NewForm.
type Form struct {
	ChatroomID int64
	MessageID  string
	Type       api.AllClearResponseType
	Content    string

	mu         sync.Mutex
	submitting bool
}

// NewForm opens a CLEAR report for messageID.
func NewForm(chatroomID int64, messageID string) *Form {
	f := &Form{ChatroomID: chatroomID, MessageID: messageID}
	f.SetType(api.AllClearClear)
	return f
}

// SetType switches the verdict. CLEAR pre-fills the standard text and
// PROBLEM clears the content.
func (f *Form) SetType(t api.AllClearResponseType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Type = t
	switch t {
	case api.AllClearClear:
		f.Content = ClearContent
	case api.AllClearProblem:
		f.Content = ""
	}
}

// SetContent replaces the free-text content.
func (f *Form) SetContent(content string) {
	f.mu.Lock()
	f.Content = content
	f.mu.Unlock()
}

// Submitting reports whether the submit action is disabled.
func (f *Form) Submitting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitting
}

func (f *Form) begin() (api.AllClearResponseRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitting {
		return api.AllClearResponseRequest{}, ErrInFlight
	}
	f.submitting = true
	return api.AllClearResponseRequest{
		MessageID:            f.MessageID,
		AllClearResponseType: f.Type,
		Content:              f.Content,
	}, nil
}

func (f *Form) end() {
	f.mu.Lock()
	f.submitting = false
	f.mu.Unlock()
}

type formFields struct {
	ChatroomID int64                    `validate:"required"`
	MessageID  string                   `validate:"required"`
	Type       api.AllClearResponseType `validate:"required,oneof=CLEAR PROBLEM"`
	Content    string                   `validate:"max=200"`
}

// Reporter submits forms and raises the resulting notices.
type Reporter struct {
	submitter Submitter
	sink      notice.Sink
	logger    *slog.Logger
	validate  *validator.Validate
}

// NewReporter creates a reporter. A nil sink discards notices.
func NewReporter(log *slog.Logger, submitter Submitter, sink notice.Sink) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = notice.Discard
	}
	return &Reporter{
		submitter: submitter,
		sink:      sink,
		logger:    log.With(slog.String("component", "report")),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Submit files the form. On success it returns the intent back to the chat.
// On any failure the form is re-enabled and keeps its content.
func (r *Reporter) Submit(ctx context.Context, f *Form) (quickreply.Intent, error) {
	req, err := f.begin()
	if err != nil {
		return quickreply.Intent{}, err
	}
	defer f.end()

	if strings.TrimSpace(req.Content) == "" {
		r.sink.Notify(notice.Notice{Kind: notice.KindAlert, Text: notice.TextEmptyContent})
		return quickreply.Intent{}, ErrEmptyContent
	}
	if text, err := r.validateForm(f); err != nil {
		r.logger.Warn("report rejected", slog.String("message_id", req.MessageID), slog.Any("error", err))
		r.sink.Notify(notice.Notice{Kind: notice.KindAlert, Text: text})
		return quickreply.Intent{}, err
	}

	if err := r.submitter.SubmitAllClearResponse(ctx, req); err != nil {
		r.logger.Error("report submission failed",
			slog.String("message_id", req.MessageID),
			slog.String("type", string(req.AllClearResponseType)),
			slog.Any("error", err),
		)
		r.sink.Notify(notice.Notice{Kind: notice.KindError, Text: notice.TextCommunicationError})
		return quickreply.Intent{}, fmt.Errorf("%w: %w", ErrSubmissionFailure, err)
	}

	r.logger.Info("report submitted", slog.String("message_id", req.MessageID), slog.String("type", string(req.AllClearResponseType)))
	r.sink.Notify(notice.Notice{Kind: notice.KindInfo, Text: notice.TextReportDone})
	return quickreply.Chat(f.ChatroomID), nil
}

// validateForm returns the user-facing notice text alongside the detailed error.
func (r *Reporter) validateForm(f *Form) (string, error) {
	f.mu.Lock()
	snapshot := formFields{f.ChatroomID, f.MessageID, f.Type, f.Content}
	f.mu.Unlock()

	if err := r.validate.Struct(snapshot); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return noticeFor(fe), fmt.Errorf("%w %s: %s %s", ErrInvalidForm, strings.ToLower(fe.Field()), fe.Tag(), fe.Param())
		}
		return notice.TextServerProblem, fmt.Errorf("%w: %w", ErrInvalidForm, err)
	}
	return "", nil
}

func noticeFor(fe validator.FieldError) string {
	switch {
	case fe.Field() == "Content" && fe.Tag() == "max":
		return notice.TextContentTooLong
	case fe.Field() == "Type":
		return notice.TextInvalidReport
	default:
		return notice.TextServerProblem
	}
}
