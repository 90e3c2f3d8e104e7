package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type ConfirmRegistrationMessage struct {
	Secret     string `json:"secret" doc:"Raw confirmation token secret received out of band."`
	OnResponse func(resp *ConfirmRegistrationResponse)
}

func (p ConfirmRegistrationMessage) Type() string { return "auth.registration.confirm" }

// Validate checks the message payload.
func (p ConfirmRegistrationMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Secret, validation.Required),
	)
}

// ConfirmRegistrationResponse carries the verified user and a fresh
// access token reflecting the verified state.
type ConfirmRegistrationResponse struct {
	Token string
	User  *User
}

type ConfirmRegistrationHandler struct {
	repo     RepositoryManager
	tokens   *ActionTokenService
	access   TokenService
	activity ActivitySink
	logger   Logger
}

// NewConfirmRegistrationHandler creates a handler with sane defaults.
func NewConfirmRegistrationHandler(repo RepositoryManager, tokens *ActionTokenService, access TokenService) *ConfirmRegistrationHandler {
	return &ConfirmRegistrationHandler{
		repo:     repo,
		tokens:   tokens,
		access:   access,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit confirmation events.
func (h *ConfirmRegistrationHandler) WithActivitySink(sink ActivitySink) *ConfirmRegistrationHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *ConfirmRegistrationHandler) WithLogger(logger Logger) *ConfirmRegistrationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ConfirmRegistrationHandler) Execute(ctx context.Context, event ConfirmRegistrationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during registration confirmation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConfirmRegistrationHandler) execute(ctx context.Context, event ConfirmRegistrationMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration confirmation payload")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var user *User

	_, err := h.tokens.Consume(ctx, event.Secret, PurposeEmailConfirm, ReasonRegistrationConfirm, func(ctx context.Context, tx bun.Tx, token *ActionToken) error {
		verified, err := h.repo.Users().MarkVerifiedTx(ctx, tx, token.UserID)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark user verified")
		}
		user = verified
		return nil
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm registration")
	}

	fresh, err := h.access.Generate(NewIdentityFromUser(user))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reissue access token")
	}

	h.recordActivity(ctx, user)

	if event.OnResponse != nil {
		event.OnResponse(&ConfirmRegistrationResponse{
			Token: fresh,
			User:  user,
		})
	}

	return nil
}

func (h *ConfirmRegistrationHandler) recordActivity(ctx context.Context, user *User) {
	event := ActivityEvent{
		EventType: ActivityEventRegistrationConfirmed,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:     user.ID.String(),
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during registration confirmation: %v", err)
	}
}
