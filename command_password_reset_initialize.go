package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

type InitializePasswordResetMessage struct {
	Username   string `json:"username" example:"pepe.rone@example.com" doc:"Username, email, or phone of the account."`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "auth.password_reset.initialize" }

// Validate checks the message payload.
func (p InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Username, validation.Required),
	)
}

// InitializePasswordResetResponse is identical whether or not the
// username exists. Username enumeration through this flow is a
// deliberate non-feature.
type InitializePasswordResetResponse struct {
	Accepted bool
}

type InitializePasswordResetHandler struct {
	repo      RepositoryManager
	tokens    *ActionTokenService
	messenger Messenger
	activity  ActivitySink
	logger    Logger
	baseURL   string
	tokenTTL  time.Duration
}

// NewInitializePasswordResetHandler creates a handler with sane defaults.
func NewInitializePasswordResetHandler(repo RepositoryManager, tokens *ActionTokenService) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:      repo,
		tokens:    tokens,
		messenger: noopMessenger{},
		activity:  noopActivitySink{},
		logger:    defLogger{},
	}
}

// WithMessenger sets the out-of-band delivery channel for the raw secret.
func (h *InitializePasswordResetHandler) WithMessenger(m Messenger) *InitializePasswordResetHandler {
	h.messenger = normalizeMessenger(m)
	return h
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithBaseURL sets the base used to build the reset link.
func (h *InitializePasswordResetHandler) WithBaseURL(baseURL string) *InitializePasswordResetHandler {
	h.baseURL = baseURL
	return h
}

// WithTokenTTL overrides the action token lifetime for this flow.
func (h *InitializePasswordResetHandler) WithTokenTTL(ttl time.Duration) *InitializePasswordResetHandler {
	h.tokenTTL = ttl
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password reset request")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp := &InitializePasswordResetResponse{Accepted: true}

	user, err := h.repo.Users().GetByIdentifier(ctx, event.Username)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// respond exactly as if the user existed
			h.logger.Debug("password reset requested for unknown identifier")
			h.respond(event, resp)
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
	}

	token, err := h.tokens.Issue(ctx, user, PurposePasswordReset, h.tokenTTL)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue password reset token")
	}

	// the raw secret travels out of band only, never in the response
	if err := h.messenger.Send(ctx, deliveryAddress(user), resetLinkMessage(h.baseURL, token.Secret)); err != nil {
		h.logger.Error("failed to deliver password reset message: %v", err)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to deliver password reset message")
	}

	h.recordActivity(ctx, user, token)
	h.respond(event, resp)

	return nil
}

func (h *InitializePasswordResetHandler) respond(event InitializePasswordResetMessage, resp *InitializePasswordResetResponse) {
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}
}

func (h *InitializePasswordResetHandler) recordActivity(ctx context.Context, user *User, token *ActionToken) {
	event := ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID: user.ID.String(),
		Metadata: map[string]any{
			"action_token_id": token.ID.String(),
		},
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during password reset request: %v", err)
	}
}
