package auth

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

type RegisterUserMessage struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
	UseHashid bool

	// PhoneRegion is the default region used to parse national phone
	// numbers, e.g. "US". Leave empty to require E.164 input.
	PhoneRegion string

	OnResponse func(resp *RegisterUserResponse)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// Validate checks the message payload.
func (e RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, is.Email),
		validation.Field(&e.Password, validation.Required, validation.Length(8, 128)),
	)
}

// RegisterUserResponse carries the stored user. The confirmation secret
// travels out of band through the Messenger, never in the response.
type RegisterUserResponse struct {
	User *User
}

type RegisterUserHandler struct {
	repo      RepositoryManager
	tokens    *ActionTokenService
	messenger Messenger
	activity  ActivitySink
	logger    Logger
	baseURL   string
	tokenTTL  time.Duration
}

// NewRegisterUserHandler creates a handler with sane defaults.
func NewRegisterUserHandler(repo RepositoryManager, tokens *ActionTokenService) *RegisterUserHandler {
	return &RegisterUserHandler{
		repo:      repo,
		tokens:    tokens,
		messenger: noopMessenger{},
		activity:  noopActivitySink{},
		logger:    defLogger{},
	}
}

// WithMessenger sets the out-of-band delivery channel for the
// confirmation secret.
func (h *RegisterUserHandler) WithMessenger(m Messenger) *RegisterUserHandler {
	h.messenger = normalizeMessenger(m)
	return h
}

// WithActivitySink sets the sink used to emit registration events.
func (h *RegisterUserHandler) WithActivitySink(sink ActivitySink) *RegisterUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithBaseURL sets the base used to build the confirmation link.
func (h *RegisterUserHandler) WithBaseURL(baseURL string) *RegisterUserHandler {
	h.baseURL = baseURL
	return h
}

// WithTokenTTL overrides the confirmation token lifetime.
func (h *RegisterUserHandler) WithTokenTTL(ttl time.Duration) *RegisterUserHandler {
	h.tokenTTL = ttl
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration payload")
	}

	user := &User{}
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	hash, err := HashPassword(event.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	phone, err := normalizePhone(event.Phone, event.PhoneRegion)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid phone number")
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user.PasswordHash = hash
		user.Email = event.Email
		user.Phone = phone
		user.FirstName = event.FirstName
		user.LastName = event.LastName
		user.Username = getUsername(event.Username, event.Email)
		if event.UseHashid {
			if id, err := hashid.NewUUID(event.Email); err == nil {
				user.ID = id
			}
		}

		if user, err = h.repo.Users().CreateTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	token, err := h.tokens.Issue(ctx, user, PurposeEmailConfirm, h.tokenTTL)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue confirmation token")
	}

	if err := h.messenger.Send(ctx, deliveryAddress(user), confirmLinkMessage(h.baseURL, token.Secret)); err != nil {
		h.logger.Error("failed to deliver confirmation message: %v", err)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to deliver confirmation message")
	}

	h.recordActivity(ctx, user, token)

	if event.OnResponse != nil {
		event.OnResponse(&RegisterUserResponse{User: user})
	}

	return nil
}

func (h *RegisterUserHandler) recordActivity(ctx context.Context, user *User, token *ActionToken) {
	event := ActivityEvent{
		EventType: ActivityEventUserRegistered,
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
		h.logger.Warn("activity sink error during registration: %v", err)
	}
}

func getUsername(username, email string) string {
	if username != "" {
		return username
	}

	if strings.Contains(email, "@") {
		username = strings.Split(email, "@")[0]
	}

	return username
}

// normalizePhone parses and reformats a phone number as E.164. Empty
// input passes through, phone is optional.
func normalizePhone(phone, region string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", nil
	}

	parsed, err := phonenumbers.Parse(phone, region)
	if err != nil {
		return "", err
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
