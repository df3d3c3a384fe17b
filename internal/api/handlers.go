package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"parley/internal/auth"
	"parley/internal/content"
	"parley/internal/models"
	"parley/internal/storage"
)

type authService interface {
	Signup(req auth.SignupRequest) (models.User, string, error)
	Login(req auth.LoginRequest) (models.User, string, error)
	Logoff(token string) error
	GetUserID(token string) (string, error)
}

// Store is the persistence the HTTP handlers work with.
type Store interface {
	GetUser(id string) (models.User, error)
	ListUsers() ([]models.User, error)
	UpdateProfile(id, username, about string) (models.User, error)

	SaveDirectMessage(msg models.DirectMessage) (models.DirectMessage, error)
	FindDirectMessages(filter storage.DirectMessageFilter) ([]models.DirectMessage, error)
	DeleteDirectMessage(id string) error

	CreateChannel(ch models.Channel) (models.Channel, error)
	ListChannels() ([]models.Channel, error)
	AddChannelMember(channelID, userID string) (models.Channel, error)
	SaveChannelMessage(msg models.ChannelMessage) (models.ChannelMessage, error)
	ListChannelMessages(channelID string) ([]models.ChannelMessage, error)
}

type presenceSource interface {
	Presence() []models.PresenceEntry
}

type API struct {
	auth        authService
	store       Store
	presence    presenceSource
	tokenExpiry time.Duration
	logger      *slog.Logger
}

type Options struct {
	// TokenExpiry sets the lifetime of the token cookie.
	TokenExpiry time.Duration
	Logger      *slog.Logger
}

func New(authSvc authService, store Store, presence presenceSource, opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	expiry := opts.TokenExpiry
	if expiry <= 0 {
		expiry = auth.DefaultTokenExpiry
	}
	return &API{
		auth:        authSvc,
		store:       store,
		presence:    presence,
		tokenExpiry: expiry,
		logger:      logger,
	}
}

type MessageResponse struct {
	Message string `json:"message"`
}

type AuthResponse struct {
	Message string      `json:"message"`
	User    models.User `json:"user"`
	Token   string      `json:"token"`
}

type ProfileResponse struct {
	Message string      `json:"message"`
	User    models.User `json:"user"`
}

type UsersResponse struct {
	Message string        `json:"message"`
	Users   []models.User `json:"users"`
}

type UpdateProfileRequest struct {
	Username string `json:"username"`
	About    string `json:"about"`
}

type DirectMessagesResponse struct {
	Message  string                 `json:"message"`
	Messages []models.DirectMessage `json:"messages"`
}

type SavedMessageResponse struct {
	Message     string               `json:"message"`
	MessageData models.DirectMessage `json:"messageData"`
}

type CreateChannelResponse struct {
	Success   bool   `json:"success"`
	ChannelID string `json:"channelId"`
}

type ChannelsResponse struct {
	Success  bool             `json:"success"`
	Channels []models.Channel `json:"channels"`
}

type ChannelResponse struct {
	Success bool           `json:"success"`
	Channel models.Channel `json:"channel"`
}

type AddMemberRequest struct {
	UserID string `json:"userId"`
}

type ChannelMessageResponse struct {
	Success bool                  `json:"success"`
	Message models.ChannelMessage `json:"message"`
}

type ChannelMessagesResponse struct {
	Success  bool                    `json:"success"`
	Messages []models.ChannelMessage `json:"messages"`
}

type PresenceResponse struct {
	Success  bool                   `json:"success"`
	Presence []models.PresenceEntry `json:"presence"`
}

type ctxKey struct{}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

func (a *API) writeMessage(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, MessageResponse{Message: message})
}

func (a *API) internalError(w http.ResponseWriter, what string, err error) {
	a.logger.Error(what, "error", err)
	a.writeMessage(w, http.StatusInternalServerError, "Internal server error")
}

func (a *API) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(a.tokenExpiry),
	})
}

func getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

// RequireAuth rejects requests without a valid token and passes the
// caller's user id on in the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.GetUserID(getToken(r))
		if err != nil {
			a.writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	}
}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (a *API) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.About = strings.TrimSpace(req.About)

	for _, err := range []error{
		content.ValidateUsername(req.Username),
		content.ValidateEmail(req.Email),
		content.ValidatePassword(req.Password),
		content.ValidateAbout(req.About),
	} {
		if err != nil {
			a.writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	req.About = content.Sanitize(req.About)

	user, token, err := a.auth.Signup(req)
	if errors.Is(err, auth.ErrUserExists) {
		a.writeMessage(w, http.StatusBadRequest, "User already exists")
		return
	}
	if err != nil {
		a.internalError(w, "signup failed", err)
		return
	}

	a.setTokenCookie(w, token)
	a.writeJSON(w, http.StatusOK, AuthResponse{
		Message: "User registered successfully",
		User:    user,
		Token:   token,
	})
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		a.writeMessage(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, token, err := a.auth.Login(req)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		a.writeMessage(w, http.StatusBadRequest, "Invalid credentials")
		return
	}
	if err != nil {
		a.internalError(w, "login failed", err)
		return
	}

	a.setTokenCookie(w, token)
	a.writeJSON(w, http.StatusOK, AuthResponse{
		Message: "Login successful",
		User:    user,
		Token:   token,
	})
}

func (a *API) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if token := getToken(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})
	a.writeMessage(w, http.StatusOK, "Logged out successfully")
}

func (a *API) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.store.GetUser(userIDFrom(r.Context()))
	if errors.Is(err, models.ErrNotFound) {
		a.writeMessage(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		a.internalError(w, "failed to load profile", err)
		return
	}
	a.writeJSON(w, http.StatusOK, ProfileResponse{Message: "User profile", User: user})
}

func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.ListUsers()
	if err != nil {
		a.internalError(w, "failed to list users", err)
		return
	}
	if len(users) == 0 {
		a.writeMessage(w, http.StatusNotFound, "No users found")
		return
	}
	a.writeJSON(w, http.StatusOK, UsersResponse{Message: "All users", Users: users})
}

func (a *API) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.About = strings.TrimSpace(req.About)

	if req.Username != "" {
		if err := content.ValidateUsername(req.Username); err != nil {
			a.writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := content.ValidateAbout(req.About); err != nil {
		a.writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.store.UpdateProfile(userIDFrom(r.Context()), req.Username, content.Sanitize(req.About))
	switch {
	case errors.Is(err, auth.ErrUserExists):
		a.writeMessage(w, http.StatusBadRequest, "Username is already taken")
		return
	case errors.Is(err, models.ErrNotFound):
		a.writeMessage(w, http.StatusNotFound, "User not found")
		return
	case err != nil:
		a.internalError(w, "failed to update profile", err)
		return
	}
	a.writeJSON(w, http.StatusOK, ProfileResponse{Message: "Profile updated", User: user})
}

// MessagesHandler returns the direct messages of the caller, optionally
// only those exchanged with ?peer=.
func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := a.store.FindDirectMessages(storage.DirectMessageFilter{
		UserID: userIDFrom(r.Context()),
		PeerID: r.URL.Query().Get("peer"),
	})
	if err != nil {
		a.internalError(w, "failed to load messages", err)
		return
	}
	if len(messages) == 0 {
		a.writeMessage(w, http.StatusNotFound, "No messages found")
		return
	}
	a.writeJSON(w, http.StatusOK, DirectMessagesResponse{Message: "All messages", Messages: messages})
}

func (a *API) SaveMessageHandler(w http.ResponseWriter, r *http.Request) {
	var msg models.DirectMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		a.writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	msg.Content = content.Sanitize(strings.TrimSpace(msg.Content))
	if msg.SenderID == "" || msg.ReceiverID == "" || msg.Content == "" {
		a.writeMessage(w, http.StatusBadRequest, "senderId, receiverId and content are required")
		return
	}

	saved, err := a.store.SaveDirectMessage(msg)
	if err != nil {
		a.internalError(w, "failed to save message", err)
		return
	}
	a.writeJSON(w, http.StatusCreated, SavedMessageResponse{Message: "Message saved", MessageData: saved})
}

func (a *API) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	err := a.store.DeleteDirectMessage(r.PathValue("id"))
	if errors.Is(err, models.ErrNotFound) {
		a.writeMessage(w, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		a.internalError(w, "failed to delete message", err)
		return
	}
	a.writeMessage(w, http.StatusOK, "Message deleted")
}

func (a *API) CreateChannelHandler(w http.ResponseWriter, r *http.Request) {
	var ch models.Channel
	if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
		a.writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	ch.Name = content.Sanitize(strings.TrimSpace(ch.Name))
	ch.Description = content.Sanitize(strings.TrimSpace(ch.Description))
	if ch.Name == "" || ch.CreatedBy == "" {
		a.writeMessage(w, http.StatusBadRequest, "name and createdBy are required")
		return
	}

	created, err := a.store.CreateChannel(ch)
	if err != nil {
		a.internalError(w, "failed to create channel", err)
		return
	}
	a.logger.Info("channel created", "channel_id", created.ID, "user_id", created.CreatedBy)
	a.writeJSON(w, http.StatusCreated, CreateChannelResponse{Success: true, ChannelID: created.ID})
}

func (a *API) ChannelsHandler(w http.ResponseWriter, r *http.Request) {
	channels, err := a.store.ListChannels()
	if err != nil {
		a.internalError(w, "failed to list channels", err)
		return
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	a.writeJSON(w, http.StatusOK, ChannelsResponse{Success: true, Channels: channels})
}

// AddMemberHandler changes the persisted member list only; live room
// membership is driven by joinChannel events.
func (a *API) AddMemberHandler(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		a.writeMessage(w, http.StatusBadRequest, "userId is required")
		return
	}

	ch, err := a.store.AddChannelMember(r.PathValue("id"), req.UserID)
	if errors.Is(err, models.ErrNotFound) {
		a.writeMessage(w, http.StatusNotFound, "Channel not found")
		return
	}
	if err != nil {
		a.internalError(w, "failed to add channel member", err)
		return
	}
	a.writeJSON(w, http.StatusOK, ChannelResponse{Success: true, Channel: ch})
}

func (a *API) SaveChannelMessageHandler(w http.ResponseWriter, r *http.Request) {
	var msg models.ChannelMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		a.writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	msg.Content = content.Sanitize(strings.TrimSpace(msg.Content))
	msg.SenderName = content.Sanitize(msg.SenderName)
	if msg.ChannelID == "" || msg.SenderID == "" || msg.Content == "" {
		a.writeMessage(w, http.StatusBadRequest, "channelId, senderId and content are required")
		return
	}

	saved, err := a.store.SaveChannelMessage(msg)
	if errors.Is(err, models.ErrNotFound) {
		a.writeMessage(w, http.StatusNotFound, "Channel not found")
		return
	}
	if err != nil {
		a.internalError(w, "failed to save channel message", err)
		return
	}
	a.writeJSON(w, http.StatusCreated, ChannelMessageResponse{Success: true, Message: saved})
}

func (a *API) ChannelMessagesHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := a.store.ListChannelMessages(r.PathValue("channelId"))
	if err != nil {
		a.internalError(w, "failed to list channel messages", err)
		return
	}
	if messages == nil {
		messages = []models.ChannelMessage{}
	}
	a.writeJSON(w, http.StatusOK, ChannelMessagesResponse{Success: true, Messages: messages})
}

func (a *API) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, PresenceResponse{Success: true, Presence: a.presence.Presence()})
}
