package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"parley/internal/auth"
	"parley/internal/models"
	"parley/internal/storage"
)

type staticPresence []models.PresenceEntry

func (p staticPresence) Presence() []models.PresenceEntry { return p }

type fixture struct {
	mux   *http.ServeMux
	store *storage.BboltStorage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	authService, err := auth.NewAuthService(ctx, auth.Config{
		Secret:      "test-secret",
		TokenExpiry: time.Hour,
		BcryptCost:  bcrypt.MinCost,
	}, store)
	require.NoError(t, err)

	a := New(authService, store, staticPresence{{UserID: "u1", ConnectionID: "c1", Status: models.StatusOnline}}, Options{})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/signup", a.SignupHandler)
	mux.HandleFunc("POST /auth/login", a.LoginHandler)
	mux.HandleFunc("POST /auth/logout", a.LogoutHandler)
	mux.HandleFunc("GET /profile", a.RequireAuth(a.ProfileHandler))
	mux.HandleFunc("GET /profile/userall", a.UsersHandler)
	mux.HandleFunc("PUT /profile/updateProfile", a.RequireAuth(a.UpdateProfileHandler))
	mux.HandleFunc("GET /message/messageall", a.RequireAuth(a.MessagesHandler))
	mux.HandleFunc("POST /message/savemessage", a.SaveMessageHandler)
	mux.HandleFunc("DELETE /message/deletemessage/{id}", a.DeleteMessageHandler)
	mux.HandleFunc("POST /channel/channels", a.CreateChannelHandler)
	mux.HandleFunc("GET /channel/channels", a.ChannelsHandler)
	mux.HandleFunc("POST /channel/channels/{id}/members", a.AddMemberHandler)
	mux.HandleFunc("POST /channel/messages", a.SaveChannelMessageHandler)
	mux.HandleFunc("GET /channel/messages/{channelId}", a.ChannelMessagesHandler)
	mux.HandleFunc("GET /presence", a.RequireAuth(a.PresenceHandler))

	return &fixture{mux: mux, store: store}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("token", token)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func (f *fixture) signup(t *testing.T, username string) AuthResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/auth/signup", "", auth.SignupRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "Str0ng!pass",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[AuthResponse](t, rec)
}

func TestAuthFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/signup", "", auth.SignupRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "Str0ng!pass",
		About:    "I write Go for fun.",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotEmpty(t, rec.Result().Cookies())
	signedUp := decode[AuthResponse](t, rec)
	require.Equal(t, "alice", signedUp.User.Username)
	require.NotEmpty(t, signedUp.Token)

	rec = f.do(t, http.MethodPost, "/auth/signup", "", auth.SignupRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "Str0ng!pass",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/login", "", auth.LoginRequest{Email: "alice@example.com", Password: "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Invalid credentials", decode[MessageResponse](t, rec).Message)

	rec = f.do(t, http.MethodPost, "/auth/login", "", auth.LoginRequest{Email: "alice@example.com", Password: "Str0ng!pass"})
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode[AuthResponse](t, rec).Token

	rec = f.do(t, http.MethodGet, "/profile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, signedUp.User.ID, decode[ProfileResponse](t, rec).User.ID)

	rec = f.do(t, http.MethodPost, "/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/profile", token, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignupValidation(t *testing.T) {
	f := newFixture(t)

	tests := map[string]auth.SignupRequest{
		"short username": {Username: "al", Email: "al@example.com", Password: "Str0ng!pass"},
		"bad email":      {Username: "alice", Email: "alice", Password: "Str0ng!pass"},
		"weak password":  {Username: "alice", Email: "alice@example.com", Password: "password"},
		"short about":    {Username: "alice", Email: "alice@example.com", Password: "Str0ng!pass", About: "hi"},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/auth/signup", "", req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestProfiles(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/profile/userall", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	alice := f.signup(t, "alice")
	f.signup(t, "bob")

	rec = f.do(t, http.MethodGet, "/profile/userall", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[UsersResponse](t, rec).Users, 2)

	rec = f.do(t, http.MethodPut, "/profile/updateProfile", alice.Token, UpdateProfileRequest{Username: "bob"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/profile/updateProfile", alice.Token, UpdateProfileRequest{
		Username: "alicia",
		About:    "<b>bold</b><script>x</script> and long",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[ProfileResponse](t, rec).User
	require.Equal(t, "alicia", updated.Username)
	require.Equal(t, "<b>bold</b> and long", updated.About)

	rec = f.do(t, http.MethodPut, "/profile/updateProfile", "", UpdateProfileRequest{Username: "x"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDirectMessages(t *testing.T) {
	f := newFixture(t)
	alice := f.signup(t, "alice")
	bob := f.signup(t, "bob")
	aliceID, bobID := alice.User.ID, bob.User.ID

	rec := f.do(t, http.MethodGet, "/message/messageall", alice.Token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/message/savemessage", "", models.DirectMessage{SenderID: aliceID})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/message/savemessage", "", models.DirectMessage{
		SenderID: aliceID, ReceiverID: bobID, Content: "hi <script>alert(1)</script>bob",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	saved := decode[SavedMessageResponse](t, rec).MessageData
	require.Equal(t, "hi bob", saved.Content)
	require.NotEmpty(t, saved.ID)

	rec = f.do(t, http.MethodPost, "/message/savemessage", "", models.DirectMessage{
		SenderID: bobID, ReceiverID: aliceID, Content: "hello alice",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(t, http.MethodPost, "/message/savemessage", "", models.DirectMessage{
		SenderID: bobID, ReceiverID: "carol", Content: "hello carol",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/message/messageall", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	messages := decode[DirectMessagesResponse](t, rec).Messages
	require.Len(t, messages, 2)
	require.Equal(t, saved.ID, messages[0].ID)

	rec = f.do(t, http.MethodGet, "/message/messageall?peer=carol", bob.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[DirectMessagesResponse](t, rec).Messages, 1)

	rec = f.do(t, http.MethodDelete, "/message/deletemessage/"+saved.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodDelete, "/message/deletemessage/"+saved.ID, "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChannels(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/channel/channels", "", models.Channel{Name: "general"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/channel/channels", "", models.Channel{Name: "general", Description: "all", CreatedBy: "u1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	general := decode[CreateChannelResponse](t, rec)
	require.True(t, general.Success)

	rec = f.do(t, http.MethodPost, "/channel/channels", "", models.Channel{Name: "random", CreatedBy: "u2"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/channel/channels", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	channels := decode[ChannelsResponse](t, rec).Channels
	require.Len(t, channels, 2)
	require.Equal(t, "random", channels[0].Name)
	require.Equal(t, []string{"u1"}, channels[1].Members)

	rec = f.do(t, http.MethodPost, "/channel/channels/"+general.ChannelID+"/members", "", AddMemberRequest{UserID: "u3"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"u1", "u3"}, decode[ChannelResponse](t, rec).Channel.Members)

	rec = f.do(t, http.MethodPost, "/channel/channels/missing/members", "", AddMemberRequest{UserID: "u3"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	for _, text := range []string{"first", "second"} {
		rec = f.do(t, http.MethodPost, "/channel/messages", "", models.ChannelMessage{
			ChannelID: general.ChannelID, SenderID: "u1", SenderName: "alice", Content: text,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/channel/messages", "", models.ChannelMessage{
		ChannelID: "missing", SenderID: "u1", Content: "lost",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/channel/messages/"+general.ChannelID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	messages := decode[ChannelMessagesResponse](t, rec).Messages
	require.Len(t, messages, 2)
	require.Equal(t, "first", messages[0].Content)
	require.Equal(t, "second", messages[1].Content)
}

func TestPresenceRequiresAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/presence", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	alice := f.signup(t, "alice")
	rec = f.do(t, http.MethodGet, "/presence", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []models.PresenceEntry{{UserID: "u1", ConnectionID: "c1", Status: models.StatusOnline}},
		decode[PresenceResponse](t, rec).Presence)
}
