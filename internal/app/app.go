// Package app ties the stored session, the realtime repository and the
// view-models into one login lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"chat-client/internal/models"
	"chat-client/internal/observable"
	"chat-client/internal/realtime"
	"chat-client/internal/session"
	"chat-client/internal/telemetry"
	"chat-client/internal/viewmodel"
)

var ErrNotLoggedIn = errors.New("not logged in")

// Realtime is the session-facing side of the realtime repository.
type Realtime interface {
	Connect(ctx context.Context, creds models.Credentials) error
	Disconnect()
	Reset(ctx context.Context)
	Hydrate(ctx context.Context) error
	State() *observable.Value[models.ConnectionState]
}

type App struct {
	store    session.Store
	realtime Realtime
	chat     *viewmodel.ChatViewModel
	contacts *viewmodel.ContactViewModel
	audit    *telemetry.AuditEmitter

	mu    sync.Mutex
	creds models.Credentials
}

// New wires the lifecycle. audit may be nil.
func New(store session.Store, rt Realtime, chat *viewmodel.ChatViewModel, contacts *viewmodel.ContactViewModel, audit *telemetry.AuditEmitter) *App {
	return &App{store: store, realtime: rt, chat: chat, contacts: contacts, audit: audit}
}

func (a *App) Chat() *viewmodel.ChatViewModel                   { return a.chat }
func (a *App) Contacts() *viewmodel.ContactViewModel            { return a.contacts }
func (a *App) Audit() *telemetry.AuditEmitter                   { return a.audit }
func (a *App) State() *observable.Value[models.ConnectionState] { return a.realtime.State() }

// Credentials returns the active session, if any.
func (a *App) Credentials() (models.Credentials, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creds, a.creds.Token != ""
}

// Login stores creds and connects. A missing user id is read from the token.
// Logging in as another user first discards the previous user's state.
func (a *App) Login(ctx context.Context, creds models.Credentials) (models.Credentials, error) {
	creds, err := session.Complete(creds)
	if err != nil {
		return creds, err
	}
	if err := a.store.Save(ctx, creds); err != nil {
		return creds, err
	}
	if err := a.start(ctx, creds); err != nil {
		return creds, err
	}
	a.emit(ctx, "INFO", "user logged in", creds.UserID)
	return creds, nil
}

// Resume reconnects with stored credentials. It reports false when nothing
// is stored.
func (a *App) Resume(ctx context.Context) (bool, error) {
	creds, err := a.store.Load(ctx)
	if errors.Is(err, session.ErrNoCredentials) {
		log.Info().Msg("no stored session, waiting for login")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	creds, err = session.Complete(creds)
	if err != nil {
		return false, fmt.Errorf("stored session unusable: %w", err)
	}
	if err := a.start(ctx, creds); err != nil {
		return true, err
	}
	a.emit(ctx, "INFO", "session resumed", creds.UserID)
	return true, nil
}

func (a *App) start(ctx context.Context, creds models.Credentials) error {
	a.mu.Lock()
	prev := a.creds
	a.creds = creds
	a.mu.Unlock()

	if prev.UserID != "" && prev.UserID != creds.UserID {
		a.teardown(ctx)
	}

	a.chat.SetCurrentUser(creds.UserID)
	a.contacts.SetToken(creds.Token)
	if err := a.realtime.Hydrate(ctx); err != nil {
		log.Warn().Err(err).Msg("cache hydration failed")
	}
	if err := a.realtime.Connect(ctx, creds); err != nil {
		return fmt.Errorf("connect realtime: %w", err)
	}
	log.Info().Str("user_id", creds.UserID).Msg("session started")
	return nil
}

// Logout disconnects, forgets every piece of session state and clears the
// stored credentials.
func (a *App) Logout(ctx context.Context) error {
	a.mu.Lock()
	creds := a.creds
	a.creds = models.Credentials{}
	a.mu.Unlock()
	if creds.Token == "" {
		return ErrNotLoggedIn
	}

	a.teardown(ctx)
	a.chat.SetCurrentUser("")
	a.contacts.SetToken("")
	if err := a.store.Clear(ctx); err != nil {
		return err
	}
	a.emit(ctx, "INFO", "user logged out", creds.UserID)
	return nil
}

func (a *App) teardown(ctx context.Context) {
	a.realtime.Disconnect()
	a.realtime.Reset(ctx)
	if err := a.chat.SetActiveRoom(ctx, ""); err != nil {
		log.Warn().Err(err).Msg("clearing active room failed")
	}
	a.contacts.ClearSearchResults()
}

func (a *App) emit(ctx context.Context, level, text, userID string) {
	a.audit.Emit(ctx, level, text, "", &userID)
}

var (
	_ Realtime                 = (*realtime.Repository)(nil)
	_ viewmodel.ChatRepository = (*realtime.Repository)(nil)
	_ viewmodel.FriendSignaler = (*realtime.Repository)(nil)
)
