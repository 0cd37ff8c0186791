package viewmodel

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"chat-client/internal/models"
	"chat-client/internal/observable"
)

// ContactAPI is the request/response API behind the contact screens.
type ContactAPI interface {
	SearchUsers(ctx context.Context, token, query string) ([]models.User, error)
	SendFriendRequest(ctx context.Context, token, userID string) (bool, error)
	AcceptFriendRequest(ctx context.Context, token, userID string) (bool, error)
	PendingRequests(ctx context.Context, token string) ([]models.User, error)
}

// FriendSignaler relays friend-request outcomes over the realtime channel.
type FriendSignaler interface {
	SendFriendRequestSignal(ctx context.Context, userID string) error
	RefreshUsers(ctx context.Context)
}

// ContactViewModel wraps user search and friend requests.
type ContactViewModel struct {
	api     ContactAPI
	signals FriendSignaler

	results   *observable.Value[[]models.User]
	searching *observable.Value[bool]
	pending   *observable.Value[[]models.User]
	lastError *observable.Value[string]

	mu    sync.Mutex
	token string
}

// NewContactViewModel builds the view-model. signals may be nil.
func NewContactViewModel(api ContactAPI, signals FriendSignaler) *ContactViewModel {
	return &ContactViewModel{
		api:       api,
		signals:   signals,
		results:   observable.New[[]models.User](nil),
		searching: observable.New(false),
		pending:   observable.New[[]models.User](nil),
		lastError: observable.New(""),
	}
}

func (vm *ContactViewModel) SearchResults() *observable.Value[[]models.User]   { return vm.results }
func (vm *ContactViewModel) Searching() *observable.Value[bool]                { return vm.searching }
func (vm *ContactViewModel) PendingRequests() *observable.Value[[]models.User] { return vm.pending }

// LastError holds the most recent API failure, empty after a success.
func (vm *ContactViewModel) LastError() *observable.Value[string] { return vm.lastError }

func (vm *ContactViewModel) SetToken(token string) {
	vm.mu.Lock()
	vm.token = token
	vm.mu.Unlock()
}

func (vm *ContactViewModel) authToken() string {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.token
}

func (vm *ContactViewModel) report(op string, err error) {
	if err == nil {
		vm.lastError.Set("")
		return
	}
	log.Warn().Err(err).Str("op", op).Msg("contact request failed")
	vm.lastError.Set(err.Error())
}

// SearchUsers replaces the search results. A blank query is ignored; a failed
// search yields no results.
func (vm *ContactViewModel) SearchUsers(ctx context.Context, query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return
	}
	vm.searching.Set(true)
	defer vm.searching.Set(false)

	users, err := vm.api.SearchUsers(ctx, vm.authToken(), query)
	vm.report("search", err)
	if err != nil {
		users = nil
	}
	vm.results.Set(users)
}

func (vm *ContactViewModel) ClearSearchResults() {
	vm.results.Set(nil)
}

// SendFriendRequest asks userID to become a friend. On success the user
// leaves the search results.
func (vm *ContactViewModel) SendFriendRequest(ctx context.Context, userID string) bool {
	ok, err := vm.api.SendFriendRequest(ctx, vm.authToken(), userID)
	vm.report("send_request", err)
	if err != nil || !ok {
		return false
	}
	vm.results.Update(func(cur []models.User) []models.User {
		next := make([]models.User, 0, len(cur))
		for _, u := range cur {
			if u.ID != userID {
				next = append(next, u)
			}
		}
		return next
	})
	if vm.signals != nil {
		if err := vm.signals.SendFriendRequestSignal(ctx, userID); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("friend request signal not delivered")
		}
	}
	return true
}

// AcceptFriendRequest accepts a pending request and refreshes the pending
// list and the user list.
func (vm *ContactViewModel) AcceptFriendRequest(ctx context.Context, userID string) bool {
	ok, err := vm.api.AcceptFriendRequest(ctx, vm.authToken(), userID)
	vm.report("accept_request", err)
	if err != nil || !ok {
		return false
	}
	vm.FetchPendingRequests(ctx)
	if vm.signals != nil {
		vm.signals.RefreshUsers(ctx)
	}
	return true
}

// FetchPendingRequests reloads incoming requests. The list is kept as is when
// the call fails.
func (vm *ContactViewModel) FetchPendingRequests(ctx context.Context) {
	users, err := vm.api.PendingRequests(ctx, vm.authToken())
	vm.report("pending", err)
	if err != nil {
		return
	}
	vm.pending.Set(users)
}
