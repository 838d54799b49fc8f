package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeTokens hands out "token-1", then "token-2" after a refresh.
type fakeTokens struct {
	refreshes atomic.Int32
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) {
	if f.refreshes.Load() > 0 {
		return "token-2", nil
	}
	return "token-1", nil
}

func (f *fakeTokens) Refresh(ctx context.Context) error {
	f.refreshes.Add(1)
	return nil
}

func newClient(t *testing.T, handler http.HandlerFunc) (*Client, *fakeTokens) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tokens := &fakeTokens{}
	c := NewClient(srv.URL, tokens)
	// NewClient appends /api/graphql; the stub answers any path
	require.NoError(t, c.Initialize(context.Background()))
	return c, tokens
}

func TestUnauthorizedRefreshesAndRetriesOnce(t *testing.T) {
	var hits atomic.Int32
	c, tokens := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer token-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data": {"users": [{"id": "alice"}]}}`))
	})

	exists, err := c.DiscordIDExists(context.Background(), "42")
	require.NoError(t, err)
	require.True(t, exists)
	require.EqualValues(t, 2, hits.Load())
	require.EqualValues(t, 1, tokens.refreshes.Load())
}

func TestSecondUnauthorizedPropagatesWithoutThirdAttempt(t *testing.T) {
	var hits atomic.Int32
	c, tokens := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.DiscordIDExists(context.Background(), "42")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
	require.EqualValues(t, 2, hits.Load(), "exactly one retry after refresh")
	require.EqualValues(t, 1, tokens.refreshes.Load())
}

func TestNonUnauthorizedFailureIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	c, tokens := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.EmailExists(context.Background(), "a@b.c")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusInternalServerError, apiErr.Status)
	require.EqualValues(t, 1, hits.Load())
	require.EqualValues(t, 0, tokens.refreshes.Load())
}

func TestGraphQLErrorsPropagate(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": null, "errors": [{"message": "UNIQUE constraint failed: users.email"}]}`))
	})

	_, err := c.CreateUser(context.Background(), CreateUserInput{ID: "alice"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.True(t, IsUniqueViolation(err))
}

func TestGroupMembersDecoding(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OperationName string         `json:"operationName"`
			Variables     map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "GetGroupDetails", req.OperationName)
		require.EqualValues(t, 3, req.Variables["id"])
		_, _ = w.Write([]byte(`{"data": {"group": {"users": [
			{"id": "alice", "displayName": "Alice", "attributes": [{"name": "discordid", "value": ["111"]}]},
			{"id": "bob", "displayName": "Bob", "attributes": []}
		]}}}`))
	})

	members, err := c.GroupMembers(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, "111", members[0].DiscordID())
	require.Equal(t, "", members[1].DiscordID())
}

func TestGroupMembersMissingGroup(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"group": null}}`))
	})

	members, err := c.GroupMembers(context.Background(), 99)
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestUserIDByDiscordIDNoMatch(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"users": []}}`))
	})

	id, err := c.UserIDByDiscordID(context.Background(), "404")
	require.NoError(t, err)
	require.Equal(t, "", id)
}
