package dolphinbot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPIRouter(t testing.TB, bot *DolphinBot) *gin.Engine {
	t.Helper()
	return bot.apiRouter(slog.Default().With("test_name", t.Name()))
}

func apiGet(
	t testing.TB,
	router *gin.Engine,
	path string,
) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAPIHealth(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	router := newTestAPIRouter(t, bot)

	// not connected to the gateway
	w := apiGet(t, router, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["discord_connected"])

	bot.discord.connected.Store(true)
	w = apiGet(t, router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIListReviews(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	router := newTestAPIRouter(t, bot)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := bot.writeDB.Create(
			ctx,
			&Review{
				UserID:  fmt.Sprintf("user-%d", i),
				State:   ReviewStateCompleted,
				Overall: i,
			},
		)
		require.NoError(t, err)
	}

	w := apiGet(t, router, "/api/reviews")
	require.Equal(t, http.StatusOK, w.Code)

	var reviews []Review
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reviews))
	require.Len(t, reviews, 3)
	// newest first
	assert.Equal(t, "user-3", reviews[0].UserID)
	assert.Equal(t, "user-1", reviews[2].UserID)

	w = apiGet(t, router, "/api/reviews?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	reviews = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reviews))
	assert.Len(t, reviews, 2)
}

func TestAPIListLimitValidation(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	router := newTestAPIRouter(t, bot)

	for _, path := range []string{
		"/api/tickets?limit=0",
		"/api/tickets?limit=-1",
		"/api/tickets?limit=9999",
		"/api/tickets?limit=abc",
	} {
		w := apiGet(t, router, path)
		assert.Equalf(t, http.StatusBadRequest, w.Code, "path: %s", path)
	}
}

func TestAPIListModeration(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	router := newTestAPIRouter(t, bot)

	_, err := bot.writeDB.Create(
		context.Background(),
		&ModerationAction{
			Action:      moderationActionBan,
			TargetID:    "target",
			ModeratorID: "mod",
			Outcome:     moderationOutcomeSuccess,
		},
	)
	require.NoError(t, err)

	w := apiGet(t, router, "/api/moderation")
	require.Equal(t, http.StatusOK, w.Code)

	var actions []ModerationAction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &actions))
	require.Len(t, actions, 1)
	assert.Equal(t, moderationActionBan, actions[0].Action)
}
