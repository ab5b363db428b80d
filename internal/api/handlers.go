package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pulseboard/internal/assistant"
	"pulseboard/internal/google"
	"pulseboard/internal/jira"
	"pulseboard/internal/models"
	"pulseboard/internal/oauth"
	"pulseboard/internal/redis"
	"pulseboard/internal/slack"
	"pulseboard/internal/tasks"
)

func errJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

func oauthErrJSON(c *gin.Context, err error) {
	switch {
	case errors.Is(err, oauth.ErrUnknownProvider):
		errJSON(c, http.StatusNotFound, "unknown_provider", "no such provider")
	case errors.Is(err, oauth.ErrMissingCode):
		errJSON(c, http.StatusBadRequest, "missing_code", "authorization code required")
	case errors.Is(err, oauth.ErrStateMismatch):
		errJSON(c, http.StatusConflict, "state_mismatch", "state is unknown, expired or already used")
	case errors.Is(err, oauth.ErrProviderDenied):
		errJSON(c, http.StatusBadRequest, "provider_denied", "authorization was denied")
	case errors.Is(err, oauth.ErrTokenExchange):
		errJSON(c, http.StatusBadGateway, "token_exchange_failed", "provider rejected the code exchange")
	default:
		errJSON(c, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Pool.Ping(ctx); err != nil {
			resp["status"] = "degraded"
			resp["db"] = "down"
		}
	}

	c.JSON(http.StatusOK, resp)
}

// --- oauth -----------------------------------------------------------------

func (s *Server) connect(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	info, err := s.oauth.BeginConnect(ctx, s.userID(c), c.Param("provider"))
	if err != nil {
		oauthErrJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) exchange(c *gin.Context) {
	var body struct {
		Code  string `json:"code"`
		State string `json:"state"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		errJSON(c, http.StatusBadRequest, "invalid_body", "code and state required")
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	conn, err := s.oauth.Exchange(ctx, s.userID(c), c.Param("provider"), body.Code, body.State)
	if err != nil {
		oauthErrJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

func (s *Server) listConnections(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	out := gin.H{}
	for _, p := range []string{oauth.ProviderSlack, oauth.ProviderJira, oauth.ProviderGoogle} {
		connected, err := s.tokens.Connected(ctx, s.userID(c), p)
		if err != nil {
			errJSON(c, http.StatusInternalServerError, "internal_error", "could not read connections")
			return
		}
		out[p] = connected
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) disconnect(c *gin.Context) {
	providerName := c.Param("provider")
	switch providerName {
	case oauth.ProviderSlack, oauth.ProviderJira, oauth.ProviderGoogle:
	default:
		errJSON(c, http.StatusNotFound, "unknown_provider", "no such provider")
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	if err := s.tokens.Delete(ctx, s.userID(c), providerName); err != nil {
		errJSON(c, http.StatusInternalServerError, "internal_error", "could not disconnect")
		return
	}
	c.Status(http.StatusNoContent)
}

// providerToken loads a live credential or writes the not_connected error.
func (s *Server) providerToken(c *gin.Context, ctx context.Context, providerName string) (oauth.Token, bool) {
	tok, err := s.tokens.Get(ctx, s.userID(c), providerName)
	if err != nil {
		errJSON(c, http.StatusNotFound, "not_connected", providerName+" is not connected")
		return oauth.Token{}, false
	}
	if tok.Expired() {
		errJSON(c, http.StatusUnauthorized, "token_expired", providerName+" connection expired, reconnect")
		return oauth.Token{}, false
	}
	return tok, true
}

// cachedJSON serves a redis-cached response body if present. A miss is
// normal; any other cache error is logged and treated as a miss.
func (s *Server) cachedJSON(c *gin.Context, ctx context.Context, key string) bool {
	if s.redis == nil {
		return false
	}
	cached, err := s.redis.Get(ctx, key)
	if err != nil {
		if !redis.IsNil(err) {
			s.log.Warn("cache_read_failed", "key", key, "error", err)
		}
		return false
	}
	if cached == "" {
		return false
	}
	c.Header("X-Cache", "HIT")
	c.Data(http.StatusOK, "application/json", []byte(cached))
	return true
}

func (s *Server) cacheJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	if s.redis == nil {
		return
	}
	if data, err := json.Marshal(v); err == nil {
		_ = s.redis.Set(ctx, key, string(data), ttl)
	}
}

// --- slack -----------------------------------------------------------------

func (s *Server) slackClient(token string) *slack.Client {
	return slack.NewClient(token, s.slackCaller)
}

func (s *Server) slackChannels(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	cacheKey := fmt.Sprintf("slack:channels:%s", s.userID(c))
	if s.cachedJSON(c, ctx, cacheKey) {
		return
	}

	tok, ok := s.providerToken(c, ctx, oauth.ProviderSlack)
	if !ok {
		return
	}

	channels, err := s.slackClient(tok.AccessToken).ListConversations(ctx)
	if err != nil {
		s.log.Warn("slack_channels_failed", "user_id", s.userID(c), "error", err)
		errJSON(c, http.StatusBadGateway, "provider_error", "slack request failed")
		return
	}

	resp := gin.H{"channels": channels}
	s.cacheJSON(ctx, cacheKey, resp, 5*time.Minute)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) slackMessages(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	conversationID := c.Query("conversation_id")

	query := `SELECT conversation_id, conversation_name, conversation_type, message_ts,
	                 author_id, author_name, text, permalink, created_at
	          FROM slack_messages
	          WHERE user_id = $1`
	args := []interface{}{s.userID(c)}
	if conversationID != "" {
		query += ` AND conversation_id = $2`
		args = append(args, conversationID)
	}
	query += ` ORDER BY created_at DESC LIMIT 100`

	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		errJSON(c, http.StatusInternalServerError, "internal_error", "could not read messages")
		return
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ConversationID, &m.ConversationName, &m.ConversationType,
			&m.TS, &m.AuthorID, &m.AuthorName, &m.Text, &m.Permalink, &m.CreatedAt); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) slackMentions(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	mentionsList, err := s.loadMentions(ctx, s.userID(c), 50)
	if err != nil {
		errJSON(c, http.StatusInternalServerError, "internal_error", "could not read mentions")
		return
	}

	c.JSON(http.StatusOK, gin.H{"mentions": mentionsList})
}

func (s *Server) loadMentions(ctx context.Context, userID string, limit int) ([]models.Mention, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT id, conversation_id, conversation_name, message_text,
		        mentioned_by_id, mentioned_by_name, permalink,
		        COALESCE(message_created_at, created_at)
		 FROM slack_mentions
		 WHERE user_id = $1
		 ORDER BY COALESCE(message_created_at, created_at) DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Mention{}
	for rows.Next() {
		var m models.Mention
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ConversationName, &m.MessageText,
			&m.MentionedByUserID, &m.MentionedByName, &m.Permalink, &m.CreatedAt); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- jira and calendar -----------------------------------------------------

func (s *Server) jiraIssues(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	scope := c.DefaultQuery("scope", "assigned")
	if scope != "assigned" && scope != "all" {
		errJSON(c, http.StatusBadRequest, "invalid_parameter", "scope must be assigned or all")
		return
	}

	cacheKey := fmt.Sprintf("jira:issues:%s:%s", s.userID(c), scope)
	if s.cachedJSON(c, ctx, cacheKey) {
		return
	}

	tok, ok := s.providerToken(c, ctx, oauth.ProviderJira)
	if !ok {
		return
	}

	client := jira.NewClient(tok.ProviderAccountID, tok.SiteURL, tok.AccessToken, s.jiraCaller)

	var issues []models.JiraIssue
	var err error
	if scope == "assigned" {
		issues, err = client.AssignedIssues(ctx, 50)
	} else {
		issues, err = client.UnresolvedIssues(ctx, 50)
	}
	if err != nil {
		s.log.Warn("jira_issues_failed", "user_id", s.userID(c), "error", err)
		errJSON(c, http.StatusBadGateway, "provider_error", "jira request failed")
		return
	}

	resp := gin.H{"issues": issues}
	s.cacheJSON(ctx, cacheKey, resp, 5*time.Minute)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) calendarEvents(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	cacheKey := fmt.Sprintf("calendar:events:%s", s.userID(c))
	if s.cachedJSON(c, ctx, cacheKey) {
		return
	}

	tok, ok := s.providerToken(c, ctx, oauth.ProviderGoogle)
	if !ok {
		return
	}

	events, err := google.NewClient(tok.AccessToken, s.googleCaller).TodayEvents(ctx)
	if err != nil {
		s.log.Warn("calendar_events_failed", "user_id", s.userID(c), "error", err)
		errJSON(c, http.StatusBadGateway, "provider_error", "calendar request failed")
		return
	}

	resp := gin.H{"events": events}
	s.cacheJSON(ctx, cacheKey, resp, 2*time.Minute)
	c.JSON(http.StatusOK, resp)
}

// --- tasks -----------------------------------------------------------------

func (s *Server) listTasks(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	list, err := s.tasks.List(ctx, s.userID(c))
	if err != nil {
		errJSON(c, http.StatusInternalServerError, "internal_error", "could not read tasks")
		return
	}
	if list == nil {
		list = []models.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": list})
}

func (s *Server) createTask(c *gin.Context) {
	var body struct {
		Title string     `json:"title"`
		Notes string     `json:"notes"`
		DueAt *time.Time `json:"due_at"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Title == "" {
		errJSON(c, http.StatusBadRequest, "invalid_body", "title required")
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	t, err := s.tasks.Create(ctx, s.userID(c), body.Title, body.Notes, body.DueAt)
	if err != nil {
		errJSON(c, http.StatusInternalServerError, "internal_error", "could not create task")
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) updateTask(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errJSON(c, http.StatusBadRequest, "invalid_parameter", "invalid task id")
		return
	}

	var body struct {
		Title *string    `json:"title"`
		Notes *string    `json:"notes"`
		Done  *bool      `json:"done"`
		DueAt *time.Time `json:"due_at"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		errJSON(c, http.StatusBadRequest, "invalid_body", "malformed body")
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	t, err := s.tasks.Update(ctx, s.userID(c), id, body.Title, body.Notes, body.Done, body.DueAt)
	if errors.Is(err, tasks.ErrNotFound) {
		errJSON(c, http.StatusNotFound, "not_found", "no such task")
		return
	}
	if err != nil {
		errJSON(c, http.StatusInternalServerError, "internal_error", "could not update task")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) deleteTask(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errJSON(c, http.StatusBadRequest, "invalid_parameter", "invalid task id")
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	err = s.tasks.Delete(ctx, s.userID(c), id)
	if errors.Is(err, tasks.ErrNotFound) {
		errJSON(c, http.StatusNotFound, "not_found", "no such task")
		return
	}
	if err != nil {
		errJSON(c, http.StatusInternalServerError, "internal_error", "could not delete task")
		return
	}
	c.Status(http.StatusNoContent)
}

// --- assistant -------------------------------------------------------------

func (s *Server) chat(c *gin.Context) {
	var body struct {
		Messages []assistant.Message `json:"messages"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || len(body.Messages) == 0 {
		errJSON(c, http.StatusBadRequest, "invalid_body", "messages required")
		return
	}
	for _, m := range body.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			errJSON(c, http.StatusBadRequest, "invalid_body", "roles must be user or assistant")
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	reply, err := s.assistant.Chat(ctx, s.buildSnapshot(ctx, c), body.Messages)
	if err != nil {
		s.log.Warn("chat_failed", "user_id", s.userID(c), "error", err)
		errJSON(c, http.StatusBadGateway, "assistant_error", "assistant request failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

// buildSnapshot gathers whatever dashboard context is cheap to load. Each
// source is best effort; a missing connection just leaves its section empty.
func (s *Server) buildSnapshot(ctx context.Context, c *gin.Context) assistant.Snapshot {
	userID := s.userID(c)
	var snap assistant.Snapshot

	if mentionsList, err := s.loadMentions(ctx, userID, 10); err == nil {
		snap.Mentions = mentionsList
	}
	if list, err := s.tasks.List(ctx, userID); err == nil {
		snap.Tasks = list
	}

	if tok, err := s.tokens.Get(ctx, userID, oauth.ProviderJira); err == nil && !tok.Expired() {
		client := jira.NewClient(tok.ProviderAccountID, tok.SiteURL, tok.AccessToken, s.jiraCaller)
		if issues, err := client.AssignedIssues(ctx, 10); err == nil {
			snap.Issues = issues
		}
	}
	if tok, err := s.tokens.Get(ctx, userID, oauth.ProviderGoogle); err == nil && !tok.Expired() {
		if events, err := google.NewClient(tok.AccessToken, s.googleCaller).TodayEvents(ctx); err == nil {
			snap.Events = events
		}
	}

	return snap
}
