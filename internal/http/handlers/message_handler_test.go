package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mvasilak/go-messenger-backend/internal/domain"
	"github.com/mvasilak/go-messenger-backend/internal/repo"
	"github.com/mvasilak/go-messenger-backend/internal/services"
)

// ---------- test plumbing ----------

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&domain.User{}, &domain.Conversation{}, &domain.Message{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func mkUser(t *testing.T, db *gorm.DB, username string) *domain.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), db, username, username, "Tester", username+"@example.com", "")
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

// Handlers.New expects interfaces in this package; stubs satisfy them. Each
// field is optional; unset operations fail the test if reached.

type stubMsgSvc struct {
	t             *testing.T
	send          func(ctx context.Context, senderID, receiverID uint64, body string) (*domain.Message, error)
	listConv      func(ctx context.Context, userID, peerID uint64) ([]domain.Message, error)
	listSince     func(ctx context.Context, userID, afterID uint64) ([]domain.Message, error)
	conversations func(ctx context.Context, userID uint64) ([]domain.ConversationSummary, error)
	addConv       func(ctx context.Context, userID, contactID uint64) (*domain.UserSummary, error)
	search        func(ctx context.Context, userID uint64, term string) ([]services.UserMatch, error)
}

func (s stubMsgSvc) Send(ctx context.Context, senderID, receiverID uint64, body string) (*domain.Message, error) {
	if s.send == nil {
		s.t.Fatalf("Send should not be called")
	}
	return s.send(ctx, senderID, receiverID, body)
}

func (s stubMsgSvc) ListConversation(ctx context.Context, userID, peerID uint64) ([]domain.Message, error) {
	if s.listConv == nil {
		s.t.Fatalf("ListConversation should not be called")
	}
	return s.listConv(ctx, userID, peerID)
}

func (s stubMsgSvc) ListSince(ctx context.Context, userID, afterID uint64) ([]domain.Message, error) {
	if s.listSince == nil {
		s.t.Fatalf("ListSince should not be called")
	}
	return s.listSince(ctx, userID, afterID)
}

func (s stubMsgSvc) Conversations(ctx context.Context, userID uint64) ([]domain.ConversationSummary, error) {
	if s.conversations == nil {
		s.t.Fatalf("Conversations should not be called")
	}
	return s.conversations(ctx, userID)
}

func (s stubMsgSvc) AddConversation(ctx context.Context, userID, contactID uint64) (*domain.UserSummary, error) {
	if s.addConv == nil {
		s.t.Fatalf("AddConversation should not be called")
	}
	return s.addConv(ctx, userID, contactID)
}

func (s stubMsgSvc) SearchUsers(ctx context.Context, userID uint64, term string) ([]services.UserMatch, error) {
	if s.search == nil {
		s.t.Fatalf("SearchUsers should not be called")
	}
	return s.search(ctx, userID, term)
}

type stubPollSvc struct {
	t    *testing.T
	wait func(ctx context.Context, userID, afterID uint64) (services.PollResult, error)
}

func (s stubPollSvc) Wait(ctx context.Context, userID, afterID uint64) (services.PollResult, error) {
	if s.wait == nil {
		s.t.Fatalf("Wait should not be called")
	}
	return s.wait(ctx, userID, afterID)
}

// ---------- helpers-only unit tests ----------

func Test_sanitizeBody_and_idemKey(t *testing.T) {
	raw := "  line1\r\n\r\n\r\n\r\nline2\rline3  "
	got := sanitizeBody(raw)
	want := "line1\n\nline2\nline3"
	if got != want {
		t.Fatalf("sanitizeBody: got %q want %q", got, want)
	}
	if sanitizeBody(" \r\n\t ") != "" {
		t.Fatalf("sanitizeBody should trim to empty")
	}

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("Idempotency-Key", "k-1")
	c.Request = req
	k, ok := middlewareGetIdempotencyKey(c)
	if !ok || k != "k-1" {
		t.Fatalf("idem key: %v %q", ok, k)
	}

	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/", nil)
	k, ok = middlewareGetIdempotencyKey(c)
	if ok || k != "" {
		t.Fatalf("expected no idempotency key, got ok=%v key=%q", ok, k)
	}
}

func Test_discoverMaxBodyRunes_AllPaths(t *testing.T) {
	// non-*MessageService -> fallback
	if got := discoverMaxBodyRunes(stubMsgSvc{t: t}); got != services.DefaultMaxBodyRunes {
		t.Fatalf("fallback for non-*MessageService, got %d", got)
	}
	// *MessageService with MaxBodyRunes <= 0 -> fallback
	if got := discoverMaxBodyRunes(&services.MessageService{MaxBodyRunes: 0}); got != services.DefaultMaxBodyRunes {
		t.Fatalf("fallback when MaxBodyRunes<=0, got %d", got)
	}
	if got := discoverMaxBodyRunes(&services.MessageService{MaxBodyRunes: 123}); got != 123 {
		t.Fatalf("expected 123, got %d", got)
	}
}

// ---------- PostMessage ----------

func TestPostMessage_Identity_Binding_TooLong(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := New(stubMsgSvc{t: t}, stubPollSvc{t: t})
	r := gin.New()
	r.POST("/messages", h.PostMessage)

	// no identity
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(`{"receiver_id":7,"body":"x"}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no identity -> %d", w.Code)
	}

	// binding error (missing body)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(`{"receiver_id":7}`))
	req.Header.Set("X-User-ID", "3")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("binding error -> %d", w.Code)
	}

	// missing receiver_id
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(`{"body":"hello"}`))
	req.Header.Set("X-User-ID", "3")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing receiver -> %d", w.Code)
	}

	// too long body (discoverMaxBodyRunes uses *services.MessageService)
	db := newTestDB(t)
	ms := &services.MessageService{DB: db, MaxBodyRunes: 5}
	h2 := New(ms, stubPollSvc{t: t})
	r2 := gin.New()
	r2.POST("/messages", h2.PostMessage)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(`{"receiver_id":7,"body":"123456"}`))
	req.Header.Set("X-User-ID", "3")
	r2.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("too long -> %d", w.Code)
	}
	if !regexp.MustCompile(`max 5`).Match(w.Body.Bytes()) {
		t.Fatalf("expected max count in message, got %s", w.Body.String())
	}
}

func TestPostMessage_EmptyAfterSanitize(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(stubMsgSvc{t: t}, stubPollSvc{t: t}) // send unset: must not be reached

	r := gin.New()
	r.POST("/messages", h.PostMessage)

	w := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"receiver_id":7,"body":"  \r\n \n\t "}`)
	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "3")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty-after-sanitize, got %d", w.Code)
	}
}

func TestPostMessage_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var gotSender, gotReceiver uint64
	var gotBody string
	h := New(stubMsgSvc{
		t: t,
		send: func(ctx context.Context, senderID, receiverID uint64, body string) (*domain.Message, error) {
			gotSender, gotReceiver, gotBody = senderID, receiverID, body
			return &domain.Message{ID: 31, SenderID: senderID, ReceiverID: receiverID, Body: body}, nil
		},
	}, stubPollSvc{t: t})

	r := gin.New()
	r.POST("/messages", h.PostMessage)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(`{"receiver_id":7,"body":" hello \r\nthere "}`))
	req.Header.Set("X-User-ID", "3")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("send -> %d body=%s", w.Code, w.Body.String())
	}
	if gotSender != 3 || gotReceiver != 7 || gotBody != "hello \nthere" {
		t.Fatalf("service got sender=%d receiver=%d body=%q", gotSender, gotReceiver, gotBody)
	}
	var resp PostMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Message == nil || resp.Message.ID != 31 {
		t.Fatalf("unexpected body: %#v", resp)
	}
}

func TestPostMessage_ErrorMappings(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"receiver_not_found", services.ErrReceiverNotFound, http.StatusNotFound},
		{"self_message", services.ErrSelfMessage, http.StatusBadRequest},
		{"too_long", services.ErrBodyTooLong, http.StatusBadRequest},
		{"empty_body", services.ErrEmptyBody, http.StatusBadRequest},
		{"generic_500", gorm.ErrInvalidField, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := New(stubMsgSvc{
				t: t,
				send: func(ctx context.Context, senderID, receiverID uint64, body string) (*domain.Message, error) {
					return nil, tc.err
				},
			}, stubPollSvc{t: t})

			r := gin.New()
			r.POST("/messages", h.PostMessage)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(`{"receiver_id":7,"body":"hello"}`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-User-ID", "3")
			r.ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Fatalf("want %d, got %d body=%s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestPostMessage_Idempotency_Replay_and_Store(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)

	alice := mkUser(t, db, "alice")
	bob := mkUser(t, db, "bob")

	// seed a stored message + idempotency record for replay
	prev, err := repo.CreateMessage(db, alice.ID, bob.ID, "previous")
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if _, err := repo.CreateIdempotency(context.Background(), db, alice.ID, bob.ID, "key-replay", prev.ID, http.StatusCreated, time.Hour); err != nil {
		t.Fatalf("seed idem: %v", err)
	}

	ms := &services.MessageService{DB: db, MaxBodyRunes: 2000}
	h := New(ms, stubPollSvc{t: t})
	h.IdempotencyTTL = time.Minute

	r := gin.New()
	r.POST("/messages", h.PostMessage)

	// replay request: recorded result comes back, nothing new is stored
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/messages",
		bytes.NewBufferString(fmt.Sprintf(`{"receiver_id":%d,"body":" hello "}`, bob.ID)))
	req.Header.Set("X-User-ID", fmt.Sprint(alice.ID))
	req.Header.Set("Idempotency-Key", "key-replay")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("replay -> %d", w.Code)
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected replay header")
	}
	var resp PostMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Message == nil || resp.Message.ID != prev.ID || resp.Message.Body != "previous" {
		t.Fatalf("unexpected replay body: %#v", resp)
	}

	// store path: fresh key, Send runs and the record is written afterwards
	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/messages",
		bytes.NewBufferString(fmt.Sprintf(`{"receiver_id":%d,"body":"fresh one"}`, bob.ID)))
	req2.Header.Set("X-User-ID", fmt.Sprint(alice.ID))
	req2.Header.Set("Idempotency-Key", "key-store")
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusCreated {
		t.Fatalf("store -> %d body=%s", w2.Code, w2.Body.String())
	}
	var resp2 PostMessageResponse
	if err := json.Unmarshal(w2.Body.Bytes(), &resp2); err != nil {
		t.Fatalf("json2: %v", err)
	}
	if resp2.Message == nil || resp2.Message.Body != "fresh one" {
		t.Fatalf("stored message missing: %#v", resp2)
	}
	rec, err := repo.GetIdempotency(context.Background(), db, alice.ID, bob.ID, "key-store", time.Now().UTC())
	if err != nil || rec == nil || rec.MessageID != resp2.Message.ID {
		t.Fatalf("idempotency not stored: rec=%+v err=%v", rec, err)
	}
	// The record expires on the configured TTL, not a built-in one.
	if remain := time.Until(rec.ExpiresAt); remain <= 0 || remain > time.Minute {
		t.Fatalf("expected expiry within the configured minute, got %v", remain)
	}
}

func TestHandlers_IdempotencyTTL_DefaultsWhenUnset(t *testing.T) {
	h := New(stubMsgSvc{t: t}, stubPollSvc{t: t})
	if got := h.idempotencyTTL(); got != defaultIdempotencyTTL {
		t.Fatalf("default TTL = %v", got)
	}
	h.IdempotencyTTL = 2 * time.Hour
	if got := h.idempotencyTTL(); got != 2*time.Hour {
		t.Fatalf("configured TTL = %v", got)
	}
}

// ---------- ListConversationMessages ----------

func TestListConversationMessages_BadPeer_And_ETag304(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)

	alice := mkUser(t, db, "alice")
	bob := mkUser(t, db, "bob")
	if _, err := repo.CreateMessage(db, bob.ID, alice.ID, "hello"); err != nil {
		t.Fatalf("seed msg: %v", err)
	}

	ms := &services.MessageService{DB: db}
	h := New(ms, stubPollSvc{t: t})

	r := gin.New()
	r.GET("/conversations/:id/messages", h.ListConversationMessages)

	// non-numeric peer id
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations/abc/messages", nil)
	req.Header.Set("X-User-ID", fmt.Sprint(alice.ID))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad peer 400 -> %d", w.Code)
	}

	// compute the tag the handler will set, then replay it for a 304
	count, maxTS, err := repo.ConversationMessagesStats(context.Background(), db, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.Unix()
	}
	etag := fmt.Sprintf(`W/"messages:%d:%d:%d:%d"`, alice.ID, bob.ID, count, ts)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/conversations/%d/messages", bob.ID), nil)
	req.Header.Set("X-User-ID", fmt.Sprint(alice.ID))
	req.Header.Set("If-None-Match", etag)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Fatalf("etag 304 -> %d headers=%v", w.Code, w.Header())
	}
}

func TestListConversationMessages_Success_And_Errors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	items := []domain.Message{
		{ID: 1, SenderID: 7, ReceiverID: 3, Body: "hi"},
		{ID: 2, SenderID: 3, ReceiverID: 7, Body: "yo"},
	}
	hOK := New(stubMsgSvc{
		t: t,
		listConv: func(ctx context.Context, userID, peerID uint64) ([]domain.Message, error) {
			if userID != 3 || peerID != 7 {
				t.Fatalf("bad args: user=%d peer=%d", userID, peerID)
			}
			return items, nil
		},
	}, stubPollSvc{t: t})
	r := gin.New()
	r.GET("/conversations/:id/messages", hOK.ListConversationMessages)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations/7/messages", nil)
	req.Header.Set("X-User-ID", "3")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list ok -> %d", w.Code)
	}
	var out ListConversationMessagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(out.Messages) != 2 || out.Messages[0].IsOutgoing || !out.Messages[1].IsOutgoing {
		t.Fatalf("is_outgoing wrong: %#v", out.Messages)
	}

	// unknown peer -> 404
	h404 := New(stubMsgSvc{
		t: t,
		listConv: func(ctx context.Context, userID, peerID uint64) ([]domain.Message, error) {
			return nil, services.ErrUserNotFound
		},
	}, stubPollSvc{t: t})
	r2 := gin.New()
	r2.GET("/conversations/:id/messages", h404.ListConversationMessages)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/conversations/9/messages", nil)
	req.Header.Set("X-User-ID", "3")
	r2.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	// generic error -> 500
	h500 := New(stubMsgSvc{
		t: t,
		listConv: func(ctx context.Context, userID, peerID uint64) ([]domain.Message, error) {
			return nil, gorm.ErrInvalidField
		},
	}, stubPollSvc{t: t})
	r3 := gin.New()
	r3.GET("/conversations/:id/messages", h500.ListConversationMessages)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/conversations/9/messages", nil)
	req.Header.Set("X-User-ID", "3")
	r3.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

// ---------- ListSince ----------

func TestListSince_LatestID_And_Empty(t *testing.T) {
	gin.SetMode(gin.TestMode)

	items := []domain.Message{
		{ID: 11, SenderID: 7, ReceiverID: 3, Body: "a"},
		{ID: 14, SenderID: 7, ReceiverID: 3, Body: "b"},
	}
	h := New(stubMsgSvc{
		t: t,
		listSince: func(ctx context.Context, userID, afterID uint64) ([]domain.Message, error) {
			if userID != 3 || afterID != 10 {
				t.Fatalf("bad args: user=%d after=%d", userID, afterID)
			}
			return items, nil
		},
	}, stubPollSvc{t: t})
	r := gin.New()
	r.GET("/messages/since", h.ListSince)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/messages/since?after_id=10", nil)
	req.Header.Set("X-User-ID", "3")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("since -> %d", w.Code)
	}
	var out ListSinceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(out.Messages) != 2 || out.LatestID != 14 {
		t.Fatalf("since wrong: n=%d latest=%d", len(out.Messages), out.LatestID)
	}

	// empty backlog echoes after_id and returns an array, not null
	hEmpty := New(stubMsgSvc{
		t: t,
		listSince: func(ctx context.Context, userID, afterID uint64) ([]domain.Message, error) {
			return nil, nil
		},
	}, stubPollSvc{t: t})
	r2 := gin.New()
	r2.GET("/messages/since", hEmpty.ListSince)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/messages/since?after_id=42", nil)
	req.Header.Set("X-User-ID", "3")
	r2.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("empty since -> %d", w.Code)
	}
	var out2 ListSinceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out2); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out2.LatestID != 42 {
		t.Fatalf("latest should echo after_id, got %d", out2.LatestID)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"messages":[]`)) {
		t.Fatalf("expected empty array, got %s", w.Body.String())
	}
}

func TestListSince_Identity_And_Error(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := New(stubMsgSvc{
		t: t,
		listSince: func(ctx context.Context, userID, afterID uint64) ([]domain.Message, error) {
			return nil, gorm.ErrInvalidDB
		},
	}, stubPollSvc{t: t})
	r := gin.New()
	r.GET("/messages/since", h.ListSince)

	// no identity
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/messages/since", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no identity -> %d", w.Code)
	}

	// service failure
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/messages/since", nil)
	req.Header.Set("X-User-ID", "3")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
