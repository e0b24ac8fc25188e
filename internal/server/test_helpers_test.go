package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/lists"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/gameshelf/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type apiHarness struct {
	handler    http.Handler
	accounts   *users.Service
	lists      *lists.Service
	dispatcher *realtime.Dispatcher
}

type harnessOptions struct {
	heartbeat  time.Duration
	catalog    CatalogService
	cache      CacheClearer
	adminToken string
}

func newAPIHarness(t *testing.T, options harnessOptions) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	path := filepath.Join(t.TempDir(), "api.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(append(users.Models(), lists.Models()...)...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	dispatcher := realtime.NewDispatcher()
	listService, err := lists.NewService(lists.ServiceConfig{
		Store:      lists.NewSQLStore(db, nil),
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct lists service: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "gameshelf-api",
		Audience:      "gameshelf-app",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}
	accounts, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Tokens:     tokens,
		Lists:      listService,
		Dispatcher: dispatcher,
		HashCost:   bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}

	heartbeat := options.heartbeat
	if heartbeat == 0 {
		heartbeat = time.Hour
	}
	deps := Dependencies{
		Accounts:          accounts,
		Lists:             listService,
		HeartbeatInterval: heartbeat,
		Logger:            zap.NewNop(),
	}
	if options.catalog != nil {
		deps.Catalog = options.catalog
	}
	if options.cache != nil {
		deps.Cache = options.cache
	}
	deps.AdminToken = options.adminToken
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &apiHarness{handler: handler, accounts: accounts, lists: listService, dispatcher: dispatcher}
}

func (h *apiHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func (h *apiHarness) signUp(t *testing.T, email string) sessionResponse {
	t.Helper()
	recorder := h.do(t, http.MethodPost, "/auth/signup", "", signUpRequest{
		Email:       email,
		Password:    "correct-horse",
		DisplayName: "Player",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("sign up failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var session sessionResponse
	decodeBody(t, recorder, &session)
	if session.AccessToken == "" {
		t.Fatalf("expected access token in %s", recorder.Body.String())
	}
	return session
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode %q: %v", recorder.Body.String(), err)
	}
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, want int) {
	t.Helper()
	if recorder.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", recorder.Code, want, recorder.Body.String())
	}
}

func expectErrorBody(t *testing.T, recorder *httptest.ResponseRecorder, status int, reason string) errorBody {
	t.Helper()
	expectStatus(t, recorder, status)
	var body errorBody
	decodeBody(t, recorder, &body)
	if body.Error != reason {
		t.Fatalf("error = %q, want %q (body %s)", body.Error, reason, recorder.Body.String())
	}
	return body
}

type streamEvent struct {
	name string
	data string
}

// readEvents parses server-sent events from reader onto the returned channel.
func readEvents(reader *bufio.Reader) <-chan streamEvent {
	events := make(chan streamEvent, 16)
	go func() {
		defer close(events)
		var current streamEvent
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				current.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				current.data = strings.TrimPrefix(line, "data: ")
			case line == "":
				if current.name != "" {
					events <- current
				}
				current = streamEvent{}
			}
		}
	}()
	return events
}

func nextEvent(t *testing.T, events <-chan streamEvent, name string) streamEvent {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				t.Fatalf("stream closed while waiting for %q", name)
			}
			if event.name == name {
				return event
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q event", name)
		}
	}
}
