package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"studyhub/internal/app/db"
	"studyhub/internal/app/identity"
	"studyhub/internal/app/realtime"
	"studyhub/internal/configs"
	"studyhub/internal/pkg/auth/jwt"
	"studyhub/internal/pkg/errs"
)

const testSecret = "handler-test-secret"

// memStore is an in-memory Store.
type memStore struct {
	mu    sync.Mutex
	users map[pgtype.UUID]db.User
	rooms map[string]db.SessionRoom
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[pgtype.UUID]db.User),
		rooms: make(map[string]db.SessionRoom),
	}
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505"}
}

func (s *memStore) CreateUser(_ context.Context, arg db.CreateUserParams) (db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == arg.Username {
			return db.User{}, uniqueViolation()
		}
	}

	row := db.User{
		ID:           pgtype.UUID{Bytes: uuid.New(), Valid: true},
		Username:     arg.Username,
		PasswordHash: arg.PasswordHash,
		Nickname:     arg.Nickname,
		CreatedAt:    pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	s.users[row.ID] = row
	return row, nil
}

func (s *memStore) GetUserByUsername(_ context.Context, username string) (db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return db.User{}, pgx.ErrNoRows
}

func (s *memStore) GetUserByID(_ context.Context, id pgtype.UUID) (db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return db.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (s *memStore) UpdateLastLogin(_ context.Context, id pgtype.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.LastLoginAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	s.users[id] = u
	return nil
}

func (s *memStore) CreateSessionRoom(_ context.Context, arg db.CreateSessionRoomParams) (db.SessionRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[arg.ID]; ok {
		return db.SessionRoom{}, uniqueViolation()
	}

	row := db.SessionRoom{
		ID:             arg.ID,
		Name:           arg.Name,
		StudySessionID: arg.StudySessionID,
		CreatedBy:      arg.CreatedBy,
		CreatedAt:      pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	s.rooms[arg.ID] = row
	return row, nil
}

func (s *memStore) GetSessionRoom(_ context.Context, id string) (db.SessionRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rooms[id]
	if !ok {
		return db.SessionRoom{}, pgx.ErrNoRows
	}
	return row, nil
}

// memStorage records uploads and returns fake URLs.
type memStorage struct {
	mu      sync.Mutex
	uploads map[string][]byte
}

func (s *memStorage) PresignUpload(_ context.Context, key, _ string, _ int64, _ time.Duration) (string, error) {
	return "https://storage.test/upload/" + key, nil
}

func (s *memStorage) PresignDownload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.test/download/" + key, nil
}

func (s *memStorage) Upload(_ context.Context, key, _ string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploads == nil {
		s.uploads = make(map[string][]byte)
	}
	s.uploads[key] = data
	return nil
}

type sinkStub struct{}

func (sinkStub) Send(realtime.Message) error { return nil }

type testEnv struct {
	store   *memStore
	storage *memStorage
	coord   *realtime.Coordinator
	handler http.Handler
}

func newEnv(t *testing.T, withStorage bool) *testEnv {
	t.Helper()

	store := newMemStore()
	coord := realtime.New(realtime.Options{
		Verifier:        identity.NewVerifier(testSecret, store),
		Directory:       identity.NewDirectory(store),
		ExternalTimeout: time.Second,
		RoomGracePeriod: time.Minute,
	})
	t.Cleanup(coord.Shutdown)

	deps := &AppDeps{
		Coordinator: coord,
		Config: &configs.AppConfig{
			Environment:    "test",
			AllowedOrigins: []string{"http://localhost:5173"},
			JWTSecret:      testSecret,
			MaxBodyBytes:   1 << 10,
		},
		DB: store,
	}

	env := &testEnv{store: store, coord: coord}
	if withStorage {
		env.storage = &memStorage{}
		deps.StorageService = env.storage
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	env.handler = Router(ctx, deps)

	return env
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	r := httptest.NewRequest(method, path, reader)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

// register signs up a user and returns its id and token.
func (e *testEnv) register(t *testing.T, username string) (string, string) {
	t.Helper()

	w, env := e.do(t, http.MethodPost, "/api/auth/register", "", RegisterInput{Username: username, Password: "secret123"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var data struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.User.ID, data.Token
}

// joinLive connects token's user over the coordinator and joins roomID.
func (e *testEnv) joinLive(t *testing.T, token string, roomID string) {
	t.Helper()

	ctx := context.Background()
	id, err := e.coord.Connect(ctx, sinkStub{})
	require.NoError(t, err)
	require.NoError(t, e.coord.Authenticate(ctx, id, token))
	require.NoError(t, e.coord.Message(id, realtime.EventJoinRoom, []byte(`{"roomId":"`+roomID+`"}`)))

	require.Eventually(t, func() bool {
		return len(e.coord.RoomsOf(id)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRouter_RootHealthAndFallbacks(t *testing.T) {
	e := newEnv(t, false)

	w, _ := e.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "API is running", w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))

	w, env := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"studyhub","connections":0,"rooms":0}`, string(env.Data))

	w, env = e.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errs.ErrRouteNotFound, env.Code)
	assert.Equal(t, "Not found: /nope", env.Message)

	w, env = e.do(t, http.MethodPost, "/health", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, errs.ErrMethodNotAllowed, env.Code)
}

func TestAuth_RegisterLoginMe(t *testing.T) {
	e := newEnv(t, false)

	userID, token := e.register(t, "alice_01")
	require.NotEmpty(t, token)

	payload, err := jwt.ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, userID, payload.ID)
	assert.Equal(t, "alice_01", payload.Username)

	w, env := e.do(t, http.MethodPost, "/api/auth/register", "", RegisterInput{Username: "alice_01", Password: "secret123"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, errs.ErrUserAlreadyExists, env.Code)

	w, env = e.do(t, http.MethodPost, "/api/auth/login", "", LoginInput{Username: "alice_01", Password: "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, errs.ErrInvalidCredentials, env.Code)

	w, _ = e.do(t, http.MethodPost, "/api/auth/login", "", LoginInput{Username: "alice_01", Password: "secret123"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = e.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var me struct {
		User        map[string]any `json:"user"`
		LastLoginAt *string        `json:"lastLoginAt"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, userID, me.User["id"])
	assert.NotNil(t, me.LastLoginAt)

	w, env = e.do(t, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, errs.ErrUnauthenticated, env.Code)

	w, env = e.do(t, http.MethodPost, "/api/auth/login", token, LoginInput{Username: "alice_01", Password: "secret123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errs.ErrAlreadyLoggedIn, env.Code)
}

func TestAuth_RegisterValidation(t *testing.T) {
	e := newEnv(t, false)

	tests := []struct {
		name  string
		input RegisterInput
		code  int
	}{
		{"short username", RegisterInput{Username: "ab", Password: "secret123"}, errs.ErrInvalidUsername},
		{"uppercase username", RegisterInput{Username: "Alice", Password: "secret123"}, errs.ErrInvalidUsername},
		{"short password", RegisterInput{Username: "alice", Password: "123"}, errs.ErrInvalidPassword},
		{"long nickname", RegisterInput{Username: "alice", Password: "secret123", Nickname: strings.Repeat("n", 30)}, errs.ErrInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, env := e.do(t, http.MethodPost, "/api/auth/register", "", tt.input)
			assert.Equal(t, tt.code, env.Code)
		})
	}
}

func TestAuth_BodyLimit(t *testing.T) {
	e := newEnv(t, false)

	w, env := e.do(t, http.MethodPost, "/api/auth/login", "", LoginInput{Username: strings.Repeat("a", 2048), Password: "x"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, errs.ErrRequestEntityTooLarge, env.Code)
}

func TestAuth_StoredPasswordIsHashed(t *testing.T) {
	e := newEnv(t, false)
	e.register(t, "hash_me")

	row, err := e.store.GetUserByUsername(context.Background(), "hash_me")
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", row.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte("secret123")))
}

func TestRooms_CreateAndGet(t *testing.T) {
	e := newEnv(t, false)
	_, token := e.register(t, "alice_01")

	sessionID := uuid.NewString()
	w, env := e.do(t, http.MethodPost, "/api/session-rooms/", token, CreateRoomInput{ID: "algebra-1", Name: " Algebra ", StudySessionID: sessionID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created roomResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "algebra-1", created.ID)
	assert.Equal(t, "Algebra", created.Name)
	assert.Equal(t, sessionID, created.StudySessionID)
	assert.True(t, created.Persisted)

	w, env = e.do(t, http.MethodPost, "/api/session-rooms/", token, CreateRoomInput{ID: "algebra-1", Name: "Again"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, errs.ErrRoomAlreadyExists, env.Code)

	e.joinLive(t, token, "algebra-1")

	w, env = e.do(t, http.MethodGet, "/api/session-rooms/algebra-1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got roomResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 1, got.Participants)
	assert.Equal(t, "Algebra", got.Name)

	w, env = e.do(t, http.MethodGet, "/api/session-rooms/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errs.ErrRoomNotFound, env.Code)

	w, _ = e.do(t, http.MethodGet, "/api/session-rooms/algebra-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRooms_GeneratedIDAndAdHoc(t *testing.T) {
	e := newEnv(t, false)
	_, token := e.register(t, "alice_01")

	w, env := e.do(t, http.MethodPost, "/api/session-rooms/", token, CreateRoomInput{Name: "Biology"})
	require.Equal(t, http.StatusCreated, w.Code)

	var created roomResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Len(t, created.ID, 8)

	_, env = e.do(t, http.MethodPost, "/api/session-rooms/", token, CreateRoomInput{Name: "x", StudySessionID: "nope"})
	assert.Equal(t, errs.ErrInvalidParams, env.Code)

	e.joinLive(t, token, "ad-hoc")

	w, env = e.do(t, http.MethodGet, "/api/session-rooms/ad-hoc", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got roomResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.False(t, got.Persisted)
	assert.Equal(t, 1, got.Participants)
}

func TestAttachments_StorageDisabled(t *testing.T) {
	e := newEnv(t, false)
	_, token := e.register(t, "alice_01")

	w, env := e.do(t, http.MethodPost, "/api/session-rooms/room-1/attachments/presign", token, PresignUploadInput{FileName: "a.png", MimeType: "image/png", FileSize: 10})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, errs.ErrStorageDisabled, env.Code)
}

func TestAttachments_PresignRequiresParticipation(t *testing.T) {
	e := newEnv(t, true)
	_, aliceToken := e.register(t, "alice_01")
	_, bobToken := e.register(t, "bob_0001")

	e.joinLive(t, aliceToken, "room-1")

	w, env := e.do(t, http.MethodPost, "/api/session-rooms/room-1/attachments/presign", bobToken, PresignUploadInput{FileName: "a.png", MimeType: "image/png", FileSize: 10})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, errs.ErrNotMember, env.Code)

	w, env = e.do(t, http.MethodPost, "/api/session-rooms/room-1/attachments/presign", aliceToken, PresignUploadInput{FileName: "a.PNG", MimeType: "image/png", FileSize: 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.True(t, strings.HasPrefix(data["fileKey"], "room-1/"))
	assert.True(t, strings.HasSuffix(data["fileKey"], ".png"))
	assert.Contains(t, data["presignedUrl"], data["fileKey"])

	_, env = e.do(t, http.MethodPost, "/api/session-rooms/room-1/attachments/presign", aliceToken, PresignUploadInput{FileName: "a.exe", MimeType: "application/octet-stream", FileSize: 10})
	assert.Equal(t, errs.ErrInvalidParams, env.Code)

	_, env = e.do(t, http.MethodPost, "/api/session-rooms/room-1/attachments/presign", aliceToken, PresignUploadInput{FileName: "a.png", MimeType: "image/png", FileSize: realtime.MaxAttachmentSize + 1})
	assert.Equal(t, errs.ErrFileSizeTooLarge, env.Code)
}

func TestAttachments_DownloadRedirect(t *testing.T) {
	e := newEnv(t, true)
	_, token := e.register(t, "alice_01")
	e.joinLive(t, token, "room-1")

	w, _ := e.do(t, http.MethodGet, "/api/session-rooms/room-1/attachments?k=room-1/file.pdf", token, nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://storage.test/download/room-1/file.pdf", w.Header().Get("Location"))

	w, env := e.do(t, http.MethodGet, "/api/session-rooms/room-1/attachments?k=room-2/file.pdf", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, errs.ErrUnauthorized, env.Code)

	_, env = e.do(t, http.MethodGet, "/api/session-rooms/room-1/attachments", token, nil)
	assert.Equal(t, errs.ErrInvalidParams, env.Code)
}

func TestAttachments_DirectUpload(t *testing.T) {
	e := newEnv(t, true)
	_, token := e.register(t, "alice_01")
	e.joinLive(t, token, "room-1")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="notes.pdf"`)
	h.Set("Content-Type", "application/pdf")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 study notes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/session-rooms/room-1/attachments", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	r.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))

	var att realtime.Attachment
	require.NoError(t, json.Unmarshal(env.Data, &att))
	assert.True(t, strings.HasPrefix(att.Key, "room-1/"))
	assert.Equal(t, "application/pdf", att.MimeType)
	assert.Equal(t, []byte("%PDF-1.4 study notes"), e.storage.uploads[att.Key])
}

func TestWebSocket_ConnectWithToken(t *testing.T) {
	e := newEnv(t, false)
	userID, token := e.register(t, "alice_01")

	srv := httptest.NewServer(e.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	header := http.Header{"Origin": []string{"http://localhost:5173"}}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg realtime.Message
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, realtime.EventAuthOK, msg.Event)

	var payload realtime.AuthOKPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, userID, payload.User.ID)
}

func TestWebSocket_OriginCheck(t *testing.T) {
	e := newEnv(t, false)

	srv := httptest.NewServer(e.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}

	_, res, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}
