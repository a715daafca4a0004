package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"

	"github.com/zaibshamsi/Brofessor/internal/blob"
	"github.com/zaibshamsi/Brofessor/internal/config"
	"github.com/zaibshamsi/Brofessor/internal/core"
	"github.com/zaibshamsi/Brofessor/internal/logger"
	"github.com/zaibshamsi/Brofessor/internal/mailer"
	"github.com/zaibshamsi/Brofessor/internal/realtime"
	"github.com/zaibshamsi/Brofessor/internal/store"
)

type chunkStream struct{ chunks []string }

func (s *chunkStream) Next() (string, error) {
	if len(s.chunks) == 0 {
		return "", iterator.Done
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

type scriptedGenerator struct{ chunks []string }

func (g scriptedGenerator) StreamAnswer(context.Context, []core.Message, string, string, string) (core.TextStream, error) {
	return &chunkStream{chunks: append([]string(nil), g.chunks...)}, nil
}

type noFollowUp struct{}

func (noFollowUp) SuggestFollowUp(context.Context, string, string, []string) (*core.FollowUp, error) {
	return nil, nil
}

type staticExtractor struct{ text string }

func (e staticExtractor) ExtractText(context.Context, blob.Blob) (string, error) { return e.text, nil }

type testEnv struct {
	router    http.Handler
	knowledge *core.KnowledgeBaseController
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	config.AppConfig.JWTSecret = "test-secret"
	log := logger.Nop()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	blobs := blob.NewLocalStoreFs(log, afero.NewBasePathFs(afero.NewMemMapFs(), "/blobs"), "http://files.test")
	extractor := staticExtractor{text: "extracted"}
	knowledge := core.NewKnowledgeBaseController(log, st, blobs)
	require.NoError(t, knowledge.Refresh(context.Background()))
	timetables := core.NewTimetableController(log, st, blobs, extractor)

	sessions := core.NewSessionRegistry(log, core.SessionDeps{
		Generator:  scriptedGenerator{chunks: []string{"Fees are ", "100 per term."}},
		Classifier: noFollowUp{},
		Knowledge:  knowledge,
		Schedule:   timetables,
		Blobs:      blobs,
	}, core.SessionConfig{})

	hub := core.NewNotificationHub(log, st, realtime.NewMemoryBus(), mailer.Noop{})
	t.Cleanup(hub.Close)

	h := NewAPIHandler(log, Deps{
		Users:         st,
		Sessions:      sessions,
		Knowledge:     knowledge,
		Timetables:    timetables,
		Pipeline:      core.NewIngestionPipeline(log, blobs, extractor),
		Notifications: hub,
		IsAdminEmail:  func(email string) bool { return email == "admin@uni.test" },
	})
	return &testEnv{router: NewRouter(h, blobs.Handler()), knowledge: knowledge}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	return e.do(t, method, path, token, body, "application/json")
}

func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	rec := e.doJSON(t, http.MethodPost, "/api/register", "", credentialsRequest{Email: email, Password: "secret-pw"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type formFile struct {
	field, name, contentType, data string
}

func multipartBody(t *testing.T, fields map[string]string, files ...formFile) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		part, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Disposition": {fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.name)},
			"Content-Type":        {f.contentType},
		})
		require.NoError(t, err)
		_, err = part.Write([]byte(f.data))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

// sseEvents splits an event-stream body into (event, data) pairs.
func sseEvents(body string) [][2]string {
	var out [][2]string
	for _, block := range strings.Split(body, "\n\n") {
		var event, data string
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
		if event != "" {
			out = append(out, [2]string{event, data})
		}
	}
	return out
}

func TestRegisterAndLogin(t *testing.T) {
	e := newTestEnv(t)

	rec := e.doJSON(t, http.MethodPost, "/api/register", "", credentialsRequest{Email: "admin@uni.test", Password: "secret-pw"})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[authResponse](t, rec)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, store.RoleAdmin, resp.User.Role)

	rec = e.doJSON(t, http.MethodPost, "/api/register", "", credentialsRequest{Email: "ADMIN@uni.test", Password: "other"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.doJSON(t, http.MethodPost, "/api/register", "", credentialsRequest{Email: "student@uni.test"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.doJSON(t, http.MethodPost, "/api/login", "", credentialsRequest{Email: "admin@uni.test", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.doJSON(t, http.MethodPost, "/api/login", "", credentialsRequest{Email: "admin@uni.test", Password: "secret-pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	login := decode[authResponse](t, rec)

	rec = e.doJSON(t, http.MethodGet, "/api/knowledge", login.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, e.doJSON(t, http.MethodGet, "/api/knowledge", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.doJSON(t, http.MethodGet, "/api/knowledge", "not-a-jwt", nil).Code)
	assert.Equal(t, http.StatusOK, e.doJSON(t, http.MethodGet, "/api/health", "", nil).Code)
}

func TestChatFlow(t *testing.T) {
	e := newTestEnv(t)
	adminToken := e.register(t, "admin@uni.test")
	userToken := e.register(t, "student@uni.test")

	rec := e.doJSON(t, http.MethodPost, "/api/sessions", adminToken, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	adminSession := decode[snapshotView](t, rec)

	rec = e.doJSON(t, http.MethodPost, "/api/sessions", userToken, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	userSession := decode[snapshotView](t, rec)
	require.Len(t, userSession.Messages, 1)
	assert.Equal(t, core.StateIdle, userSession.State)

	// Sessions are private.
	rec = e.doJSON(t, http.MethodGet, "/api/sessions/"+adminSession.SessionID, userToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Only admins upload.
	body, ct := multipartBody(t, nil, formFile{"files", "fees.txt", "text/plain", "Tuition is 100 per term."})
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, "/api/knowledge/files", userToken, body, ct).Code)

	body, ct = multipartBody(t, map[string]string{"session_id": adminSession.SessionID},
		formFile{"files", "fees.txt", "text/plain", "Tuition is 100 per term."},
		formFile{"files", "photo.png", "image/png", "PNG"},
	)
	rec = e.do(t, http.MethodPost, "/api/knowledge/files", adminToken, body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	upload := decode[uploadResponse](t, rec)
	assert.Equal(t, core.MergeReport{Added: 2, Processed: 1}, upload.Report)
	assert.True(t, e.knowledge.HasCorpus())

	rec = e.doJSON(t, http.MethodGet, "/api/sessions/"+adminSession.SessionID, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	announced := decode[snapshotView](t, rec)
	require.Len(t, announced.Messages, 2)
	assert.Equal(t, upload.Notice, announced.Messages[1].Text)

	rec = e.doJSON(t, http.MethodPost, "/api/sessions/"+userSession.SessionID+"/messages", userToken, postMessageRequest{Content: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.doJSON(t, http.MethodPost, "/api/sessions/"+userSession.SessionID+"/messages", userToken, postMessageRequest{Content: "How much are fees?"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/event-stream"))

	events := sseEvents(rec.Body.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, "done", last[0])
	var final snapshotView
	require.NoError(t, json.Unmarshal([]byte(last[1]), &final))
	require.Len(t, final.Messages, 3)
	assert.Equal(t, core.StateIdle, final.State)
	assert.Equal(t, "How much are fees?", final.Messages[1].Text)
	assert.Equal(t, "Fees are 100 per term.", final.Messages[2].Text)
	assert.Equal(t, []string{"Fees are 100 per term."}, segmentTexts(final.Messages[2]))

	rec = e.doJSON(t, http.MethodPost, "/api/sessions/"+userSession.SessionID+"/reset", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[snapshotView](t, rec).Messages, 1)

	assert.Equal(t, http.StatusNotFound, e.doJSON(t, http.MethodDelete, "/api/sessions/"+userSession.SessionID, adminToken, nil).Code)
	assert.Equal(t, http.StatusNoContent, e.doJSON(t, http.MethodDelete, "/api/sessions/"+userSession.SessionID, userToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.doJSON(t, http.MethodGet, "/api/sessions/"+userSession.SessionID, userToken, nil).Code)

	rec = e.doJSON(t, http.MethodGet, "/api/knowledge", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[knowledgeResponse](t, rec).Files, 2)

	assert.Equal(t, http.StatusNoContent, e.doJSON(t, http.MethodDelete, "/api/knowledge/files/fees.txt", adminToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.doJSON(t, http.MethodDelete, "/api/knowledge/files/fees.txt", adminToken, nil).Code)
}

func segmentTexts(m messageView) []string {
	out := make([]string, len(m.Segments))
	for i, s := range m.Segments {
		out[i] = s.Text
	}
	return out
}

func TestTimetableEndpoints(t *testing.T) {
	e := newTestEnv(t)
	adminToken := e.register(t, "admin@uni.test")
	userToken := e.register(t, "student@uni.test")

	body, ct := multipartBody(t, map[string]string{"department": "CSE", "year": "2"}, formFile{"file", "cse.txt", "text/plain", "Mon 9am CS101"})
	rec := e.do(t, http.MethodPost, "/api/timetables", adminToken, body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[store.Timetable](t, rec)
	assert.Equal(t, "Mon 9am CS101", created.Content)

	body, ct = multipartBody(t, map[string]string{"year": "2"}, formFile{"file", "cse.txt", "text/plain", "x"})
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/timetables", adminToken, body, ct).Code)

	rec = e.doJSON(t, http.MethodGet, "/api/timetables", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Timetable](t, rec), 1)

	path := fmt.Sprintf("/api/timetables/%d", created.ID)
	assert.Equal(t, http.StatusForbidden, e.doJSON(t, http.MethodDelete, path, userToken, nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.doJSON(t, http.MethodDelete, "/api/timetables/abc", adminToken, nil).Code)
	assert.Equal(t, http.StatusNoContent, e.doJSON(t, http.MethodDelete, path, adminToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.doJSON(t, http.MethodDelete, path, adminToken, nil).Code)
}

func TestNotificationEndpoints(t *testing.T) {
	e := newTestEnv(t)
	adminToken := e.register(t, "admin@uni.test")
	userToken := e.register(t, "student@uni.test")

	assert.Equal(t, http.StatusForbidden,
		e.doJSON(t, http.MethodPost, "/api/notifications", userToken, sendNotificationRequest{Message: "hi"}).Code)
	assert.Equal(t, http.StatusBadRequest,
		e.doJSON(t, http.MethodPost, "/api/notifications", adminToken, sendNotificationRequest{Message: "  "}).Code)
	require.Equal(t, http.StatusAccepted,
		e.doJSON(t, http.MethodPost, "/api/notifications", adminToken, sendNotificationRequest{Message: "Exams moved"}).Code)

	rec := e.doJSON(t, http.MethodGet, "/api/notifications", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[notificationsResponse](t, rec)
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, 1, list.UnreadCount)
	id := list.Notifications[0].ID

	rec = e.doJSON(t, http.MethodPost, "/api/notifications/"+id+"/read", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[notificationsResponse](t, rec).UnreadCount)

	assert.Equal(t, http.StatusNotFound, e.doJSON(t, http.MethodPost, "/api/notifications/missing/read", userToken, nil).Code)

	rec = e.doJSON(t, http.MethodDelete, "/api/notifications/"+id, userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[notificationsResponse](t, rec).Notifications)

	// The admin's own copy is untouched.
	rec = e.doJSON(t, http.MethodGet, "/api/notifications", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[notificationsResponse](t, rec).Notifications, 1)

	rec = e.doJSON(t, http.MethodPost, "/api/notifications/read-all", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[notificationsResponse](t, rec).UnreadCount)
	rec = e.doJSON(t, http.MethodDelete, "/api/notifications", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[notificationsResponse](t, rec).Notifications)
}

func TestRespondWithErrorMapping(t *testing.T) {
	h := NewAPIHandler(logger.Nop(), Deps{})
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrBusy, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", core.ErrForbidden), http.StatusForbidden},
		{core.ErrUnauthenticated, http.StatusUnauthorized},
		{core.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("timetable 3: %w", store.ErrNotFound), http.StatusNotFound},
		{core.ErrInvalidInput, http.StatusBadRequest},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.respondWithError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
