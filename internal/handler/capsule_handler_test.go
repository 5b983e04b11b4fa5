package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"

	"capsule-vault/internal/domain/capsule"
	"capsule-vault/internal/handler"
	"capsule-vault/internal/repository"
	"capsule-vault/internal/services"
	"capsule-vault/internal/storage"
	capsule_errors "capsule-vault/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type memoryBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	nextID  int
}

func (m *memoryBlob) Upload(_ context.Context, body io.Reader, _ storage.UploadMetadata) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("blob-%d", m.nextID)
	m.objects[id] = data
	return id, nil
}

func (m *memoryBlob) FetchStream(_ context.Context, id string) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[id]
	if !ok {
		return nil, 0, capsule_errors.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (m *memoryBlob) MoveToTrash(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, id)
	return nil
}

func (m *memoryBlob) EmptyTrash(context.Context) error { return nil }

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "capsules.db") + "?_pragma=busy_timeout(10000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&capsule.Capsule{}, &capsule.DownloadRecord{}))

	repo := repository.NewCapsuleRepository(db)
	blobs := &memoryBlob{objects: make(map[string][]byte)}
	service := services.NewCapsuleService(repo, blobs, nil, nil)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	capsules := handler.NewCapsuleHandler(service)
	api := r.Group("/api")
	{
		api.POST("/upload", capsules.Upload)
		api.GET("/files", capsules.List)
		api.GET("/download/:id", capsules.Download)
		api.DELETE("/delete/:id", capsules.Delete)
	}
	return r
}

func uploadCapsule(t *testing.T, r *gin.Engine, uploader, allowedUsers, unlockDate string) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("user_id", uploader))
	require.NoError(t, mw.WriteField("allowed_users", allowedUsers))
	require.NoError(t, mw.WriteField("unlock_date", unlockDate))
	fw, err := mw.CreateFormFile("file", "letter.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("dear future"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Status string `json:"status"`
			FileID string `json:"file_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Data.FileID)
	return resp.Data.FileID
}

func TestUploadValidatesForm(t *testing.T) {
	r := newTestRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("user_id", "alice"))
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "capsule file is required")
}

func TestUploadAcceptsJSONAndCommaRecipients(t *testing.T) {
	r := newTestRouter(t)

	uploadCapsule(t, r, "alice", `["bob","carol"]`, "2100-01-01T00:00")
	uploadCapsule(t, r, "alice", "bob, carol", "2100-01-01T00:00")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/files?user_id=carol", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Files []services.CapsuleSummary `json:"files"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Files, 2)
}

func TestDownloadLockedReportsUnlockDate(t *testing.T) {
	r := newTestRouter(t)
	id := uploadCapsule(t, r, "alice", "bob", "2100-01-01T00:00")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/download/"+url.PathEscape(id)+"?user_id=bob", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	var resp struct {
		Error      string `json:"error"`
		UnlockDate string `json:"unlock_date"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "this capsule is still locked", resp.Error)
	assert.Equal(t, "2100-01-01 00:00:00", resp.UnlockDate)
}

func TestDownloadStreamsContent(t *testing.T) {
	r := newTestRouter(t)
	id := uploadCapsule(t, r, "alice", "bob", "2000-01-01T00:00")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/download/"+url.PathEscape(id)+"?user_id=bob", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dear future", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "letter.txt")

	// A stranger on the same unlocked capsule is refused.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/download/"+url.PathEscape(id)+"?user_id=mallory", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "FORBIDDEN")
}

func TestDownloadUnknownCapsule(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/download/missing?user_id=bob", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestDeleteRequiresUploader(t *testing.T) {
	r := newTestRouter(t)
	id := uploadCapsule(t, r, "alice", "bob", "2100-01-01T00:00")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/delete/"+url.PathEscape(id)+"?user_id=bob", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/api/delete/"+url.PathEscape(id)+"?user_id=alice", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/download/"+url.PathEscape(id)+"?user_id=alice", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
