package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pedro17pedroo/tatucloudfile/internal/apikeys"
	"github.com/pedro17pedroo/tatucloudfile/internal/auth"
	"github.com/pedro17pedroo/tatucloudfile/internal/config"
	"github.com/pedro17pedroo/tatucloudfile/internal/database"
	"github.com/pedro17pedroo/tatucloudfile/internal/database/models"
	"github.com/pedro17pedroo/tatucloudfile/internal/files"
	"github.com/pedro17pedroo/tatucloudfile/internal/folders"
	"github.com/pedro17pedroo/tatucloudfile/internal/quota"
	"github.com/pedro17pedroo/tatucloudfile/internal/remote"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                  "test",
		RemoteBackend:        "memory",
		MaxUploadSize:        10 << 20,
		SessionSecret:        "0123456789abcdef0123456789abcdef",
		SessionDuration:      time.Hour,
		BcryptCost:           bcrypt.MinCost,
		CSRFEnabled:          false,
		EnableRegistration:   true,
		DefaultPlanName:      "Free",
		APIKeyTrialDuration:  14 * 24 * time.Hour,
		APIKeyPlaintextTTL:   time.Hour,
		AuthRateLimitPerMin:  10000,
		DefaultAPICallsPerHr: 10000,
		ReconcileInterval:    time.Minute,
		ReconcileMinAge:      30 * time.Minute,
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: "file:" + t.Name() + "?mode=memory&cache=shared"}, &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	cfg := testConfig()
	manager := remote.NewManager(func(ctx context.Context) (remote.Storage, error) {
		return remote.NewMemoryBackend(), nil
	})
	sessionManager, err := auth.NewSessionManager(db, cfg)
	if err != nil {
		t.Fatalf("Failed to create session manager: %v", err)
	}

	fileSvc := files.NewService(db, manager, quota.NewAccountant(db), folders.NewResolver(db))
	keySvc := apikeys.NewService(db, cfg.APIKeyPlaintextTTL, cfg.APIKeyTrialDuration, cfg.BcryptCost)

	r := chi.NewRouter()
	Setup(r, db, cfg, manager, sessionManager, fileSvc, keySvc, "test")

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, db
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func postJSON(t *testing.T, client *http.Client, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal body: %v", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func register(t *testing.T, client *http.Client, baseURL, username string) {
	t.Helper()
	resp := postJSON(t, client, baseURL+"/api/auth/register", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct-horse",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("register returned %d: %s", resp.StatusCode, body)
	}
}

func uploadFile(t *testing.T, client *http.Client, url, filename, content, path string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	part.Write([]byte(content))
	if path != "" {
		writer.WriteField("path", path)
	}
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Upload request failed: %v", err)
	}
	return resp
}

func TestRegisterLoginLogoutFlow(t *testing.T) {
	server, _ := newTestServer(t)
	client := newClient(t)

	register(t, client, server.URL, "alice")

	resp, err := client.Get(server.URL + "/api/auth/me")
	if err != nil {
		t.Fatalf("GET /api/auth/me failed: %v", err)
	}
	var me map[string]any
	decodeJSON(t, resp, &me)
	if me["username"] != "alice" {
		t.Errorf("me.username = %v, want alice", me["username"])
	}
	if me["plan"] != "Free" {
		t.Errorf("me.plan = %v, want Free (default)", me["plan"])
	}

	resp = postJSON(t, client, server.URL+"/api/auth/logout", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout returned %d", resp.StatusCode)
	}

	resp, err = client.Get(server.URL + "/api/auth/me")
	if err != nil {
		t.Fatalf("GET /api/auth/me failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("me after logout returned %d, want 401", resp.StatusCode)
	}

	// Log back in with the password.
	resp = postJSON(t, client, server.URL+"/api/auth/login", map[string]string{
		"username": "alice",
		"password": "correct-horse",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("login returned %d, want 200", resp.StatusCode)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	server, _ := newTestServer(t)
	client := newClient(t)

	register(t, client, server.URL, "bob")

	fresh := newClient(t)
	resp := postJSON(t, fresh, server.URL+"/api/auth/login", map[string]string{
		"username": "bob",
		"password": "wrong",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("login with bad password returned %d, want 401", resp.StatusCode)
	}
}

func TestFileLifecycleOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	client := newClient(t)
	register(t, client, server.URL, "carol")

	// Upload into a nested folder.
	resp := uploadFile(t, client, server.URL+"/api/files", "report.pdf", "file body", "Docs/2024")
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("upload returned %d: %s", resp.StatusCode, body)
	}
	var uploaded models.File
	decodeJSON(t, resp, &uploaded)
	if uploaded.FilePath != "/Docs/2024" {
		t.Errorf("FilePath = %q, want /Docs/2024", uploaded.FilePath)
	}

	// Download round-trips the content.
	resp, err := client.Get(fmt.Sprintf("%s/api/files/%d/download", server.URL, uploaded.ID))
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	content, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(content) != "file body" {
		t.Errorf("downloaded %q, want %q", content, "file body")
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="report.pdf"` {
		t.Errorf("Content-Disposition = %q", cd)
	}

	// Search finds it case-insensitively.
	resp, err = client.Get(server.URL + "/api/files/search?q=REPORT")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	var searchResult struct {
		Files []models.File `json:"files"`
	}
	decodeJSON(t, resp, &searchResult)
	if len(searchResult.Files) != 1 {
		t.Fatalf("search returned %d files, want 1", len(searchResult.Files))
	}

	// Move to another folder.
	resp = postJSON(t, client, fmt.Sprintf("%s/api/files/%d/move", server.URL, uploaded.ID), map[string]string{
		"path": "Archive",
	})
	var moved models.File
	decodeJSON(t, resp, &moved)
	if moved.FilePath != "/Archive" {
		t.Errorf("FilePath after move = %q, want /Archive", moved.FilePath)
	}

	// Usage reflects the stored bytes.
	resp, err = client.Get(server.URL + "/api/usage")
	if err != nil {
		t.Fatalf("usage failed: %v", err)
	}
	var usage struct {
		StorageUsed  int64 `json:"storage_used"`
		StorageLimit int64 `json:"storage_limit"`
	}
	decodeJSON(t, resp, &usage)
	if usage.StorageUsed != int64(len("file body")) {
		t.Errorf("storage_used = %d, want %d", usage.StorageUsed, len("file body"))
	}

	// Delete frees the bytes.
	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/files/%d", server.URL, uploaded.ID), nil)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete returned %d", resp.StatusCode)
	}

	resp, err = client.Get(server.URL + "/api/usage")
	if err != nil {
		t.Fatalf("usage failed: %v", err)
	}
	decodeJSON(t, resp, &usage)
	if usage.StorageUsed != 0 {
		t.Errorf("storage_used = %d after delete, want 0", usage.StorageUsed)
	}
}

func TestAPIKeySurface(t *testing.T) {
	server, _ := newTestServer(t)
	client := newClient(t)
	register(t, client, server.URL, "dave")

	// Issue a key over the session surface.
	resp := postJSON(t, client, server.URL+"/api/keys", map[string]any{
		"name": "ci-runner",
	})
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("key create returned %d: %s", resp.StatusCode, body)
	}
	var created struct {
		Key   models.APIKey `json:"key"`
		Token string        `json:"token"`
	}
	decodeJSON(t, resp, &created)
	if created.Token == "" {
		t.Fatal("no token in create response")
	}

	// Bearer token grants access to the programmatic surface, no cookies.
	apiClient := &http.Client{}
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer "+created.Token)
	resp, err := apiClient.Do(req)
	if err != nil {
		t.Fatalf("bearer request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("bearer request returned %d, want 200", resp.StatusCode)
	}

	// Without a token the surface is closed.
	req, _ = http.NewRequest(http.MethodGet, server.URL+"/api/v1/usage", nil)
	resp, err = apiClient.Do(req)
	if err != nil {
		t.Fatalf("anonymous request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous request returned %d, want 401", resp.StatusCode)
	}

	// Revoking the key closes the door immediately.
	req, _ = http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/keys/%d", server.URL, created.Key.ID), nil)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke returned %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, server.URL+"/api/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer "+created.Token)
	resp, err = apiClient.Do(req)
	if err != nil {
		t.Fatalf("bearer request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("revoked bearer request returned %d, want 401", resp.StatusCode)
	}
}

func TestAdminSurfaceRequiresAdmin(t *testing.T) {
	server, db := newTestServer(t)
	client := newClient(t)
	register(t, client, server.URL, "eve")

	resp, err := client.Get(server.URL + "/api/admin/plans")
	if err != nil {
		t.Fatalf("GET /api/admin/plans failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("non-admin got %d, want 403", resp.StatusCode)
	}

	// Promote and retry.
	if err := db.Model(&models.User{}).Where("username = ?", "eve").
		Update("is_admin", true).Error; err != nil {
		t.Fatalf("Failed to promote user: %v", err)
	}

	resp, err = client.Get(server.URL + "/api/admin/plans")
	if err != nil {
		t.Fatalf("GET /api/admin/plans failed: %v", err)
	}
	var plans struct {
		Plans []models.Plan `json:"plans"`
	}
	decodeJSON(t, resp, &plans)
	if len(plans.Plans) != 3 {
		t.Errorf("seeded plan count = %d, want 3", len(plans.Plans))
	}
}

func TestAdminPlanCRUD(t *testing.T) {
	server, db := newTestServer(t)
	client := newClient(t)
	register(t, client, server.URL, "frank")
	if err := db.Model(&models.User{}).Where("username = ?", "frank").
		Update("is_admin", true).Error; err != nil {
		t.Fatalf("Failed to promote user: %v", err)
	}

	resp := postJSON(t, client, server.URL+"/api/admin/plans", map[string]any{
		"name":               "Enterprise",
		"storage_limit":      int64(1) << 40,
		"price_cents":        9999,
		"api_calls_per_hour": 100000,
	})
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("plan create returned %d: %s", resp.StatusCode, body)
	}
	var plan models.Plan
	decodeJSON(t, resp, &plan)

	// Deleting a plan with subscribers must fail.
	var free models.Plan
	if err := db.Where("name = ?", "Free").First(&free).Error; err != nil {
		t.Fatalf("Failed to load Free plan: %v", err)
	}
	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/admin/plans/%d", server.URL, free.ID), nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("deleting subscribed plan returned %d, want 409", resp.StatusCode)
	}

	// The empty plan deletes cleanly.
	req, _ = http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/admin/plans/%d", server.URL, plan.ID), nil)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("deleting empty plan returned %d, want 200", resp.StatusCode)
	}
}

func TestSuspendedUserLockedOut(t *testing.T) {
	server, db := newTestServer(t)
	client := newClient(t)
	register(t, client, server.URL, "grace")

	if err := db.Model(&models.User{}).Where("username = ?", "grace").
		Update("is_suspended", true).Error; err != nil {
		t.Fatalf("Failed to suspend user: %v", err)
	}

	resp, err := client.Get(server.URL + "/api/auth/me")
	if err != nil {
		t.Fatalf("GET /api/auth/me failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("suspended session returned %d, want 401", resp.StatusCode)
	}
}

func TestQuotaRejectionOverHTTP(t *testing.T) {
	server, db := newTestServer(t)
	client := newClient(t)
	register(t, client, server.URL, "henry")

	// Shrink the user's plan ceiling to force a rejection.
	var user models.User
	if err := db.Where("username = ?", "henry").First(&user).Error; err != nil {
		t.Fatalf("Failed to load user: %v", err)
	}
	tiny := models.Plan{Name: "Tiny", StorageLimit: 4, APICallsPerHour: 100}
	if err := db.Create(&tiny).Error; err != nil {
		t.Fatalf("Failed to create plan: %v", err)
	}
	if err := db.Model(&user).Update("plan_id", tiny.ID).Error; err != nil {
		t.Fatalf("Failed to switch plan: %v", err)
	}

	resp := uploadFile(t, client, server.URL+"/api/files", "big.bin", "way too large", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInsufficientStorage {
		t.Errorf("over-quota upload returned %d, want 507", resp.StatusCode)
	}
}
