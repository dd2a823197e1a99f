package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/pedro17pedroo/tatucloudfile/internal/database/models"
	"github.com/pedro17pedroo/tatucloudfile/internal/folders"
	"github.com/pedro17pedroo/tatucloudfile/internal/quota"
	"github.com/pedro17pedroo/tatucloudfile/internal/remote"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: "file:" + t.Name() + "?mode=memory&cache=shared"}, &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	err = db.AutoMigrate(
		&models.Plan{}, &models.User{}, &models.Folder{},
		&models.File{}, &models.StorageOp{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return db
}

func seedUser(t *testing.T, db *gorm.DB, limit int64) *models.User {
	t.Helper()

	var existing int64
	db.Model(&models.User{}).Count(&existing)
	suffix := fmt.Sprintf("%s-%d", t.Name(), existing)

	plan := models.Plan{Name: "Test-" + suffix, StorageLimit: limit, APICallsPerHour: 1000}
	if err := db.Create(&plan).Error; err != nil {
		t.Fatalf("Failed to create plan: %v", err)
	}
	user := models.User{
		Username:     "user-" + suffix,
		Email:        suffix + "@example.com",
		PasswordHash: "x",
		PlanID:       plan.ID,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return &user
}

// countingBackend records how many upload calls reach the remote layer.
type countingBackend struct {
	remote.Storage
	uploads int
}

func (c *countingBackend) Upload(ctx context.Context, r io.Reader, name, remotePath string) (remote.Object, error) {
	c.uploads++
	return c.Storage.Upload(ctx, r, name, remotePath)
}

func newTestService(db *gorm.DB, backend remote.Storage) *Service {
	manager := remote.NewManager(func(ctx context.Context) (remote.Storage, error) {
		return backend, nil
	})
	return NewService(db, manager, quota.NewAccountant(db), folders.NewResolver(db))
}

func storageUsed(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		t.Fatalf("Failed to reload user: %v", err)
	}
	return user.StorageUsed
}

func upload(t *testing.T, svc *Service, userID uint, name, content, logicalPath string) *models.File {
	t.Helper()
	file, err := svc.Upload(context.Background(), UploadRequest{
		UserID:      userID,
		Content:     strings.NewReader(content),
		Filename:    name,
		Size:        int64(len(content)),
		MimeType:    "text/plain",
		LogicalPath: logicalPath,
	})
	if err != nil {
		t.Fatalf("Upload(%q) failed: %v", name, err)
	}
	return file
}

func TestUploadDownloadRoundtrip(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(db, remote.NewMemoryBackend())
	user := seedUser(t, db, 1<<20)
	ctx := context.Background()

	file := upload(t, svc, user.ID, "report.pdf", "hello world", "Docs/2024")

	if file.FilePath != "/Docs/2024" {
		t.Errorf("FilePath = %q, want /Docs/2024", file.FilePath)
	}
	if file.RemoteID == "" {
		t.Error("RemoteID not recorded")
	}
	if got := storageUsed(t, db, user.ID); got != int64(len("hello world")) {
		t.Errorf("storage used = %d, want %d", got, len("hello world"))
	}

	rc, meta, err := svc.Download(ctx, user.ID, file.ID)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer rc.Close()
	content, _ := io.ReadAll(rc)
	if string(content) != "hello world" {
		t.Errorf("downloaded %q, want %q", content, "hello world")
	}
	if meta.Filename != "report.pdf" {
		t.Errorf("Filename = %q, want report.pdf", meta.Filename)
	}
}

func TestUploadCommitsIntentRecord(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(db, remote.NewMemoryBackend())
	user := seedUser(t, db, 1<<20)

	upload(t, svc, user.ID, "a.txt", "aaa", "")

	var pending int64
	db.Model(&models.StorageOp{}).Where("status = ?", models.OpPending).Count(&pending)
	if pending != 0 {
		t.Errorf("%d ops left pending after a successful upload", pending)
	}
}

func TestUploadOverQuotaNeverReachesRemote(t *testing.T) {
	db := newTestDB(t)
	backend := &countingBackend{Storage: remote.NewMemoryBackend()}
	svc := newTestService(db, backend)
	user := seedUser(t, db, 5)

	_, err := svc.Upload(context.Background(), UploadRequest{
		UserID:   user.ID,
		Content:  strings.NewReader("more than five"),
		Filename: "big.txt",
		Size:     int64(len("more than five")),
	})
	if !errors.Is(err, quota.ErrQuotaExceeded) {
		t.Fatalf("got %v, want ErrQuotaExceeded", err)
	}
	if backend.uploads != 0 {
		t.Errorf("remote upload called %d times for a rejected request", backend.uploads)
	}
	if got := storageUsed(t, db, user.ID); got != 0 {
		t.Errorf("storage used = %d after rejection, want 0", got)
	}
}

func TestUploadManyPartialQuota(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(db, remote.NewMemoryBackend())
	user := seedUser(t, db, 6)
	ctx := context.Background()

	results := svc.UploadMany(ctx, []UploadRequest{
		{UserID: user.ID, Content: strings.NewReader("aaaa"), Filename: "a.txt", Size: 4},
		{UserID: user.ID, Content: strings.NewReader("bbbb"), Filename: "b.txt", Size: 4},
	})
	if len(results) != 2 {
		t.Fatalf("UploadMany returned %d results, want 2", len(results))
	}
	if results[0].Error != "" || results[0].File == nil {
		t.Errorf("first file rejected: %+v", results[0])
	}
	if results[1].Error != "storage quota exceeded" {
		t.Errorf("second file error = %q, want storage quota exceeded", results[1].Error)
	}
	if got := storageUsed(t, db, user.ID); got != 4 {
		t.Errorf("storage used = %d, want only the stored file's 4", got)
	}
}

func TestDeleteFreesQuota(t *testing.T) {
	db := newTestDB(t)
	backend := remote.NewMemoryBackend()
	svc := newTestService(db, backend)
	user := seedUser(t, db, 1<<20)
	ctx := context.Background()

	file := upload(t, svc, user.ID, "a.txt", "aaaa", "")

	if err := svc.Delete(ctx, user.ID, file.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got := storageUsed(t, db, user.ID); got != 0 {
		t.Errorf("storage used = %d after delete, want 0", got)
	}
	if _, err := backend.Stat(ctx, file.RemoteID); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("remote object survived delete: %v", err)
	}
	if _, err := svc.Get(ctx, user.ID, file.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted file still loadable: %v", err)
	}
}

func TestMovePreservesContentAndQuota(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(db, remote.NewMemoryBackend())
	user := seedUser(t, db, 1<<20)
	ctx := context.Background()

	file := upload(t, svc, user.ID, "a.txt", "payload", "Inbox")
	oldRemoteID := file.RemoteID
	usedBefore := storageUsed(t, db, user.ID)

	moved, err := svc.Move(ctx, user.ID, file.ID, "Archive/2024")
	if err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if moved.RemoteID == oldRemoteID {
		t.Error("remote ID unchanged after move")
	}
	if moved.FilePath != "/Archive/2024" {
		t.Errorf("FilePath = %q, want /Archive/2024", moved.FilePath)
	}
	if got := storageUsed(t, db, user.ID); got != usedBefore {
		t.Errorf("storage used changed across move: %d -> %d", usedBefore, got)
	}

	rc, _, err := svc.Download(ctx, user.ID, file.ID)
	if err != nil {
		t.Fatalf("Download after move failed: %v", err)
	}
	defer rc.Close()
	content, _ := io.ReadAll(rc)
	if string(content) != "payload" {
		t.Errorf("content after move = %q, want payload", content)
	}
}

func TestReplaceAdjustsQuotaByDelta(t *testing.T) {
	db := newTestDB(t)
	backend := remote.NewMemoryBackend()
	svc := newTestService(db, backend)
	user := seedUser(t, db, 1<<20)
	ctx := context.Background()

	file := upload(t, svc, user.ID, "a.txt", "short", "")
	oldRemoteID := file.RemoteID

	bigger := "a considerably longer body"
	replaced, err := svc.Replace(ctx, user.ID, file.ID, strings.NewReader(bigger), "", int64(len(bigger)), "")
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if replaced.RemoteID == oldRemoteID {
		t.Error("remote ID unchanged after replace")
	}
	if got := storageUsed(t, db, user.ID); got != int64(len(bigger)) {
		t.Errorf("storage used = %d, want %d", got, len(bigger))
	}
	if _, err := backend.Stat(ctx, oldRemoteID); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("old remote object survived replace: %v", err)
	}

	smaller := "tiny"
	if _, err := svc.Replace(ctx, user.ID, file.ID, strings.NewReader(smaller), "", int64(len(smaller)), ""); err != nil {
		t.Fatalf("shrinking Replace failed: %v", err)
	}
	if got := storageUsed(t, db, user.ID); got != int64(len(smaller)) {
		t.Errorf("storage used = %d after shrink, want %d", got, len(smaller))
	}
}

func TestReplaceUpdatesFilename(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(db, remote.NewMemoryBackend())
	user := seedUser(t, db, 1<<20)
	ctx := context.Background()

	file := upload(t, svc, user.ID, "a.txt", "old", "")

	replaced, err := svc.Replace(ctx, user.ID, file.ID, strings.NewReader("new"), "b.txt", 3, "")
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if replaced.Filename != "b.txt" {
		t.Errorf("Filename = %q after replace, want b.txt", replaced.Filename)
	}

	// An empty name keeps the current one.
	kept, err := svc.Replace(ctx, user.ID, file.ID, strings.NewReader("newer"), "", 5, "")
	if err != nil {
		t.Fatalf("second Replace failed: %v", err)
	}
	if kept.Filename != "b.txt" {
		t.Errorf("Filename = %q, want b.txt kept", kept.Filename)
	}
}

func TestReplaceOverQuotaRejected(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(db, remote.NewMemoryBackend())
	user := seedUser(t, db, 10)
	ctx := context.Background()

	file := upload(t, svc, user.ID, "a.txt", "12345", "")

	huge := strings.Repeat("x", 20)
	_, err := svc.Replace(ctx, user.ID, file.ID, strings.NewReader(huge), "", int64(len(huge)), "")
	if !errors.Is(err, quota.ErrQuotaExceeded) {
		t.Fatalf("got %v, want ErrQuotaExceeded", err)
	}
	if got := storageUsed(t, db, user.ID); got != 5 {
		t.Errorf("storage used = %d after rejected replace, want 5", got)
	}
}

func TestForeignFileIsNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(db, remote.NewMemoryBackend())
	owner := seedUser(t, db, 1<<20)
	ctx := context.Background()

	file := upload(t, svc, owner.ID, "secret.txt", "classified", "")
	stranger := owner.ID + 100

	if _, err := svc.Get(ctx, stranger, file.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: got %v, want ErrNotFound", err)
	}
	if _, _, err := svc.Download(ctx, stranger, file.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Download: got %v, want ErrNotFound", err)
	}
	if err := svc.Delete(ctx, stranger, file.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete: got %v, want ErrNotFound", err)
	}
	if _, err := svc.Move(ctx, stranger, file.ID, "Elsewhere"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Move: got %v, want ErrNotFound", err)
	}
}

func TestListNaturalOrder(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(db, remote.NewMemoryBackend())
	user := seedUser(t, db, 1<<20)
	ctx := context.Background()

	for _, name := range []string{"photo10.jpg", "photo2.jpg", "photo1.jpg"} {
		upload(t, svc, user.ID, name, "x", "")
	}

	list, err := svc.List(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"photo1.jpg", "photo2.jpg", "photo10.jpg"}
	if len(list) != len(want) {
		t.Fatalf("List returned %d files, want %d", len(list), len(want))
	}
	for i, file := range list {
		if file.Filename != want[i] {
			t.Errorf("list[%d] = %q, want %q", i, file.Filename, want[i])
		}
	}
}

func TestListScopedToFolder(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(db, remote.NewMemoryBackend())
	user := seedUser(t, db, 1<<20)
	ctx := context.Background()

	upload(t, svc, user.ID, "root.txt", "x", "")
	nested := upload(t, svc, user.ID, "nested.txt", "x", "Docs")

	rootList, err := svc.List(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("List(root) failed: %v", err)
	}
	if len(rootList) != 1 || rootList[0].Filename != "root.txt" {
		t.Errorf("root listing = %v", rootList)
	}

	docsList, err := svc.List(ctx, user.ID, nested.FolderID)
	if err != nil {
		t.Fatalf("List(Docs) failed: %v", err)
	}
	if len(docsList) != 1 || docsList[0].Filename != "nested.txt" {
		t.Errorf("Docs listing = %v", docsList)
	}
}

func TestSearchCaseInsensitive(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(db, remote.NewMemoryBackend())
	user := seedUser(t, db, 1<<20)
	other := seedUser(t, db, 1<<20)
	ctx := context.Background()

	upload(t, svc, user.ID, "Quarterly-Report.pdf", "x", "Docs")
	upload(t, svc, user.ID, "notes.txt", "x", "")
	upload(t, svc, other.ID, "report-other.pdf", "x", "")

	results, err := svc.Search(ctx, user.ID, "REPORT")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Filename != "Quarterly-Report.pdf" {
		t.Errorf("Search results = %v, want only Quarterly-Report.pdf", results)
	}
}

func TestSearchMatchesFolderPath(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(db, remote.NewMemoryBackend())
	user := seedUser(t, db, 1<<20)
	ctx := context.Background()

	upload(t, svc, user.ID, "report.pdf", "x", "Invoices/2024")
	upload(t, svc, user.ID, "misc.txt", "x", "Scratch")

	results, err := svc.Search(ctx, user.ID, "invoices")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Filename != "report.pdf" {
		t.Errorf("Search results = %v, want only report.pdf", results)
	}
}

func TestSearchEscapesLikeWildcards(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(db, remote.NewMemoryBackend())
	user := seedUser(t, db, 1<<20)
	ctx := context.Background()

	upload(t, svc, user.ID, "100%.txt", "x", "")
	upload(t, svc, user.ID, "100x.txt", "x", "")

	results, err := svc.Search(ctx, user.ID, "100%")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Filename != "100%.txt" {
		t.Errorf("wildcard not escaped, results = %v", results)
	}
}
