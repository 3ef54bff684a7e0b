package backup

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jmaassen/weekplan/internal/cache"
	"github.com/jmaassen/weekplan/internal/model"
)

type fakeObject struct {
	data     []byte
	modified time.Time
}

// fakeS3 is an in-memory s3Client.
type fakeS3 struct {
	objects map[string]fakeObject
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(input.Key)] = fakeObject{data: data, modified: time.Now().UTC()}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	obj, ok := f.objects[aws.ToString(input.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
	}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(input.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(input.Prefix)
	var contents []types.Object
	for key, obj := range f.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		modified := obj.modified
		contents = append(contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: &modified,
		})
	}
	return &s3.ListObjectsV2Output{Contents: contents}, nil
}

// fakeSource holds a document and records patches written back to it.
type fakeSource struct {
	doc   model.Document
	saved []map[string]any
}

func (f *fakeSource) Snapshot() model.Document  { return f.doc.Clone() }
func (f *fakeSource) Save(patch map[string]any) { f.saved = append(f.saved, patch) }

func setupManager(t *testing.T) (*Manager, *fakeS3, *fakeSource) {
	t.Helper()
	c, err := cache.Open(":memory:", slog.Default())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	source := &fakeSource{doc: model.Seed()}
	cfg := Config{
		S3:    S3Config{Bucket: "backups", Region: "auto", AccessKey: "k", SecretKey: "s"},
		FamID: "fam_test",
	}
	m := NewManager(cfg, source, c, slog.Default(), nil)
	fs := newFakeS3()
	m.client = fs
	return m, fs, source
}

func TestRunNowUploadsEncryptedSnapshot(t *testing.T) {
	m, fs, source := setupManager(t)

	key, err := m.RunNow(context.Background(), "huisje-boompje")
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	if !strings.HasPrefix(key, "fam_test/backup-") || !strings.HasSuffix(key, ".json.enc") {
		t.Errorf("object key = %q", key)
	}

	obj, ok := fs.objects[key]
	if !ok {
		t.Fatal("no object uploaded")
	}
	plaintext, err := Decrypt(obj.data, "huisje-boompje")
	if err != nil {
		t.Fatalf("uploaded object not decryptable: %v", err)
	}
	if !bytes.Contains(plaintext, []byte(source.doc.Users[0].ID)) {
		t.Error("snapshot payload missing seed user")
	}

	status := m.Status()
	if status.State != StateIdle || status.LastBackup == nil {
		t.Errorf("status after backup = %+v", status)
	}
}

func TestRunNowWithoutClient(t *testing.T) {
	c, err := cache.Open(":memory:", slog.Default())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	m := NewManager(Config{FamID: "fam_test"}, &fakeSource{doc: model.Seed()}, c, slog.Default(), nil)
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want disabled", m.Status().State)
	}
	if _, err := m.RunNow(context.Background(), "pw"); err == nil {
		t.Fatal("expected error without S3 configuration")
	}
}

func TestSaltIsStable(t *testing.T) {
	m, _, _ := setupManager(t)

	first, err := m.salt()
	if err != nil {
		t.Fatalf("first salt: %v", err)
	}
	second, err := m.salt()
	if err != nil {
		t.Fatalf("second salt: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("salt changed between calls")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	m, _, source := setupManager(t)

	key, err := m.RunNow(context.Background(), "pw")
	if err != nil {
		t.Fatalf("run now: %v", err)
	}

	if err := m.Restore(context.Background(), key, "pw"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(source.saved) != 1 {
		t.Fatalf("saved patches = %d, want 1", len(source.saved))
	}
	patch := source.saved[0]
	if _, ok := patch[model.ColUsers]; !ok {
		t.Error("restored patch missing users collection")
	}
	for name := range patch {
		if !model.IsCollection(name) {
			t.Errorf("restored patch carries unknown key %q", name)
		}
	}
}

func TestRestoreWrongPassphrase(t *testing.T) {
	m, _, source := setupManager(t)

	key, err := m.RunNow(context.Background(), "right")
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	if err := m.Restore(context.Background(), key, "wrong"); err == nil {
		t.Fatal("expected error restoring with wrong passphrase")
	}
	if len(source.saved) != 0 {
		t.Error("failed restore must not write to the source")
	}
}

func TestListAndCleanup(t *testing.T) {
	m, fs, _ := setupManager(t)
	ctx := context.Background()

	key, err := m.RunNow(ctx, "pw")
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	// An expired object and another family's object.
	fs.objects["fam_test/backup-old.json.enc"] = fakeObject{
		data:     []byte("x"),
		modified: time.Now().UTC().AddDate(0, 0, -60),
	}
	fs.objects["fam_other/backup-foreign.json.enc"] = fakeObject{
		data:     []byte("x"),
		modified: time.Now().UTC(),
	}

	entries, err := m.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Key != key {
		t.Errorf("newest entry = %q, want %q", entries[0].Key, key)
	}

	if err := m.Cleanup(ctx, 30); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, ok := fs.objects["fam_test/backup-old.json.enc"]; ok {
		t.Error("expired backup not deleted")
	}
	if _, ok := fs.objects[key]; !ok {
		t.Error("fresh backup must survive cleanup")
	}
	if _, ok := fs.objects["fam_other/backup-foreign.json.enc"]; !ok {
		t.Error("other family's object must survive cleanup")
	}
}

func TestSetPassphraseEnablesSchedule(t *testing.T) {
	m, _, _ := setupManager(t)

	if m.HasPassphrase() {
		t.Fatal("no passphrase cached yet")
	}
	if err := m.SetPassphrase("pw"); err != nil {
		t.Fatalf("set passphrase: %v", err)
	}
	if !m.HasPassphrase() {
		t.Error("passphrase not cached")
	}
}
