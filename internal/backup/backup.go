// Package backup exports encrypted snapshots of the household document to
// S3-compatible storage and restores them. Snapshots are JSON, sealed with a
// passphrase-derived key, so the bucket operator never sees family data.
package backup

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jmaassen/weekplan/internal/cache"
	"github.com/jmaassen/weekplan/internal/model"
)

// kv key holding the hex-encoded key-derivation salt.
const kvBackupSalt = "backup_salt"

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Source is the state the manager snapshots and restores into. Satisfied by
// the sync engine.
type Source interface {
	Snapshot() model.Document
	Save(patch map[string]any)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Config holds backup manager configuration.
type Config struct {
	S3            S3Config
	FamID         string
	Interval      time.Duration // scheduled backup cadence, 0 disables the loop
	RetentionDays int
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

// StatusCallback is called whenever the backup state changes.
type StatusCallback func(Status)

// Entry describes one stored backup object.
type Entry struct {
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager snapshots the household document to encrypted objects under
// <famID>/backup-<timestamp>.json.enc.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	status   Status
	callback StatusCallback

	source Source
	cache  *cache.Cache
	client s3Client
	logger *slog.Logger

	// Passphrase cached in memory only, so the scheduled loop can run
	// without re-prompting. Never persisted.
	passphrase string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a backup manager. The manager stays disabled until the
// S3 configuration carries a bucket and credentials.
func NewManager(cfg Config, source Source, c *cache.Cache, logger *slog.Logger, callback StatusCallback) *Manager {
	m := &Manager{
		cfg:      cfg,
		source:   source,
		cache:    c,
		logger:   logger,
		callback: callback,
		status:   Status{State: StateDisabled},
	}

	if cfg.S3.Bucket != "" && cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}

	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// UpdateS3Config hot-reloads the S3 configuration.
func (m *Manager) UpdateS3Config(s3cfg S3Config) {
	m.mu.Lock()
	m.cfg.S3 = s3cfg
	if s3cfg.Bucket != "" && s3cfg.AccessKey != "" && s3cfg.SecretKey != "" {
		m.client = newS3Client(s3cfg)
		m.status.State = StateIdle
	} else {
		m.client = nil
		m.status.State = StateDisabled
	}
	status := m.status
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(status)
	}
}

// SetPassphrase caches the passphrase so the scheduled loop can back up
// without interaction. It also ensures a salt exists in local storage.
func (m *Manager) SetPassphrase(passphrase string) error {
	if _, err := m.salt(); err != nil {
		return err
	}
	m.mu.Lock()
	m.passphrase = passphrase
	m.mu.Unlock()
	return nil
}

// HasPassphrase reports whether scheduled backups can run.
func (m *Manager) HasPassphrase() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.passphrase != ""
}

// salt loads the key-derivation salt from local storage, generating and
// persisting one on first use.
func (m *Manager) salt() ([]byte, error) {
	stored, err := m.cache.GetKV(kvBackupSalt)
	if err != nil {
		return nil, err
	}
	if stored != "" {
		salt, err := hex.DecodeString(stored)
		if err != nil {
			return nil, fmt.Errorf("decode salt: %w", err)
		}
		return salt, nil
	}
	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	if err := m.cache.SetKV(kvBackupSalt, hex.EncodeToString(salt)); err != nil {
		return nil, err
	}
	return salt, nil
}

// Start begins the scheduled backup loop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.status.State == StateDisabled || m.cfg.Interval <= 0 {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	interval := m.cfg.Interval
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.runScheduled(ctx)
			}
		}
	}()
}

// Stop gracefully stops the backup manager.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(s)
	}
}

func (m *Manager) runScheduled(ctx context.Context) {
	m.mu.RLock()
	passphrase := m.passphrase
	retention := m.cfg.RetentionDays
	m.mu.RUnlock()

	if passphrase == "" {
		m.logger.Info("skipping scheduled backup, no passphrase cached")
		return
	}
	if _, err := m.RunNow(ctx, passphrase); err != nil {
		m.logger.Error("scheduled backup failed", "error", err)
		return
	}
	if retention <= 0 {
		retention = 30
	}
	if err := m.Cleanup(ctx, retention); err != nil {
		m.logger.Error("backup cleanup failed", "error", err)
	}
}

// RunNow snapshots the document, encrypts it, and uploads it. It returns
// the object key of the new backup.
func (m *Manager) RunNow(ctx context.Context, passphrase string) (string, error) {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	famID := m.cfg.FamID
	m.mu.RUnlock()

	if client == nil {
		return "", fmt.Errorf("backup not configured: S3 credentials missing")
	}

	salt, err := m.salt()
	if err != nil {
		return "", fmt.Errorf("load salt: %w", err)
	}

	m.setStatus(Status{State: StateRunning, InProgress: true})

	doc := m.source.Snapshot()
	plaintext, err := json.Marshal(doc)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	sealed, err := Encrypt(plaintext, passphrase, salt)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return "", fmt.Errorf("encrypt: %w", err)
	}

	timestamp := time.Now().UTC().Format("2006-01-02T150405Z")
	key := fmt.Sprintf("%s/backup-%s.json.enc", famID, timestamp)

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return "", fmt.Errorf("upload to s3: %w", err)
	}

	now := time.Now().UTC()
	m.setStatus(Status{State: StateIdle, LastBackup: &now})
	return key, nil
}

// List returns this family's stored backups, newest first.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	famID := m.cfg.FamID
	m.mu.RUnlock()

	if client == nil {
		return nil, fmt.Errorf("backup not configured")
	}

	out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(famID + "/"),
	})
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	entries := make([]Entry, 0, len(out.Contents))
	for _, obj := range out.Contents {
		e := Entry{Key: aws.ToString(obj.Key), SizeBytes: aws.ToInt64(obj.Size)}
		if obj.LastModified != nil {
			e.CreatedAt = *obj.LastModified
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	return entries, nil
}

// Restore downloads a backup, decrypts it, and writes every collection back
// through the source so the restored state syncs out like any other change.
func (m *Manager) Restore(ctx context.Context, key, passphrase string) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("backup not configured")
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	sealed, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	plaintext, err := Decrypt(sealed, passphrase)
	if err != nil {
		return fmt.Errorf("decrypt backup: %w", err)
	}

	// Validate before applying: the payload must be a complete document.
	var doc model.Document
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return fmt.Errorf("invalid backup payload: %w", err)
	}

	patch := make(map[string]any)
	if err := json.Unmarshal(plaintext, &patch); err != nil {
		return fmt.Errorf("invalid backup payload: %w", err)
	}
	for name := range patch {
		if !model.IsCollection(name) {
			delete(patch, name)
		}
	}
	if len(patch) == 0 {
		return fmt.Errorf("backup payload holds no collections")
	}

	m.source.Save(patch)
	return nil
}

// Download streams an encrypted backup as stored, for off-site copies.
func (m *Manager) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()

	if client == nil {
		return nil, fmt.Errorf("backup not configured")
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download from s3: %w", err)
	}
	return result.Body, nil
}

// Cleanup deletes backups older than the retention period.
func (m *Manager) Cleanup(ctx context.Context, retentionDays int) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()

	if client == nil {
		return nil
	}

	entries, err := m.List(ctx)
	if err != nil {
		return err
	}

	before := time.Now().UTC().AddDate(0, 0, -retentionDays)
	for _, e := range entries {
		if !e.CreatedAt.Before(before) {
			continue
		}
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(e.Key),
		}); err != nil {
			m.logger.Warn("deleting expired backup failed", "key", e.Key, "error", err)
		}
	}
	return nil
}
