package provider

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/omnidex/omnidex/internal/errors"
	"github.com/omnidex/omnidex/internal/model"
)

// TypeFilesystem is the factory key for the filesystem provider.
const TypeFilesystem = "filesystem"

// maxFileSize caps how much of a file is read into a document.
const maxFileSize = 1 << 20 // 1 MiB

var defaultExtensions = []string{".txt", ".md", ".rst", ".org", ".adoc"}

// FilesystemProvider indexes text files under configured roots. It has
// no live search surface: its documents are served from the local
// index, so RealTimeSearch is false. With watching enabled it feeds
// file events into the indexing pipeline.
type FilesystemProvider struct {
	id     string
	logger *slog.Logger

	mu      sync.Mutex
	roots   []string
	exts    map[string]bool
	ready   bool
	watcher *fsnotify.Watcher
}

// NewFilesystemProvider returns an uninitialized filesystem provider.
func NewFilesystemProvider(id string) *FilesystemProvider {
	return &FilesystemProvider{id: id, logger: slog.Default()}
}

func (p *FilesystemProvider) Info() model.ProviderInfo {
	return model.ProviderInfo{
		ID:           p.id,
		Name:         "Local Files",
		ProviderType: TypeFilesystem,
		Capabilities: model.Capabilities{
			RealTimeSearch:      false,
			IncrementalIndexing: true,
			Faceting:            true,
			Pagination:          false,
		},
	}
}

// Initialize reads settings: "roots" (comma-separated directories,
// required) and "extensions" (comma-separated, defaults to common text
// formats).
func (p *FilesystemProvider) Initialize(_ context.Context, settings map[string]string) error {
	rootsSetting := strings.TrimSpace(settings["roots"])
	if rootsSetting == "" {
		return errors.ConfigError("filesystem provider "+p.id+" requires a roots setting", nil)
	}

	var roots []string
	for _, root := range strings.Split(rootsSetting, ",") {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		info, err := os.Stat(root)
		if err != nil {
			return errors.ConfigError("filesystem root "+root+" is not accessible", err)
		}
		if !info.IsDir() {
			return errors.ConfigError("filesystem root "+root+" is not a directory", nil)
		}
		roots = append(roots, root)
	}
	if len(roots) == 0 {
		return errors.ConfigError("filesystem provider "+p.id+" has no usable roots", nil)
	}

	exts := make(map[string]bool)
	if raw := settings["extensions"]; raw != "" {
		for _, ext := range strings.Split(raw, ",") {
			ext = strings.TrimSpace(ext)
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			exts[strings.ToLower(ext)] = true
		}
	} else {
		for _, ext := range defaultExtensions {
			exts[ext] = true
		}
	}

	p.mu.Lock()
	p.roots = roots
	p.exts = exts
	p.ready = true
	p.mu.Unlock()
	return nil
}

func (p *FilesystemProvider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Search returns nothing: filesystem documents are searched through the
// local index copy.
func (p *FilesystemProvider) Search(_ context.Context, _ *model.SearchQuery) (*model.ProviderResponse, error) {
	return &model.ProviderResponse{ProviderID: p.id}, nil
}

// Documents walks the roots and returns documents modified after since.
// The returned cursor is the latest modification time seen, RFC3339.
func (p *FilesystemProvider) Documents(ctx context.Context, since time.Time, cursor string) ([]*model.SearchDocument, string, error) {
	p.mu.Lock()
	roots := append([]string(nil), p.roots...)
	ready := p.ready
	p.mu.Unlock()
	if !ready {
		return nil, "", errors.New(errors.ErrCodeProviderNotReady, "filesystem provider not initialized", nil)
	}

	// Prefer the cursor when present; it is the high-water mark of the
	// last completed pull.
	if cursor != "" {
		if t, err := time.Parse(time.RFC3339Nano, cursor); err == nil && t.After(since) {
			since = t
		}
	}

	var docs []*model.SearchDocument
	latest := since
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // skip unreadable entries
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if !p.wantFile(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if !info.ModTime().After(since) {
				return nil
			}
			doc, err := p.loadDocument(path, info.ModTime())
			if err != nil {
				p.logger.Warn("filesystem_read_failed",
					slog.String("path", path),
					slog.String("error", err.Error()))
				return nil
			}
			docs = append(docs, doc)
			if info.ModTime().After(latest) {
				latest = info.ModTime()
			}
			return nil
		})
		if err != nil {
			return nil, "", errors.ProviderError(p.id, "walk "+root, err)
		}
	}

	next := cursor
	if latest.After(since) || next == "" {
		next = latest.UTC().Format(time.RFC3339Nano)
	}
	return docs, next, nil
}

func (p *FilesystemProvider) wantFile(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exts[strings.ToLower(filepath.Ext(path))]
}

func (p *FilesystemProvider) loadDocument(path string, modTime time.Time) (*model.SearchDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Read the whole file up to the cap. A single Read may return a
	// partial buffer, so drain through a limited reader instead.
	content, err := io.ReadAll(io.LimitReader(f, maxFileSize))
	if err != nil {
		return nil, err
	}

	return &model.SearchDocument{
		ID:           path,
		ProviderID:   p.id,
		ProviderType: TypeFilesystem,
		ContentType:  model.ContentTypeFile,
		Title:        filepath.Base(path),
		Content:      string(content),
		FilePath:     path,
		CreatedAt:    modTime,
		LastModified: modTime,
		IndexingInfo: model.IndexingInfo{IndexType: model.IndexTypeIncremental},
	}, nil
}

// HealthCheck verifies the roots still exist.
func (p *FilesystemProvider) HealthCheck(_ context.Context) model.ProviderHealth {
	start := time.Now()
	h := model.ProviderHealth{
		ProviderID: p.id,
		Status:     model.HealthHealthy,
		CheckedAt:  start.UTC(),
	}
	p.mu.Lock()
	roots := append([]string(nil), p.roots...)
	ready := p.ready
	p.mu.Unlock()

	if !ready {
		h.Status = model.HealthUnknown
		return h
	}
	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			h.Status = model.HealthUnhealthy
			h.Issues = append(h.Issues, model.HealthIssue{
				Severity: model.IssueError,
				Message:  "root not accessible: " + root,
				Time:     time.Now().UTC(),
			})
		}
	}
	h.ResponseTimeMS = time.Since(start).Milliseconds()
	return h
}

// Authenticate always succeeds: local files need no credentials.
func (p *FilesystemProvider) Authenticate(_ context.Context, _ model.Credentials) (model.ProviderAuth, error) {
	return model.ProviderAuth{ProviderID: p.id, Status: model.AuthAuthenticated}, nil
}

func (p *FilesystemProvider) RefreshAuth(_ context.Context) (model.ProviderAuth, error) {
	return model.ProviderAuth{ProviderID: p.id, Status: model.AuthAuthenticated}, nil
}

// Watch streams file events into the sink until the context ends.
// Write and create events submit documents; remove and rename events
// delete them.
func (p *FilesystemProvider) Watch(ctx context.Context, sink DocumentSink) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.ProviderError(p.id, "create watcher", err)
	}

	p.mu.Lock()
	roots := append([]string(nil), p.roots...)
	p.watcher = watcher
	p.mu.Unlock()

	for _, root := range roots {
		if err := p.watchTree(watcher, root); err != nil {
			_ = watcher.Close()
			return errors.ProviderError(p.id, "watch "+root, err)
		}
	}

	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			p.handleEvent(watcher, event, sink)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("filesystem_watch_error",
				slog.String("provider", p.id),
				slog.String("error", err.Error()))
		}
	}
}

// watchTree registers dir and every non-hidden subdirectory with the
// watcher. fsnotify watches are not recursive, so each directory needs
// its own entry.
func (p *FilesystemProvider) watchTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// submitTree pushes every matching file under dir into the sink. Used
// when a new directory appears: files written before its watch took
// effect never produce events of their own.
func (p *FilesystemProvider) submitTree(dir string, sink DocumentSink) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !p.wantFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		doc, err := p.loadDocument(path, info.ModTime())
		if err != nil {
			return nil
		}
		if err := sink.SubmitDocument(doc); err != nil {
			p.logger.Warn("filesystem_submit_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return nil
	})
}

func (p *FilesystemProvider) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event, sink DocumentSink) {
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				return
			}
			if err := p.watchTree(watcher, event.Name); err != nil {
				p.logger.Warn("filesystem_watch_error",
					slog.String("path", event.Name),
					slog.String("error", err.Error()))
			}
			p.submitTree(event.Name, sink)
			return
		}
	}
	if !p.wantFile(event.Name) {
		return
	}
	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		if err := sink.RemoveDocument(p.id, event.Name); err != nil {
			p.logger.Warn("filesystem_remove_failed",
				slog.String("path", event.Name),
				slog.String("error", err.Error()))
		}
	case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil || info.IsDir() {
			return
		}
		doc, err := p.loadDocument(event.Name, info.ModTime())
		if err != nil {
			return
		}
		if err := sink.SubmitDocument(doc); err != nil {
			p.logger.Warn("filesystem_submit_failed",
				slog.String("path", event.Name),
				slog.String("error", err.Error()))
		}
	}
}

// Shutdown stops any active watcher.
func (p *FilesystemProvider) Shutdown(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = false
	if p.watcher != nil {
		err := p.watcher.Close()
		p.watcher = nil
		return err
	}
	return nil
}
