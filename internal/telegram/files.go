package telegram

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/takopihq/takopi/internal/config"
)

// FileAPI is the transfer slice of the Telegram client used by the
// file and voice services. *Client implements it.
type FileAPI interface {
	DownloadFile(ctx context.Context, fileID string, dest io.Writer, maxBytes int64) (int64, error)
	SendDocument(ctx context.Context, chatID int64, threadID, replyTo int, path, caption string) error
}

// FileService implements /file put, /file get, and bare-document
// auto-put against a project root.
type FileService struct {
	Client FileAPI
	Cfg    config.FilesConfig
}

// Allowed checks the optional per-user allowlist.
func (s *FileService) Allowed(senderID int64) bool {
	if len(s.Cfg.AllowedUserIDs) == 0 {
		return true
	}
	for _, id := range s.Cfg.AllowedUserIDs {
		if id == senderID {
			return true
		}
	}
	return false
}

// PutResult describes one stored upload.
type PutResult struct {
	RelPath string
	Size    int64
	Skipped string
}

// Put downloads every upload in msgs into root/destDir. destDir ""
// falls back to the configured uploads dir. Existing files are skipped
// unless force is set.
func (s *FileService) Put(ctx context.Context, root string, msgs []IncomingMessage, destDir string, force bool) ([]PutResult, error) {
	if destDir == "" {
		destDir = s.Cfg.UploadsDir
	}
	dir, err := safeJoin(root, destDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", destDir, err)
	}

	var results []PutResult
	for _, msg := range msgs {
		upload := msg.Upload()
		if upload == nil {
			continue
		}
		name := filepath.Base(upload.FileName)
		if name == "" || name == "." || name == string(filepath.Separator) {
			name = upload.FileID
		}
		rel := path.Join(filepath.ToSlash(destDir), name)
		if denied(s.Cfg.DenyGlobs, rel) {
			results = append(results, PutResult{RelPath: rel, Skipped: "path denied"})
			continue
		}
		target := filepath.Join(dir, name)
		if _, err := os.Stat(target); err == nil && !force {
			results = append(results, PutResult{RelPath: rel, Skipped: "exists (use --force)"})
			continue
		}
		size, err := s.downloadTo(ctx, upload.FileID, target)
		if err != nil {
			results = append(results, PutResult{RelPath: rel, Skipped: err.Error()})
			continue
		}
		results = append(results, PutResult{RelPath: rel, Size: size})
	}
	return results, nil
}

func (s *FileService) downloadTo(ctx context.Context, fileID, target string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".takopi-upload-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())
	size, err := s.Client.DownloadFile(ctx, fileID, tmp, s.Cfg.MaxUploadBytes)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, err
	}
	return size, nil
}

// SummarizePut renders the reply for a put batch.
func SummarizePut(results []PutResult) string {
	if len(results) == 0 {
		return "nothing to store: attach a document or photo."
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		if r.Skipped != "" {
			fmt.Fprintf(&b, "skipped %s: %s", r.RelPath, r.Skipped)
		} else {
			fmt.Fprintf(&b, "saved %s (%s)", r.RelPath, humanSize(r.Size))
		}
	}
	return b.String()
}

// Get sends root/relPath back to the chat, zipping directories.
func (s *FileService) Get(ctx context.Context, root, relPath string, chatID int64, threadID, replyTo int) error {
	if relPath == "" {
		return fmt.Errorf("usage: /file get <path>")
	}
	if denied(s.Cfg.DenyGlobs, filepath.ToSlash(relPath)) {
		return fmt.Errorf("path %s is denied", relPath)
	}
	target, err := safeJoin(root, relPath)
	if err != nil {
		return err
	}
	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("no such path: %s", relPath)
	}

	if info.IsDir() {
		archive, err := s.zipDir(target, relPath)
		if err != nil {
			return err
		}
		defer os.Remove(archive)
		return s.Client.SendDocument(ctx, chatID, threadID, replyTo, archive, relPath+"/")
	}

	if info.Size() > s.Cfg.MaxDownloadBytes {
		return fmt.Errorf("%s is %s, over the %s limit", relPath, humanSize(info.Size()), humanSize(s.Cfg.MaxDownloadBytes))
	}
	return s.Client.SendDocument(ctx, chatID, threadID, replyTo, target, relPath)
}

// zipDir archives a directory, applying deny globs to its entries and
// the total size cap to the uncompressed content.
func (s *FileService) zipDir(dir, relBase string) (string, error) {
	tmp, err := os.CreateTemp("", "takopi-*.zip")
	if err != nil {
		return "", err
	}
	w := zip.NewWriter(tmp)

	var total int64
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		entry := path.Join(filepath.ToSlash(relBase), filepath.ToSlash(rel))
		if denied(s.Cfg.DenyGlobs, entry) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		if total > s.Cfg.MaxDownloadBytes {
			return fmt.Errorf("directory exceeds the %s limit", humanSize(s.Cfg.MaxDownloadBytes))
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		zw, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		_, err = io.Copy(zw, f)
		return err
	})
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// safeJoin resolves rel under root, rejecting absolute paths and any
// traversal out of root.
func safeJoin(root, rel string) (string, error) {
	rel = filepath.FromSlash(strings.TrimSpace(rel))
	if rel == "" {
		return root, nil
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", rel)
	}
	joined := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the project root: %s", rel)
	}
	return joined, nil
}

// denied matches rel (slash-separated) against deny globs. "**"
// matches any number of path segments.
func denied(globs []string, rel string) bool {
	rel = strings.TrimPrefix(path.Clean(rel), "./")
	for _, g := range globs {
		if globMatch(g, rel) {
			return true
		}
	}
	return false
}

func globMatch(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, name []string) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	if pattern[0] == "**" {
		for i := 0; i <= len(name); i++ {
			if matchSegments(pattern[1:], name[i:]) {
				return true
			}
		}
		return false
	}
	if len(name) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], name[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], name[1:])
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
