package packagesource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternmaps/tern/internal/domain"
	"github.com/ternmaps/tern/internal/ports/output"
)

// HTTPConfig holds HTTP package source configuration.
type HTTPConfig struct {
	BaseURL   string
	IndexFile string // default: index.json
	Timeout   time.Duration
	Username  string
	Password  string
	CacheDir  string // where downloaded packages land
}

// indexEntry is one record of the remote index.json.
type indexEntry struct {
	ID        string `json:"id"`
	ChartID   string `json:"chartId"`
	Status    string `json:"status"`
	TotalSize int64  `json:"totalSize"`
	FileName  string `json:"fileName"`
}

// HTTP implements PackageSource against a web server publishing an
// index.json next to the package files.
type HTTP struct {
	client   *http.Client
	baseURL  string
	index    string
	username string
	password string
	cacheDir string
}

// NewHTTP creates an HTTP package source.
func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.json"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &HTTP{
		client:   &http.Client{Timeout: cfg.Timeout},
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		index:    cfg.IndexFile,
		username: cfg.Username,
		password: cfg.Password,
		cacheDir: cfg.CacheDir,
	}
}

// List fetches and parses the remote index.
func (s *HTTP) List(ctx context.Context) ([]output.PackageInfo, error) {
	req, err := s.newRequest(ctx, http.MethodGet, s.baseURL+"/"+s.index)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching package index: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("package index returned status %d", resp.StatusCode)
	}

	var entries []indexEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("parsing package index: %w", err)
	}

	infos := make([]output.PackageInfo, 0, len(entries))
	for _, e := range entries {
		if e.FileName == "" {
			e.FileName = e.ID + PackageSuffix
		}
		if e.ChartID == "" {
			e.ChartID = DeriveChartID(e.ID)
		}
		infos = append(infos, output.PackageInfo{
			ID:        e.ID,
			ChartID:   e.ChartID,
			Status:    e.Status,
			TotalSize: e.TotalSize,
			FileName:  e.FileName,
		})
	}
	return infos, nil
}

// GetMeta returns the index record for one file id.
func (s *HTTP) GetMeta(ctx context.Context, fileID string) (output.PackageInfo, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return output.PackageInfo{}, err
	}
	for _, info := range infos {
		if info.ID == fileID {
			return info, nil
		}
	}
	return output.PackageInfo{}, domain.ErrPackageNotFound
}

// Resolve downloads the package into the cache directory unless an
// intact copy is already there.
func (s *HTTP) Resolve(ctx context.Context, fileID string) (string, error) {
	meta, err := s.GetMeta(ctx, fileID)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(s.cacheDir, meta.FileName)
	if st, err := os.Stat(dest); err == nil && st.Size() == meta.TotalSize && st.Size() > 0 {
		return dest, nil
	}

	if err := s.download(ctx, meta.FileName, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// download streams one package file to disk, writing through a temp file
// so a partial download never looks like a finished package.
func (s *HTTP) download(ctx context.Context, fileName, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}

	req, err := s.newRequest(ctx, http.MethodGet, s.baseURL+"/"+fileName)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", fileName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d for %s", resp.StatusCode, fileName)
	}

	tmp := dest + ".partial"
	f, err := os.Create(tmp) //#nosec G304 -- dest is a controlled local path
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dest)
}

func (s *HTTP) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}
	return req, nil
}
