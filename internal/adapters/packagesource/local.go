package packagesource

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternmaps/tern/internal/domain"
	"github.com/ternmaps/tern/internal/ports/output"
)

// Local implements PackageSource over a directory of package files. The
// directory is rescanned on every List so a watcher-triggered refresh
// needs no extra state.
type Local struct {
	basePath string
}

// NewLocal creates a local package source.
func NewLocal(basePath string) *Local {
	return &Local{basePath: basePath}
}

// List returns every package file in the directory.
func (s *Local) List(_ context.Context) ([]output.PackageInfo, error) {
	var infos []output.PackageInfo

	err := filepath.Walk(s.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(info.Name()), PackageSuffix) {
			return nil
		}

		id := DeriveFileID(path)
		infos = append(infos, output.PackageInfo{
			ID:        id,
			ChartID:   DeriveChartID(id),
			Status:    "complete",
			TotalSize: info.Size(),
			FileName:  info.Name(),
		})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	return infos, nil
}

// GetMeta returns the record for one file id.
func (s *Local) GetMeta(ctx context.Context, fileID string) (output.PackageInfo, error) {
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

// Resolve returns the local path of a package file.
func (s *Local) Resolve(_ context.Context, fileID string) (string, error) {
	path := filepath.Join(s.basePath, fileID+PackageSuffix)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", domain.ErrPackageNotFound
		}
		return "", err
	}
	return path, nil
}
