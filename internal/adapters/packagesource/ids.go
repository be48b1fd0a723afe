// Package packagesource locates packaged tile databases across local,
// HTTP and S3 backends.
package packagesource

import (
	"path/filepath"
	"strings"
)

// PackageSuffix is the file extension of packaged tile databases.
const PackageSuffix = ".mbtiles"

// DeriveFileID derives the stable file id from a package path: the base
// name without extension.
func DeriveFileID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// DeriveChartID maps a file id to its chart: a trailing numeric segment
// marks a multi-file chart ("ed-vfr-2" belongs to "ed-vfr"); anything
// else is a single-file chart named like the file.
func DeriveChartID(fileID string) string {
	idx := strings.LastIndex(fileID, "-")
	if idx <= 0 {
		return fileID
	}
	if isDigits(fileID[idx+1:]) {
		return fileID[:idx]
	}
	return fileID
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
