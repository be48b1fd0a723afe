package output

import "context"

// PackageInfo describes one packaged tile database known to the registry.
type PackageInfo struct {
	ID        string // file id, stable across backends
	ChartID   string // chart this package belongs to
	Status    string // "complete" once fully provisioned
	TotalSize int64  // bytes; zero means not yet usable
	FileName  string // base file name
}

// PackageSource defines the secondary port for locating packaged tile
// databases. Resolve hands back a local path the SQLite driver can open,
// downloading the file first when the backend is remote.
type PackageSource interface {
	// List returns every package record the source knows about.
	List(ctx context.Context) ([]PackageInfo, error)

	// GetMeta returns the record for one file id.
	GetMeta(ctx context.Context, fileID string) (PackageInfo, error)

	// Resolve returns a local filesystem path for the package file,
	// fetching it from the backend if it is not yet local.
	Resolve(ctx context.Context, fileID string) (string, error)
}
