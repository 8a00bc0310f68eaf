package catalog

import (
	"github.com/garmentflow/garmentflow/internal/platform/db"
	"github.com/garmentflow/garmentflow/internal/shared"
)

// Registry dispatches to the directory of a vendor kind.
type Registry struct {
	dirs map[VendorKind]Directory
}

// NewRegistry wraps an explicit kind to directory mapping.
func NewRegistry(dirs map[VendorKind]Directory) *Registry {
	return &Registry{dirs: dirs}
}

// NewPGRegistry backs every kind with the shared vendors table.
func NewPGRegistry(conn db.DBTX) *Registry {
	dirs := make(map[VendorKind]Directory, len(Kinds))
	for _, k := range Kinds {
		dirs[k] = NewPGDirectory(conn, k)
	}
	return NewRegistry(dirs)
}

// Directory returns the directory for kind.
func (r *Registry) Directory(kind VendorKind) (Directory, error) {
	d, ok := r.dirs[kind]
	if !ok {
		return nil, shared.Validationf("no directory for vendor kind %q", kind)
	}
	return d, nil
}
