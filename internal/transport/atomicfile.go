package transport

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/actionplane/browserctl/internal/berrors"
)

// WriteAtomic writes data to path by writing to a sibling tempfile and
// renaming over the destination, so concurrent readers always observe
// either the old or the new content, never a torn write.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return berrors.Wrap(berrors.Io, "mkdir "+dir, err)
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", filepath.Base(path), uuid.NewString()))
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return berrors.Wrap(berrors.Io, "write tempfile", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return berrors.Wrap(berrors.Io, "rename tempfile", err)
	}
	return nil
}
