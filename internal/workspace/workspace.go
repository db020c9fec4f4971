// Package workspace owns the batch scratch directory lifecycle and the
// pruning of per-molecule output directories.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Scratch is the batch-scoped temporary directory holding the split
// per-molecule mol2 files. It lives under the output root so a batch
// leaves nothing behind elsewhere.
type Scratch struct {
	root string
}

// NewScratch places the scratch directory for the library named dbStem
// under outRoot. The dot prefix keeps it out of the result listing.
func NewScratch(outRoot, dbStem string) Scratch {
	return Scratch{root: filepath.Join(outRoot, ".temp_mol2_"+dbStem)}
}

func (s Scratch) Root() string {
	return s.root
}

func (s Scratch) Create() error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("creating scratch directory %s: %w", s.root, err)
	}
	return nil
}

// Remove deletes the scratch tree. Removing an already absent scratch
// is not an error.
func (s Scratch) Remove() error {
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("removing scratch directory %s: %w", s.root, err)
	}
	return nil
}

// Prune deletes every regular file in dir whose name is not in keep.
// Subdirectories are left alone. It keeps going past individual delete
// failures and reports them joined.
func Prune(dir string, keep ...string) error {
	keepSet := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		keepSet[name] = struct{}{}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading output directory %s: %w", dir, err)
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := keepSet[e.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
