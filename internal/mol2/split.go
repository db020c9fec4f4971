// Package mol2 splits a multi-molecule mol2 library into one file per
// molecule, the unit of concurrent docking.
package mol2

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/moldock/moldock/internal/model"
)

// Marker starts a molecule record. Everything from one marker up to the
// next marker (or EOF) is a single record, marker line included.
const Marker = "@<TRIPOS>MOLECULE"

var nameSanitizer = strings.NewReplacer(":", "_", "/", "_", " ", "_")

// Split reads the library at dbPath and writes each record verbatim to
// <outDir>/<name>.mol2, where name is the record's second line with
// illegal path characters replaced. A record whose name is empty gets
// the synthetic name mol_<ordinal>. Two records resolving to the same
// sanitized name overwrite each other, last write wins; a warning is
// logged so the collision is not silent.
//
// Split is idempotent: re-running it against the same outDir overwrites
// the per-molecule files with identical bytes.
func Split(ctx context.Context, dbPath, outDir string) ([]model.Unit, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening ligand library: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("creating split directory %s: %w", outDir, err)
	}

	var (
		units   []model.Unit
		seen    = make(map[string]int) // sanitized name -> record ordinal
		record  []string
		name    string
		ordinal int
	)

	flush := func() error {
		if len(record) == 0 || name == "" {
			return nil
		}
		path := filepath.Join(outDir, name+".mol2")
		if prev, ok := seen[name]; ok {
			slog.WarnContext(ctx, "molecule name collision, last record wins",
				"name", name, "record", ordinal, "overwrites", prev)
			for i, u := range units {
				if u.Name == name {
					units = append(units[:i], units[i+1:]...)
					break
				}
			}
		}
		seen[name] = ordinal
		if err := os.WriteFile(path, []byte(strings.Join(record, "")), 0644); err != nil {
			return fmt.Errorf("writing molecule %s: %w", name, err)
		}
		units = append(units, model.Unit{Name: name, Path: path})
		return nil
	}

	r := bufio.NewReader(f)
	for {
		line, readErr := r.ReadString('\n')
		if line != "" {
			switch {
			case strings.HasPrefix(line, Marker):
				if err := flush(); err != nil {
					return nil, err
				}
				record = record[:0]
				record = append(record, line)
				ordinal++
				name = ""
			case len(record) > 0:
				record = append(record, line)
				// the molecule name is the record's second line
				if len(record) == 2 {
					name = nameSanitizer.Replace(strings.TrimSpace(line))
					if name == "" {
						name = fmt.Sprintf("mol_%d", ordinal)
					}
				}
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				return nil, fmt.Errorf("reading ligand library: %w", readErr)
			}
			break
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "ligand library split", "records", ordinal, "units", len(units))
	return units, nil
}

// Units adapts a unit slice into the iterator form the worker pool
// consumes.
func Units(units []model.Unit) iter.Seq2[model.Unit, error] {
	return func(yield func(model.Unit, error) bool) {
		for _, u := range units {
			if !yield(u, nil) {
				return
			}
		}
	}
}
