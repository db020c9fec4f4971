// Package report aggregates the per-molecule outcomes of one batch
// into a ranked summary table, a merged best-pose file and a failure
// list.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/moldock/moldock/internal/model"
)

// Row is one ranked success.
type Row struct {
	Rank   int
	Name   string
	Scores model.Scores
	Pose   string
}

// Batch collects outcomes as they arrive, in any order. Finalize must
// be called once after the last Add; the ranking is not defined before
// that.
type Batch struct {
	rows   []Row
	failed []string
	final  bool
}

func New() *Batch {
	return &Batch{}
}

// Add records one outcome. Arrival order is remembered only as the
// tie-break for equal energies.
func (b *Batch) Add(out model.Outcome) {
	if b.final {
		panic("report: Add after Finalize")
	}
	if out.OK {
		b.rows = append(b.rows, Row{Name: out.Name, Scores: out.Scores, Pose: out.Pose})
		return
	}
	b.failed = append(b.failed, out.Name)
}

// Finalize sorts successes ascending by total energy, stable so ties
// keep arrival order, and assigns 1-based ranks.
func (b *Batch) Finalize() {
	if b.final {
		return
	}
	sort.SliceStable(b.rows, func(i, j int) bool {
		return b.rows[i].Scores.Total < b.rows[j].Scores.Total
	})
	for i := range b.rows {
		b.rows[i].Rank = i + 1
	}
	b.final = true
}

// Rows returns the ranked successes. Valid only after Finalize.
func (b *Batch) Rows() []Row {
	b.mustBeFinal()
	return b.rows
}

// Failed returns the names of the failed molecules in arrival order.
func (b *Batch) Failed() []string {
	return b.failed
}

// Summary are the batch totals. Succeeded + Failed == Total always
// holds.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
}

// Rate is the success percentage, 0 for an empty batch.
func (s Summary) Rate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Total) * 100
}

func (b *Batch) Summary() Summary {
	return Summary{
		Total:     len(b.rows) + len(b.failed),
		Succeeded: len(b.rows),
		Failed:    len(b.failed),
	}
}

// WriteCSV writes the ranked table, header included, every energy term
// with 3 decimal places.
func (b *Batch) WriteCSV(w io.Writer) error {
	b.mustBeFinal()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Rank", "Molecule", "Energy", "ATDK_E", "INT_E", "DS_E", "HM_E", "PLP"}); err != nil {
		return fmt.Errorf("writing summary header: %w", err)
	}
	for _, row := range b.rows {
		rec := []string{
			fmt.Sprintf("%d", row.Rank),
			row.Name,
			fmt.Sprintf("%.3f", row.Scores.Total),
			fmt.Sprintf("%.3f", row.Scores.ATDK),
			fmt.Sprintf("%.3f", row.Scores.Internal),
			fmt.Sprintf("%.3f", row.Scores.DS),
			fmt.Sprintf("%.3f", row.Scores.HM),
			fmt.Sprintf("%.3f", row.Scores.PLP),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing summary row %d: %w", row.Rank, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTopPoses concatenates the best poses in ranked order, each blob
// newline-terminated. Successes without a pose record are skipped.
func (b *Batch) WriteTopPoses(w io.Writer) error {
	b.mustBeFinal()

	for _, row := range b.rows {
		if row.Pose == "" {
			continue
		}
		if _, err := io.WriteString(w, row.Pose); err != nil {
			return fmt.Errorf("writing pose of %s: %w", row.Name, err)
		}
		if !strings.HasSuffix(row.Pose, "\n") {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return fmt.Errorf("writing pose of %s: %w", row.Name, err)
			}
		}
	}
	return nil
}

// WriteFailed writes the failed molecule names, one per line. The
// caller decides whether a file is warranted at all.
func (b *Batch) WriteFailed(w io.Writer) error {
	for _, name := range b.failed {
		if _, err := fmt.Fprintln(w, name); err != nil {
			return fmt.Errorf("writing failed list: %w", err)
		}
	}
	return nil
}

func (b *Batch) mustBeFinal() {
	if !b.final {
		panic("report: batch not finalized")
	}
}
