package dock

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/moldock/moldock/internal/model"
	"github.com/moldock/moldock/internal/mol2"
)

// energyHeaderLines is the fixed header size of the energy table; the
// line after it describes the best-ranked (Top 1) pose.
const energyHeaderLines = 3

// SentinelScore replaces the asterisk fill the docking binary writes
// for a term it could not compute. Large but finite, so the molecule
// still ranks, at the bottom.
const SentinelScore = 1e9

var (
	ErrShortEnergyTable = errors.New("energy table has no pose line")
	ErrShortEnergyLine  = errors.New("energy line has too few columns")
)

// ParseEnergy reads the energy table and returns the scores of the
// best-ranked pose. The table starts with a 3 line header; the first
// pose line must hold at least 7 whitespace-separated columns: rank,
// total energy and the five component terms.
func ParseEnergy(r io.Reader) (model.Scores, error) {
	sc := bufio.NewScanner(r)
	for i := 0; i <= energyHeaderLines; i++ {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return model.Scores{}, fmt.Errorf("reading energy table: %w", err)
			}
			return model.Scores{}, ErrShortEnergyTable
		}
	}

	fields := strings.Fields(sc.Text())
	if len(fields) < 7 {
		return model.Scores{}, fmt.Errorf("%w: got %d", ErrShortEnergyLine, len(fields))
	}

	var scores model.Scores
	for i, dst := range []*float64{
		&scores.Total, &scores.ATDK, &scores.Internal, &scores.DS, &scores.HM, &scores.PLP,
	} {
		v, err := parseScore(fields[i+1])
		if err != nil {
			return model.Scores{}, fmt.Errorf("energy column %d: %w", i+1, err)
		}
		*dst = v
	}
	return scores, nil
}

// parseScore parses one energy term. A token consisting only of
// asterisks is the table's overflow fill and maps to SentinelScore.
func parseScore(token string) (float64, error) {
	if token != "" && strings.Trim(token, "*") == "" {
		return SentinelScore, nil
	}
	return strconv.ParseFloat(token, 64)
}

// FirstPose returns the first molecule record of a ranked pose file,
// marker line included, up to but not including the second marker.
// A file without any marker yields an empty pose.
func FirstPose(r io.Reader) (string, error) {
	var (
		sb      strings.Builder
		started bool
	)
	br := bufio.NewReader(r)
	for {
		line, readErr := br.ReadString('\n')
		if line != "" {
			if strings.HasPrefix(line, mol2.Marker) {
				if started {
					break
				}
				started = true
			}
			if started {
				sb.WriteString(line)
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				return "", fmt.Errorf("reading pose file: %w", readErr)
			}
			break
		}
	}
	return sb.String(), nil
}
