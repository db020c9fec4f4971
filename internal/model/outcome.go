package model

// Unit is one molecule extracted from the ligand library: its sanitized
// name plus the path of its single-record mol2 file. Units are immutable
// once created by the splitter.
type Unit struct {
	Name string
	Path string
}

// FailureCause enumerates every way a single docking job can fail.
// Failures are scoped to one Unit and never abort the batch.
type FailureCause int

const (
	CauseNone FailureCause = iota
	CauseTimeout
	CauseNonZeroExit
	CauseMissingArtifact
	CauseMalformedArtifact
	CauseUnexpected
)

func (c FailureCause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseTimeout:
		return "timeout"
	case CauseNonZeroExit:
		return "non-zero exit"
	case CauseMissingArtifact:
		return "missing artifact"
	case CauseMalformedArtifact:
		return "malformed artifact"
	case CauseUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// Scores holds the energy terms of the best-ranked pose. Total is the
// primary ranking key, lower is better.
type Scores struct {
	Total    float64
	ATDK     float64
	Internal float64
	DS       float64
	HM       float64
	PLP      float64
}

// Outcome is the terminal result of docking one Unit. Exactly one
// Outcome is produced per Unit. It is a value, never mutated.
type Outcome struct {
	Name   string
	OK     bool
	Scores Scores
	Pose   string
	Cause  FailureCause
}

func Success(name string, scores Scores, pose string) Outcome {
	return Outcome{Name: name, OK: true, Scores: scores, Pose: pose}
}

func Failed(name string, cause FailureCause) Outcome {
	return Outcome{Name: name, Cause: cause}
}
