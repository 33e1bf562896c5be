package pipelines

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/juju/errors"

	"github.com/warriorguo/stemflow/runtime"
	"github.com/warriorguo/stemflow/types"
)

// BPMTolerance is the absolute difference under which two BPM values are equal.
const BPMTolerance = 0.0001

// CompletionReport is the outcome of the consistency check closing an audio run.
type CompletionReport struct {
	SessionID  string
	Status     types.SessionStatus
	Mismatches []string
}

func (r *CompletionReport) Completed() bool {
	return r.Status == types.SessionCompleted
}

type completion struct {
	deps *Deps
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

/**
 * verifySession compares the stored document with the in-memory branch
 * outputs and returns every mismatch found.
 */
func verifySession(sess *types.Session, analysis *AnalysisResult, stemsResult *StemsResult) []string {
	mismatches := []string{}
	if sess.Progress.AudioAnalysis != types.ProgressCompleted || sess.Progress.Stems != types.ProgressCompleted {
		mismatches = append(mismatches, fmt.Sprintf("Incomplete processing: audio-analysis=%s, stems=%s",
			sess.Progress.AudioAnalysis, sess.Progress.Stems))
	}

	if stored := sess.EssentiaAnalysis; stored == nil {
		mismatches = append(mismatches, "Missing essentia analysis in session")
	} else {
		computed := analysis.Analysis
		if math.Abs(stored.BPM-computed.BPM) > BPMTolerance {
			mismatches = append(mismatches, fmt.Sprintf("BPM mismatch: stored %v, computed %v", stored.BPM, computed.BPM))
		}
		if stored.Key != computed.Key {
			mismatches = append(mismatches, fmt.Sprintf("Key mismatch: stored %q, computed %q", stored.Key, computed.Key))
		}
		if stored.Scale != computed.Scale {
			mismatches = append(mismatches, fmt.Sprintf("Scale mismatch: stored %q, computed %q", stored.Scale, computed.Scale))
		}
	}

	stored, computed := sortedKeys(sess.Stems), sortedKeys(stemsResult.Stems)
	if strings.Join(stored, ",") != strings.Join(computed, ",") {
		mismatches = append(mismatches, fmt.Sprintf("Stems mismatch: stored [%s], computed [%s]",
			strings.Join(stored, ", "), strings.Join(computed, ", ")))
	}
	return mismatches
}

// updateCompletionStatus is the only node writing the session status.
func (c *completion) updateCompletionStatus(ctx types.Context, inputs []any) (any, error) {
	analysis, err := runtime.InputAs[*AnalysisResult](inputs, 0)
	if err != nil {
		return nil, errors.Trace(err)
	}
	stemsResult, err := runtime.InputAs[*StemsResult](inputs, 1)
	if err != nil {
		return nil, errors.Trace(err)
	}
	staged, err := runtime.InputAs[*StagedAudio](inputs, 2)
	if err != nil {
		return nil, errors.Trace(err)
	}
	entry := nodeLogger(c.deps.logger(), ctx, NodeUpdateCompletionStatus, staged.SessionID)

	report := &CompletionReport{SessionID: staged.SessionID}
	sess, err := c.deps.Sessions.FindOne(ctx, staged.SessionID)
	switch {
	case err != nil:
		report.Mismatches = []string{fmt.Sprintf("Session read failed: %v", err)}
	case sess == nil:
		report.Mismatches = []string{"Session document not found"}
	default:
		report.Mismatches = verifySession(sess, analysis, stemsResult)
	}

	report.Status = types.SessionCompleted
	if len(report.Mismatches) > 0 {
		report.Status = types.SessionFailed
		entry.Errorf("session verification failed: %s", strings.Join(report.Mismatches, "; "))
	}

	bestEffort(entry, "writing session status", func() error {
		return c.deps.Sessions.UpdateOne(ctx, staged.SessionID, types.Data{types.FieldStatus: report.Status})
	})
	entry.Infof("session %s", report.Status)
	return report, nil
}
