package evaluate

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
	"github.com/thywilljoshua/chart-context-study/internal/tables"
)

// Unblind joins results.csv with assignments.csv and writes unblinded.csv. It returns the number of rows.
func Unblind(dataDir string, dims []string) (int, error) {
	assignments, err := tables.ReadAssignments(filepath.Join(dataDir, tables.AssignmentsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, domain.PreconditionError("unblind", fmt.Errorf("%s not found", tables.AssignmentsFile))
	}
	if err != nil {
		return 0, domain.FormatError("read assignments", err)
	}
	results, err := tables.ReadResults(filepath.Join(dataDir, tables.ResultsFile), dims)
	if err != nil {
		return 0, domain.FormatError("read results", err)
	}

	rows := make([]tables.UnblindedRow, 0, len(results))
	for _, e := range results {
		a, ok := assignments[e.ImageID]
		if !ok {
			return 0, domain.ValidationError("unblind", fmt.Errorf("no assignment for image %s", e.ImageID))
		}
		rows = append(rows, unblindEntry(e, a))
	}
	if err := tables.WriteUnblinded(filepath.Join(dataDir, tables.UnblindedFile), dims, rows); err != nil {
		return 0, domain.IOError("write unblinded", err)
	}
	return len(rows), nil
}

func unblindEntry(e domain.EvaluationEntry, a domain.Assignment) tables.UnblindedRow {
	row := tables.UnblindedRow{
		RaterID:    e.RaterID,
		ImageID:    e.ImageID,
		Preference: e.Preference,
		Comments:   e.Comments,
	}
	if a.AMode == domain.WithContext {
		row.WithContext, row.WithoutContext = e.ScoresA, e.ScoresB
	} else {
		row.WithContext, row.WithoutContext = e.ScoresB, e.ScoresA
	}
	switch e.Preference {
	case domain.PreferA:
		row.PreferenceActual = string(a.AMode)
	case domain.PreferB:
		row.PreferenceActual = string(a.BMode())
	default:
		row.PreferenceActual = "equal"
	}
	return row
}
