package tables

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

func TestWriteAtomicIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ImageContextFile)
	recs := []domain.ImageRecord{
		{
			ImageID: "a-p1-01", ArticleID: "a", ImagePath: "data/selected_images/a-p1-01.png",
			SourceImagePath: "processed/a/images/a-p1-01.png", Page: 1,
			ContextBefore: []string{"Intro, with \"quotes\""}, ContextAfter: []string{"line one\nline two"},
			Context: "Intro, with \"quotes\"\n\nline one\nline two",
		},
		{ImageID: "b-m01", ArticleID: "b", Page: 0},
	}
	require.NoError(t, WriteImageContext(path, recs))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, WriteImageContext(path, recs))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, err := ReadImageContext(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, recs[0], got[0])
	assert.Empty(t, got[1].ContextBefore)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadRejectsMissingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.csv")
	require.NoError(t, os.WriteFile(path, []byte("image_id,text_a\nx,y\n"), 0o644))
	_, err := ReadPairs(path)
	assert.ErrorContains(t, err, `missing column "image_path"`)
}

func TestAssignmentsCarryBothModes(t *testing.T) {
	path := filepath.Join(t.TempDir(), AssignmentsFile)
	in := []domain.Assignment{
		{ImageID: "x", AMode: domain.WithContext},
		{ImageID: "y", AMode: domain.WithoutContext},
	}
	require.NoError(t, WriteAssignments(path, in))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "image_id,a_mode,b_mode\nx,with_context,without_context\ny,without_context,with_context\n", string(raw))

	got, err := ReadAssignments(path)
	require.NoError(t, err)
	assert.Equal(t, domain.WithoutContext, got["x"].BMode())
	assert.Equal(t, domain.WithoutContext, got["y"].AMode)
}

func TestResultsAppendAndResume(t *testing.T) {
	dims := []string{"accuracy", "clarity"}
	path := filepath.Join(t.TempDir(), ResultsFile)

	entry := domain.EvaluationEntry{
		SessionID: "s1", RaterID: "r1", ImageID: "img",
		ScoresA:    map[string]int{"accuracy": 5, "clarity": 6},
		ScoresB:    map[string]int{"accuracy": 3, "clarity": 2},
		Preference: domain.PreferA, Comments: "fine, mostly",
		SubmittedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	rw, err := OpenResults(path, dims)
	require.NoError(t, err)
	require.NoError(t, rw.Append(entry))
	require.NoError(t, rw.Close())

	rw, err = OpenResults(path, dims)
	require.NoError(t, err)
	second := entry
	second.ImageID = "img2"
	require.NoError(t, rw.Append(second))
	require.NoError(t, rw.Close())

	got, err := ReadResults(path, dims)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entry, got[0])
	assert.Equal(t, "img2", got[1].ImageID)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw),
		"session_id,rater_id,image_id,a_accuracy,a_clarity,b_accuracy,b_clarity,preference,comments,submitted_at\ns1,r1,img,5,6,3,2,A,\"fine, mostly\",2025-03-01T12:00:00Z\n"))
	assert.Equal(t, 3, strings.Count(string(raw), "\n"), "header written once")
}

func TestOpenResultsRejectsOtherDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), ResultsFile)
	rw, err := OpenResults(path, []string{"accuracy"})
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	_, err = OpenResults(path, []string{"clarity"})
	assert.Error(t, err)
}

func TestReadResultsMissingFile(t *testing.T) {
	got, err := ReadResults(filepath.Join(t.TempDir(), ResultsFile), []string{"accuracy"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResponsesRoundTripStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), ResponsesFile)
	rows := []ResponseRow{
		{ImageID: "a", Status: StatusOK, Model: "m", WithContext: "w", WithoutContext: "wo"},
		{ImageID: "b", Status: StatusFailed, Model: "m", Error: "giving up after 5 attempts"},
	}
	require.NoError(t, WriteResponses(path, rows))
	got, err := ReadResponses(path)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
	assert.True(t, got[0].OK())
	assert.False(t, got[1].OK())
}

func TestUnblindedHeader(t *testing.T) {
	assert.Equal(t, []string{
		"rater_id", "image_id", "with_context_accuracy", "without_context_accuracy",
		"preference", "preference_actual", "comments",
	}, UnblindedHeader([]string{"accuracy"}))
}
