package evaluate

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thywilljoshua/chart-context-study/internal/blind"
	"github.com/thywilljoshua/chart-context-study/internal/domain"
	"github.com/thywilljoshua/chart-context-study/internal/tables"
)

var (
	dims   = []string{"accuracy", "clarity", "relevance", "completeness"}
	secret = []byte("rating-secret")
)

func writePairs(t *testing.T, ids ...string) string {
	t.Helper()
	dir := t.TempDir()
	var (
		pairs []tables.Pair
		as    []domain.Assignment
	)
	for _, id := range ids {
		img := filepath.Join(dir, id+".png")
		require.NoError(t, os.WriteFile(img, []byte("png-"+id), 0o644))
		a := blind.Assign(secret, id)
		textA, textB := blind.Texts(a, "with "+id, "without "+id)
		pairs = append(pairs, tables.Pair{ImageID: id, ImagePath: filepath.ToSlash(img), TextA: textA, TextB: textB})
		as = append(as, a)
	}
	require.NoError(t, tables.WritePairs(filepath.Join(dir, tables.PairsFile), pairs))
	require.NoError(t, tables.WriteAssignments(filepath.Join(dir, tables.AssignmentsFile), as))
	return dir
}

func completeForm(imageID string) url.Values {
	v := url.Values{"image_id": {imageID}, "preference": {"A"}, "comments": {" fine "}}
	for i, d := range dims {
		v.Set("a_"+d, string(rune('1'+i)))
		v.Set("b_"+d, "7")
	}
	return v
}

func TestParseRatings(t *testing.T) {
	rt, problems := parseRatings(completeForm("x"), dims, 7)
	assert.Empty(t, problems)
	assert.Equal(t, map[string]int{"accuracy": 1, "clarity": 2, "relevance": 3, "completeness": 4}, rt.ScoresA)
	assert.Equal(t, 7, rt.ScoresB["clarity"])
	assert.Equal(t, domain.PreferA, rt.Preference)
	assert.Equal(t, "fine", rt.Comments)

	v := completeForm("x")
	v.Del("a_clarity")
	v.Set("b_accuracy", "8")
	v.Set("b_relevance", "two")
	v.Del("preference")
	_, problems = parseRatings(v, dims, 7)
	assert.Equal(t, []string{
		"Text A: rate clarity.",
		"Text B: accuracy must be between 1 and 7.",
		"Text B: relevance must be between 1 and 7.",
		"Choose which text you prefer overall.",
	}, problems)

	v = completeForm("x")
	v.Set("preference", "with_context")
	_, problems = parseRatings(v, dims, 7)
	assert.Equal(t, []string{"Unknown preference."}, problems)
}

func TestStudyOrderSubmitAndResume(t *testing.T) {
	ids := []string{"a-p1-01", "b-p1-01", "c-p1-01", "d-m01"}
	dir := writePairs(t, ids...)

	s, err := OpenStudy(dir, secret, dims, 7)
	require.NoError(t, err)
	order := blind.Order(secret, ids)

	item, p, ok := s.Next("r1")
	require.True(t, ok)
	assert.Equal(t, order[0], item.ImageID)
	assert.Equal(t, Progress{Done: 0, Total: 4}, p)

	entry := domain.EvaluationEntry{
		SessionID: "s1", RaterID: "r1", ImageID: order[0],
		ScoresA: map[string]int{"accuracy": 5, "clarity": 5, "relevance": 5, "completeness": 5},
		ScoresB: map[string]int{"accuracy": 3, "clarity": 3, "relevance": 3, "completeness": 3},
		Preference: domain.PreferB, SubmittedAt: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	recorded, err := s.Submit(entry)
	require.NoError(t, err)
	assert.True(t, recorded)

	recorded, err = s.Submit(entry)
	require.NoError(t, err)
	assert.False(t, recorded, "duplicate ignored")

	_, err = s.Submit(domain.EvaluationEntry{RaterID: "r1", ImageID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownImage)

	item, p, _ = s.Next("r1")
	assert.Equal(t, order[1], item.ImageID)
	assert.Equal(t, 1, p.Done)
	item, _, _ = s.Next("r2")
	assert.Equal(t, order[0], item.ImageID, "raters progress independently")
	require.NoError(t, s.Close())

	s, err = OpenStudy(dir, secret, dims, 7)
	require.NoError(t, err)
	defer s.Close()
	item, p, _ = s.Next("r1")
	assert.Equal(t, order[1], item.ImageID)
	assert.Equal(t, 1, p.Done)

	results, err := tables.ReadResults(filepath.Join(dir, tables.ResultsFile), dims)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, entry.ScoresA, results[0].ScoresA)
}

func TestOpenStudyWithoutPairsIsPrecondition(t *testing.T) {
	_, err := OpenStudy(t.TempDir(), secret, dims, 7)
	assert.True(t, domain.IsPrecondition(err))
}

func noRedirect(c *http.Client) *http.Client {
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return c
}

func TestServerRatingFlow(t *testing.T) {
	ids := []string{"a-p1-01", "b-p1-01"}
	dir := writePairs(t, ids...)
	s, err := OpenStudy(dir, secret, dims, 7)
	require.NoError(t, err)
	defer s.Close()

	srv := httptest.NewServer(NewServer(s, "", zerolog.Nop(), nil).Handler())
	defer srv.Close()
	client := noRedirect(srv.Client())

	resp, err := client.Get(srv.URL + "/")
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Contains(t, body, `name="rater_id"`)

	resp, err = client.PostForm(srv.URL+"/start", url.Values{"rater_id": {""}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	resp, err = client.PostForm(srv.URL+"/start", url.Values{"rater_id": {"rater-7"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	cookies := resp.Cookies()
	resp.Body.Close()
	require.Len(t, cookies, 2)

	get := func(path string) *http.Response {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		resp, err := client.Do(req)
		require.NoError(t, err)
		return resp
	}
	post := func(v url.Values) *http.Response {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/rate", strings.NewReader(v.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		for _, c := range cookies {
			req.AddCookie(c)
		}
		resp, err := client.Do(req)
		require.NoError(t, err)
		return resp
	}

	order := blind.Order(secret, ids)
	first, _ := s.Item(order[0])
	body = readBody(t, get("/"))
	assert.Contains(t, body, first.TextA)
	assert.Contains(t, body, first.TextB)
	assert.Contains(t, body, "item 1 of 2")
	assert.NotContains(t, body, "with_context")
	assert.NotContains(t, body, "without_context")

	incomplete := completeForm(order[0])
	incomplete.Del("preference")
	incomplete.Del("b_clarity")
	resp = post(incomplete)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body = readBody(t, resp)
	assert.Contains(t, body, "Choose which text you prefer overall.")
	assert.Contains(t, body, "Text B: rate clarity.")
	assert.Contains(t, body, `name="a_accuracy" value="1" checked`, "entered values are kept")

	resp = post(completeForm(order[0]))
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	resp.Body.Close()
	resp = post(completeForm(order[0]))
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	resp.Body.Close()

	body = readBody(t, get("/"))
	assert.Contains(t, body, "item 2 of 2")

	resp = post(completeForm(order[1]))
	resp.Body.Close()
	body = readBody(t, get("/"))
	assert.Contains(t, body, "All 2 items are rated")

	resp = get("/images/" + order[0])
	assert.Equal(t, "png-"+order[0], readBody(t, resp))
	resp = get("/images/unknown")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	results, err := tables.ReadResults(filepath.Join(dir, tables.ResultsFile), dims)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "rater-7", results[0].RaterID)
	assert.NotEmpty(t, results[0].SessionID)
	assert.Equal(t, "fine", results[0].Comments)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	dir := writePairs(t, "a-p1-01")
	s, err := OpenStudy(dir, secret, dims, 7)
	require.NoError(t, err)
	defer s.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(s, "fixed", zerolog.Nop(), nil).Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	assert.Contains(t, readBody(t, resp), "fixed")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestUnblind(t *testing.T) {
	ids := []string{"a-p1-01", "b-p1-01", "c-p1-01"}
	dir := writePairs(t, ids...)
	s, err := OpenStudy(dir, secret, dims, 7)
	require.NoError(t, err)
	prefs := []domain.Preference{domain.PreferA, domain.PreferB, domain.PreferEqual}
	for i, id := range ids {
		a := map[string]int{}
		b := map[string]int{}
		for _, d := range dims {
			a[d], b[d] = 6, 2
		}
		_, err := s.Submit(domain.EvaluationEntry{SessionID: "s", RaterID: "r", ImageID: id, ScoresA: a, ScoresB: b, Preference: prefs[i]})
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	n, err := Unblind(dir, dims)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := tables.Read(filepath.Join(dir, tables.UnblindedFile), tables.UnblindedHeader(dims))
	require.NoError(t, err)
	require.Equal(t, 3, rows.Len())
	for i, id := range ids {
		a := blind.Assign(secret, id)
		want := map[bool]string{true: "6", false: "2"}
		assert.Equal(t, want[a.AMode == domain.WithContext], rows.Get(i, "with_context_accuracy"), id)
		assert.Equal(t, want[a.AMode != domain.WithContext], rows.Get(i, "without_context_accuracy"), id)
	}
	assert.Equal(t, string(blind.Assign(secret, ids[0]).AMode), rows.Get(0, "preference_actual"))
	assert.Equal(t, string(blind.Assign(secret, ids[1]).BMode()), rows.Get(1, "preference_actual"))
	assert.Equal(t, "equal", rows.Get(2, "preference_actual"))
}

func TestUnblindRejectsUnknownImage(t *testing.T) {
	dir := writePairs(t, "a-p1-01")
	rw, err := tables.OpenResults(filepath.Join(dir, tables.ResultsFile), dims)
	require.NoError(t, err)
	require.NoError(t, rw.Append(domain.EvaluationEntry{RaterID: "r", ImageID: "zzz", Preference: domain.PreferA, SubmittedAt: time.Now()}))
	require.NoError(t, rw.Close())

	_, err = Unblind(dir, dims)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var b strings.Builder
	_, err := io.Copy(&b, resp.Body)
	require.NoError(t, err)
	return b.String()
}
