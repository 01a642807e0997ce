package evaluate

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
	"github.com/thywilljoshua/chart-context-study/internal/metrics"
	"github.com/thywilljoshua/chart-context-study/internal/tables"
)

const stage = "evaluate"

const (
	raterCookie   = "rater"
	sessionCookie = "session"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Server is the local rating web form.
type Server struct {
	study     *Study
	rater     string
	sessionID string
	log       zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewServer returns a form server for study. A non-empty rater fixes the rater id and skips the start page.
func NewServer(study *Study, rater string, log zerolog.Logger, m *metrics.Metrics) *Server {
	return &Server{study: study, rater: rater, sessionID: uuid.NewString(), log: log, metrics: m, now: time.Now}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/", s.handleIndex)
	r.Post("/start", s.handleStart)
	r.Post("/rate", s.handleRate)
	r.Get("/images/{imageID}", s.handleImage)
	if s.metrics != nil {
		r.Get("/metrics", promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{}).ServeHTTP)
	}
	return r
}

// Serve runs the form on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// who returns the rater and session of a request; the rater is empty before the start page was submitted.
func (s *Server) who(r *http.Request) (rater, session string) {
	if s.rater != "" {
		return s.rater, s.sessionID
	}
	if c, err := r.Cookie(raterCookie); err == nil {
		rater = c.Value
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		session = c.Value
	}
	return rater, session
}

type dimensionView struct {
	Key      string
	Question string
	A, B     int
}

type formView struct {
	Rater      string
	Item       tables.Pair
	Progress   Progress
	Position   int
	Scale      []int
	Dimensions []dimensionView
	Preference string
	Comments   string
	Problems   []string
}

func (s *Server) formView(rater string, item tables.Pair, p Progress, rt ratings, problems []string) formView {
	v := formView{
		Rater:      rater,
		Item:       item,
		Progress:   p,
		Position:   p.Done + 1,
		Preference: string(rt.Preference),
		Comments:   rt.Comments,
		Problems:   problems,
	}
	for i := 1; i <= s.study.scaleMax; i++ {
		v.Scale = append(v.Scale, i)
	}
	for _, d := range s.study.dims {
		v.Dimensions = append(v.Dimensions, dimensionView{Key: d, Question: question(d), A: rt.ScoresA[d], B: rt.ScoresB[d]})
	}
	return v
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error().Err(err).Str("template", name).Msg("Render failed")
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	rater, _ := s.who(r)
	if rater == "" {
		s.render(w, http.StatusOK, "start.html", map[string]any{})
		return
	}
	item, p, ok := s.study.Next(rater)
	if !ok {
		s.render(w, http.StatusOK, "done.html", map[string]any{"Rater": rater, "Progress": p})
		return
	}
	s.render(w, http.StatusOK, "form.html", s.formView(rater, item, p, ratings{}, nil))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	rater := r.PostForm.Get("rater_id")
	if rater == "" || len(rater) > 64 {
		s.render(w, http.StatusUnprocessableEntity, "start.html", map[string]any{"Problem": "Enter your rater ID to begin."})
		return
	}
	http.SetCookie(w, &http.Cookie{Name: raterCookie, Value: rater, Path: "/", HttpOnly: true, SameSite: http.SameSiteStrictMode})
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: uuid.NewString(), Path: "/", HttpOnly: true, SameSite: http.SameSiteStrictMode})
	s.log.Info().Str("rater", rater).Msg("Rater started")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	rater, session := s.who(r)
	if rater == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	item, ok := s.study.Item(r.PostForm.Get("image_id"))
	if !ok {
		http.Error(w, "unknown item", http.StatusBadRequest)
		return
	}

	rt, problems := parseRatings(r.PostForm, s.study.dims, s.study.scaleMax)
	if len(problems) > 0 {
		_, p, _ := s.study.Next(rater)
		s.render(w, http.StatusUnprocessableEntity, "form.html", s.formView(rater, item, p, rt, problems))
		return
	}

	recorded, err := s.study.Submit(domain.EvaluationEntry{
		SessionID:   session,
		RaterID:     rater,
		ImageID:     item.ImageID,
		ScoresA:     rt.ScoresA,
		ScoresB:     rt.ScoresB,
		Preference:  rt.Preference,
		Comments:    rt.Comments,
		SubmittedAt: s.now().UTC(),
	})
	if err != nil {
		s.log.Error().Err(err).Str("image", item.ImageID).Msg("Saving rating failed")
		http.Error(w, "could not save rating", http.StatusInternalServerError)
		return
	}
	if recorded {
		s.metrics.Item(stage, metrics.OutcomeDone)
		s.log.Info().Str("rater", rater).Str("image", item.ImageID).Msg("Rating saved")
	} else {
		s.metrics.Item(stage, metrics.OutcomeSkipped)
		s.log.Debug().Str("rater", rater).Str("image", item.ImageID).Msg("Duplicate rating ignored")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	item, ok := s.study.Item(chi.URLParam(r, "imageID"))
	if !ok || item.ImagePath == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.FromSlash(item.ImagePath))
}
