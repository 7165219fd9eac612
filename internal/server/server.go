package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yuin/goldmark"

	"github.com/bedtimestories/bedtime/internal/artifact"
	"github.com/bedtimestories/bedtime/internal/database"
	"github.com/bedtimestories/bedtime/internal/library"
	"github.com/bedtimestories/bedtime/internal/story"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

var imageFile = regexp.MustCompile(`^image_\d+\.png$`)

// Stories is the read side of the story library.
type Stories interface {
	List() []library.Entry
	Get(slug string) (library.Entry, bool)
}

// Server is the HTTP server for browsing and listening to stories.
type Server struct {
	stories Stories
	db      *database.DB
	pages   map[string]*template.Template
	router  chi.Router
}

// New creates a new Server. db may be nil, in which case repair history is
// not shown.
func New(stories Stories, db *database.DB) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"duration": formatClock,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "story.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{stories: stories, db: db, pages: pages, router: chi.NewRouter()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	staticSub, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	r.Get("/", s.handleIndex)
	r.Get("/story/{slug}", s.handleStory)
	r.Get("/feed.xml", s.handleFeed)
	r.Get("/output/{slug}/{file}", s.handleMedia)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stories", s.handleListStories)
		r.Get("/stories/{slug}", s.handleGetStory)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, "index.html", map[string]any{
		"Stories": s.stories.List(),
	})
}

// storyView is the detail of one story as shown to readers.
type storyView struct {
	library.Entry
	Text         string            `json:"text"`
	Segments     []story.Segment   `json:"segments"`
	Placeholders int               `json:"placeholders"`
	Repairs      []database.Repair `json:"repairs,omitempty"`
}

func (s *Server) loadStory(slug string) (*storyView, error) {
	entry, ok := s.stories.Get(slug)
	if !ok {
		return nil, nil
	}
	f := entry.Folder()
	doc, err := f.ReadDocument()
	if err != nil {
		return nil, err
	}
	text, err := f.ReadText()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	v := &storyView{Entry: entry, Text: text, Segments: doc.Segments}
	if s.db != nil {
		repairs, err := s.db.GetRepairs(slug)
		if err != nil {
			log.Printf("Error loading repairs for %s: %v", slug, err)
		}
		v.Repairs = repairs

		if rec, err := s.db.GetStory(slug); err != nil {
			log.Printf("Error loading catalog entry for %s: %v", slug, err)
		} else if rec != nil {
			v.Placeholders = rec.Fallbacks
		}
	}
	return v, nil
}

func (s *Server) handleStory(w http.ResponseWriter, r *http.Request) {
	v, err := s.loadStory(chi.URLParam(r, "slug"))
	if err != nil {
		log.Printf("Error loading story: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if v == nil {
		http.NotFound(w, r)
		return
	}
	s.render(w, "story.html", map[string]any{"Story": v})
}

func (s *Server) handleListStories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stories.List())
}

func (s *Server) handleGetStory(w http.ResponseWriter, r *http.Request) {
	v, err := s.loadStory(chi.URLParam(r, "slug"))
	if err != nil {
		log.Printf("Error loading story: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if v == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "story not found"})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleMedia serves the artifact files of a story folder. Only the known
// artifact names are served, so nothing outside the folder is reachable.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.stories.Get(chi.URLParam(r, "slug"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	name := path.Base(chi.URLParam(r, "file"))
	contentType, ok := artifactType(name)
	if !ok {
		http.NotFound(w, r)
		return
	}

	target := entry.Folder().Path(name)
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType)
	http.ServeFile(w, r, target)
}

func artifactType(name string) (string, bool) {
	switch {
	case name == artifact.AudioFile:
		return "audio/mpeg", true
	case name == artifact.TextFile:
		return "text/plain; charset=utf-8", true
	case name == artifact.SegmentsFile:
		return "application/json", true
	case imageFile.MatchString(name):
		return "image/png", true
	}
	return "", false
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port and shuts it down when ctx
// is cancelled.
func Serve(ctx context.Context, stories Stories, db *database.DB, port int) error {
	srv, err := New(stories, db)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("graceful shutdown error: %v", err)
		}
	}()

	log.Printf("Server listening on http://%s", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
