package httpserver

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"filedeck/internal/archive"
	"filedeck/internal/auth"
	"filedeck/internal/catalog"
	"filedeck/internal/config"
	"filedeck/internal/fileops"
	"filedeck/internal/fsutil"
	"filedeck/internal/metrics"
	"filedeck/internal/session"
	"filedeck/internal/upload"
)

// rememberCookie carries the signed remember-me token.
const rememberCookie = "fm_remember"

// maxFilesPerUpload bounds the request body of a form upload.
const maxFilesPerUpload = 20

type Options struct {
	Config  config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type Server struct {
	cfg     config.Config
	log     *zap.Logger
	metrics *metrics.Metrics

	guard    *fsutil.Guard
	catalog  *catalog.Catalog
	ops      *fileops.Engine
	archives *archive.Service
	uploads  *upload.Manager

	sessions *session.Store
	users    *auth.Users
	roles    auth.Roles
	throttle *auth.Throttle
	remember *auth.Remember

	pages  map[string]*template.Template
	assets fs.FS
}

//go:embed web/templates/*.html web/assets/*
var embeddedWeb embed.FS

func New(opts Options) (*Server, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	guard, err := fsutil.NewGuard(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	ops := fileops.New(guard, fileops.Options{
		MaxUploadSize:     cfg.Upload.MaxFileSize,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		MaxEditSize:       cfg.FM.MaxEditSize,
	}, log.Named("fileops"))
	up, err := upload.New(cfg.StateDir, ops, log.Named("upload"))
	if err != nil {
		return nil, err
	}
	remember, err := auth.NewRemember(cfg.Auth.SecretKey, time.Duration(cfg.Auth.RememberDuration)*time.Second)
	if err != nil {
		return nil, err
	}
	accounts := make(map[string]auth.Account, len(cfg.Auth.Users))
	for name, u := range cfg.Auth.Users {
		accounts[name] = auth.Account{Hash: u.Password, Role: u.Role}
	}
	pages, err := parsePages(cfg.FM.DatetimeFormat)
	if err != nil {
		return nil, err
	}
	assets, err := fs.Sub(embeddedWeb, "web/assets")
	if err != nil {
		return nil, err
	}
	cat := catalog.New(guard, catalog.Options{
		ShowHidden: cfg.FM.ShowHidden,
		Exclude:    cfg.ExcludeItems,
	}, log.Named("catalog"))
	return &Server{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		guard:    guard,
		catalog:  cat,
		ops:      ops,
		archives: archive.New(guard, cat.Hidden, log.Named("archive")),
		uploads:  up,
		sessions: session.NewStore(time.Duration(cfg.Auth.SessionLifetime) * time.Second),
		users:    auth.NewUsers(accounts, cfg.Permissions.DefaultRole),
		roles:    auth.Roles(cfg.Permissions.Roles),
		throttle: auth.NewThrottle(cfg.Security.MaxLoginAttempts, time.Duration(cfg.Security.LoginCooldown)*time.Second),
		remember: remember,
		pages:    pages,
		assets:   assets,
	}, nil
}

// Uploads exposes the chunked upload manager for housekeeping.
func (s *Server) Uploads() *upload.Manager { return s.uploads }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	mux.Handle("/metrics", s.metrics.Handler())
	mux.Handle("/assets/", http.StripPrefix("/assets/", http.FileServer(http.FS(s.assets))))

	mux.Handle("/login", s.withSession(http.HandlerFunc(s.handleLogin)))
	mux.Handle("/logout", s.withSession(http.HandlerFunc(s.handleLogout)))

	mux.Handle("/f/", s.app(s.allow(auth.ActView, s.handleFile)))
	mux.Handle("/thumb", s.app(s.allow(auth.ActView, s.handleThumb)))

	mux.Handle("/api/uploads", s.app(s.allow(auth.ActUpload, s.handleUploads)))
	mux.Handle("/api/uploads/", s.app(s.allow(auth.ActUpload, s.handleUploadID)))

	if s.cfg.Auth.WebDAV {
		mux.Handle("/dav/", s.davHandler())
	}

	mux.Handle("/", s.app(http.HandlerFunc(s.handleAction)))

	gz, err := gzhttp.NewWrapper(
		gzhttp.MinSize(1024),
		gzhttp.ContentTypes([]string{"text/html", "application/json", "text/css", "text/javascript"}),
	)
	if err != nil {
		// only reachable with invalid options
		panic(err)
	}
	return s.observe(gz(mux))
}

// --- request state ---

type ctxKey int

const stateKey ctxKey = 0

// reqState is the session snapshot for one request.
type reqState struct {
	sess session.Session
}

func current(r *http.Request) *reqState {
	st, _ := r.Context().Value(stateKey).(*reqState)
	if st == nil {
		return &reqState{}
	}
	return st
}

// app is the middleware chain for pages that need a signed-in user.
func (s *Server) app(next http.Handler) http.Handler {
	return s.withSession(s.requireLogin(next))
}

// withSession loads the session named by the cookie, creating one when
// missing, and signs the visitor in automatically when login is disabled or
// a remember-me token is presented.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			sess session.Session
			ok   bool
		)
		if c, err := r.Cookie(s.cfg.Auth.SessionName); err == nil {
			sess, ok = s.sessions.Get(c.Value)
		}
		if !ok {
			sess = s.sessions.Create()
			s.setSessionCookie(w, sess)
			s.metrics.SessionsActive.Set(float64(s.sessions.Prune()))
		}
		if !sess.Authenticated {
			sess = s.autoLogin(w, r, sess)
		}
		ctx := context.WithValue(r.Context(), stateKey, &reqState{sess: sess})
		if sess.Authenticated {
			ctx = auth.WithIdentity(ctx, auth.Identity{Username: sess.Username, Role: sess.Role})
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) autoLogin(w http.ResponseWriter, r *http.Request, sess session.Session) session.Session {
	var id auth.Identity
	switch {
	case !s.cfg.Auth.RequireLogin:
		id = s.users.Default(s.cfg.Auth.DefaultUser)
	case s.cfg.Auth.RememberMe:
		c, err := r.Cookie(rememberCookie)
		if err != nil {
			return sess
		}
		name, err := s.remember.Verify(c.Value)
		if err != nil {
			s.clearCookie(w, rememberCookie)
			return sess
		}
		var known bool
		if id, known = s.users.Lookup(name); !known {
			s.clearCookie(w, rememberCookie)
			return sess
		}
	default:
		return sess
	}
	next, err := s.sessions.Login(sess.ID, id.Username, id.Role)
	if err != nil {
		return sess
	}
	s.setSessionCookie(w, next)
	return next
}

func (s *Server) requireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if current(r).sess.Authenticated {
			next.ServeHTTP(w, r)
			return
		}
		if wantsJSON(r) || r.URL.Path != "/" {
			writeJSONStatus(w, http.StatusUnauthorized, result{Message: "Authentication required"})
			return
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	})
}

// allow gates a route on a role permission.
func (s *Server) allow(action string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.can(r, action) {
			writeJSONStatus(w, http.StatusForbidden, result{Message: msgForbidden})
			return
		}
		h(w, r)
	})
}

func (s *Server) can(r *http.Request, action string) bool {
	return s.roles.Can(current(r).sess.Role, action)
}

// csrfOK checks the token from the X-CSRF-Token header or csrf_token field.
func (s *Server) csrfOK(r *http.Request) bool {
	if !s.cfg.Security.CSRFProtection {
		return true
	}
	tok := r.Header.Get("X-CSRF-Token")
	if tok == "" {
		tok = r.PostFormValue("csrf_token")
	}
	return auth.SameToken(tok, current(r).sess.CSRFToken)
}

// --- cookies ---

func (s *Server) setSessionCookie(w http.ResponseWriter, sess session.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Auth.SessionName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Security.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) setRememberCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     rememberCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.remember.TTL().Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.Security.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
}

// --- observation ---

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		d := time.Since(start)
		s.metrics.ObserveRequest(r.Method, routeLabel(r.URL.Path), rec.status, d)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("action", r.URL.Query().Get("action")),
			zap.Int("status", rec.status),
			zap.Duration("duration", d))
	})
}

func routeLabel(p string) string {
	for _, prefix := range []string{"/f/", "/dav/", "/assets/", "/api/uploads"} {
		if strings.HasPrefix(p, prefix) {
			return prefix
		}
	}
	switch p {
	case "/", "/login", "/logout", "/thumb", "/metrics", "/healthz":
		return p
	}
	return "other"
}

// --- helpers ---

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// hiddenPath reports whether any segment of rel is excluded from listings.
// Excluded entries are not served either.
func (s *Server) hiddenPath(rel string) bool {
	if rel == "" {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if s.catalog.Hidden(part) {
			return true
		}
	}
	return false
}

// thumbKey names the cache file of rel; distinct paths never share a key.
func thumbKey(rel string, mtime int64) string {
	sum := sha256.Sum256([]byte(rel))
	return fmt.Sprintf("%s-%d.jpg", hex.EncodeToString(sum[:]), mtime)
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return true
	default:
		return false
	}
}

func thumbDir(stateDir string) string { return filepath.Join(stateDir, "thumbs") }
