package httpserver

import (
	"fmt"
	"math"
	"net/http"

	"go.uber.org/zap"

	"filedeck/internal/session"
)

type loginData struct {
	RememberMe bool
	Username   string
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	st := current(r)
	if st.sess.Authenticated {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		p := s.newPage(r, "Login")
		p.Data = loginData{RememberMe: s.cfg.Auth.RememberMe}
		s.render(w, http.StatusOK, "login", p)
	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
		s.login(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	back := func(msg string) {
		s.flash(r, session.FlashError, msg)
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
	if !s.csrfOK(r) {
		back("Invalid security token")
		return
	}
	ip := clientIP(r)
	if ok, wait := s.throttle.Check(ip); !ok {
		secs := int(math.Ceil(wait.Seconds()))
		back(fmt.Sprintf("Too many failed attempts. Try again in %d seconds.", secs))
		return
	}

	username := r.PostFormValue("username")
	id, ok := s.users.Authenticate(username, r.PostFormValue("password"))
	if !ok {
		s.throttle.Fail(ip)
		s.metrics.LoginFailures.Inc()
		s.log.Warn("login failed", zap.String("user", username), zap.String("ip", ip))
		back("Invalid username or password")
		return
	}
	s.throttle.Reset(ip)

	sess, err := s.sessions.Login(current(r).sess.ID, id.Username, id.Role)
	if err != nil {
		back("Session expired, please try again")
		return
	}
	s.setSessionCookie(w, sess)
	if s.cfg.Auth.RememberMe && r.PostFormValue("remember_me") == "on" {
		tok, err := s.remember.Issue(id.Username)
		if err != nil {
			s.log.Error("remember token", zap.Error(err))
		} else {
			s.setRememberCookie(w, tok)
		}
	}
	s.log.Info("login", zap.String("user", id.Username), zap.String("role", id.Role), zap.String("ip", ip))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.csrfOK(r) {
		http.Error(w, "Invalid security token", http.StatusForbidden)
		return
	}
	st := current(r)
	s.sessions.Destroy(st.sess.ID)
	s.clearCookie(w, s.cfg.Auth.SessionName)
	s.clearCookie(w, rememberCookie)
	if st.sess.Username != "" {
		s.log.Info("logout", zap.String("user", st.sess.Username))
	}
	s.metrics.SessionsActive.Set(float64(s.sessions.Prune()))
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
