// Package suncotest provides an in-memory Sunshine Conversations API for tests.
package suncotest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lhdbsbz/adarelay/internal/sunco"
)

// Server fakes the appUser and messages endpoints of one or more apps.
type Server struct {
	*httptest.Server

	// KeyID and Secret are the only basic-auth credentials accepted.
	KeyID  string
	Secret string

	mu       sync.Mutex
	users    map[string]*sunco.AppUser  // appId/userId → user
	messages map[string][]sunco.Message // appUser _id → history
	failOps  map[string]int             // op → status to return
	seq      int

	Calls atomic.Int64
}

func NewServer() *Server {
	s := &Server{
		KeyID:    "key_test",
		Secret:   "secret_test",
		users:    make(map[string]*sunco.AppUser),
		messages: make(map[string][]sunco.Message),
		failOps:  make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Fail makes every request for op ("get_user", "create_user", "post_message",
// "list_messages") answer with status.
func (s *Server) Fail(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOps[op] = status
}

// Reply appends an appMaker message to an appUser's history.
func (s *Server) Reply(appUserID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.messages[appUserID] = append(s.messages[appUserID], sunco.Message{
		ID:   fmt.Sprintf("msg_%d", s.seq),
		Role: sunco.RoleAppMaker,
		Type: "text",
		Text: text,
	})
}

// Messages returns a copy of an appUser's history.
func (s *Server) Messages(appUserID string) []sunco.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sunco.Message(nil), s.messages[appUserID]...)
}

// UserCount is the number of appUsers created so far.
func (s *Server) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.Calls.Add(1)

	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]string{"code": "unauthorized"}})
		return
	}

	// /v1.1/apps/{app}/appusers[/{id}[/messages]]
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 4 || parts[0] != "v1.1" || parts[1] != "apps" || parts[3] != "appusers" {
		http.NotFound(w, r)
		return
	}
	app := parts[2]

	switch {
	case len(parts) == 4 && r.Method == http.MethodPost:
		s.createUser(w, r, app)
	case len(parts) == 5 && r.Method == http.MethodGet:
		s.getUser(w, app, parts[4])
	case len(parts) == 6 && parts[5] == "messages" && r.Method == http.MethodPost:
		s.postMessage(w, r, parts[4])
	case len(parts) == 6 && parts[5] == "messages" && r.Method == http.MethodGet:
		s.listMessages(w, parts[4])
	default:
		http.NotFound(w, r)
	}
}

// authorized accepts basic auth with KeyID/Secret or an HS256 app token whose
// kid is KeyID.
func (s *Server) authorized(r *http.Request) bool {
	if key, secret, ok := r.BasicAuth(); ok {
		return key == s.KeyID && secret == s.Secret
	}
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != s.KeyID {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return []byte(s.Secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return false
	}
	claims, _ := token.Claims.(jwt.MapClaims)
	return claims["scope"] == "app"
}

func (s *Server) failed(w http.ResponseWriter, op string) bool {
	s.mu.Lock()
	status, ok := s.failOps[op]
	s.mu.Unlock()
	if ok {
		writeJSON(w, status, map[string]any{"error": map[string]string{"code": "injected"}})
	}
	return ok
}

func (s *Server) getUser(w http.ResponseWriter, app, userID string) {
	if s.failed(w, "get_user") {
		return
	}
	s.mu.Lock()
	user, ok := s.users[app+"/"+userID]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "user_not_found"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appUser": user})
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request, app string) {
	if s.failed(w, "create_user") {
		return
	}
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"code": "bad_request"}})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := app + "/" + body.UserID
	if _, exists := s.users[key]; exists {
		writeJSON(w, http.StatusConflict, map[string]any{"error": map[string]string{"code": "conflict"}})
		return
	}
	s.seq++
	user := &sunco.AppUser{ID: fmt.Sprintf("au_%d", s.seq), UserID: body.UserID}
	s.users[key] = user
	writeJSON(w, http.StatusCreated, map[string]any{"appUser": user})
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request, appUserID string) {
	if s.failed(w, "post_message") {
		return
	}
	var body sunco.Message
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"code": "bad_request"}})
		return
	}
	s.mu.Lock()
	s.seq++
	body.ID = fmt.Sprintf("msg_%d", s.seq)
	s.messages[appUserID] = append(s.messages[appUserID], body)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{"message": body, "extraMessages": []any{}})
}

func (s *Server) listMessages(w http.ResponseWriter, appUserID string) {
	if s.failed(w, "list_messages") {
		return
	}
	msgs := s.Messages(appUserID)
	if msgs == nil {
		msgs = []sunco.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
