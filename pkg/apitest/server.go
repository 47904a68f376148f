// Package apitest runs an in-memory fake of the project collaboration API for
// tests. It implements enough of the backend contract to exercise the request
// gateway end to end: JWT-style access/refresh tokens, project password
// challenges, members, invitations and recipes.
package apitest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Route names accepted by Hits.
const (
	RouteRegister       = "register"
	RouteLogin          = "login"
	RouteRefresh        = "refresh"
	RouteMyProjects     = "my-projects"
	RouteOwned          = "owned"
	RouteJoined         = "joined"
	RouteCreateProject  = "create-project"
	RouteOverview       = "overview"
	RouteVerifyPassword = "verify-password"
	RouteMembers        = "members"
	RouteMemberRole     = "member-role"
	RouteRevokeMember   = "revoke-member"
	RouteSearchUsers    = "search-users"
	RouteInvite         = "invite"
	RouteChangePin      = "change-pin"
	RouteDeleteProject  = "delete-project"
	RoutePending        = "pending-invitations"
	RouteAccept         = "accept-invitation"
	RouteReject         = "reject-invitation"
	RouteTags           = "tags"
	RouteCombinations   = "combinations"
	RouteRecipes        = "project-recipes"
	RouteCreateRecipe   = "create-recipe"
	RouteRecipe         = "recipe"
)

type user struct {
	ID       int
	Email    string
	FullName string
	Password string
}

type member struct {
	ID     int
	Email  string
	Role   string
	Status string
}

type project struct {
	ID         string
	Name       string
	PublicCode string
	Password   string
	PIN        string
	Owner      string
	CreatedAt  time.Time
	Members    []*member
}

type tag struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	DefaultValue float64 `json:"default_value"`
}

type tagValue struct {
	Tag   tag     `json:"tag"`
	Value float64 `json:"value"`
}

type combination struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	TagValues []tagValue `json:"tag_values"`
}

type recipe struct {
	ID             int
	Name           string
	ProjectID      string
	CombinationIDs []int
}

// Server is the fake backend. The exported knobs may be changed between
// requests while holding no locks; they are read under the server mutex.
type Server struct {
	*httptest.Server
	Router *mux.Router

	mu           sync.Mutex
	users        map[string]*user
	access       map[string]string // access token -> email
	refresh      map[string]string // refresh token -> email
	projects     map[string]*project
	unlocked     map[string]bool // email + "|" + project id
	tags         []tag
	combinations []combination
	recipes      map[int]*recipe
	hits         map[string]int
	nextID       int
	nextToken    int

	rotateRefresh bool
	failRefresh   bool
}

// New starts a fake backend and closes it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		Router:   mux.NewRouter(),
		users:    map[string]*user{},
		access:   map[string]string{},
		refresh:  map[string]string{},
		projects: map[string]*project{},
		unlocked: map[string]bool{},
		recipes:  map[int]*recipe{},
		hits:     map[string]int{},
	}
	s.routes()
	s.Server = httptest.NewServer(s.Router)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() {
	r := s.Router

	r.HandleFunc("/api/auth/register/", s.count(RouteRegister, s.handleRegister)).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login/", s.count(RouteLogin, s.handleLogin)).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/token/refresh/", s.count(RouteRefresh, s.handleRefresh)).Methods(http.MethodPost)

	p := r.PathPrefix("/api/projects").Subrouter()
	p.HandleFunc("/my-projects/", s.count(RouteMyProjects, s.authed(s.handleMyProjects))).Methods(http.MethodGet)
	p.HandleFunc("/owned/", s.count(RouteOwned, s.authed(s.handleOwned))).Methods(http.MethodGet)
	p.HandleFunc("/joined/", s.count(RouteJoined, s.authed(s.handleJoined))).Methods(http.MethodGet)
	p.HandleFunc("/create/", s.count(RouteCreateProject, s.authed(s.handleCreateProject))).Methods(http.MethodPost)
	p.HandleFunc("/invitations/pending/", s.count(RoutePending, s.authed(s.handlePending))).Methods(http.MethodGet)
	p.HandleFunc("/invitations/{mid:[0-9]+}/accept/", s.count(RouteAccept, s.authed(s.handleAccept))).Methods(http.MethodPost)
	p.HandleFunc("/invitations/{mid:[0-9]+}/reject/", s.count(RouteReject, s.authed(s.handleReject))).Methods(http.MethodPost)
	p.HandleFunc("/{id}/overview/", s.count(RouteOverview, s.protected(s.handleOverview))).Methods(http.MethodGet)
	p.HandleFunc("/{id}/verify-password/", s.count(RouteVerifyPassword, s.member(s.handleVerifyPassword))).Methods(http.MethodPost)
	p.HandleFunc("/{id}/members/", s.count(RouteMembers, s.protected(s.handleMembers))).Methods(http.MethodGet)
	p.HandleFunc("/{id}/members/{mid:[0-9]+}/role/", s.count(RouteMemberRole, s.protected(s.handleMemberRole))).Methods(http.MethodPatch)
	p.HandleFunc("/{id}/members/{mid:[0-9]+}/revoke/", s.count(RouteRevokeMember, s.protected(s.handleRevoke))).Methods(http.MethodDelete)
	p.HandleFunc("/{id}/search-users/", s.count(RouteSearchUsers, s.protected(s.handleSearchUsers))).Methods(http.MethodGet)
	p.HandleFunc("/{id}/invite/", s.count(RouteInvite, s.protected(s.handleInvite))).Methods(http.MethodPost)
	p.HandleFunc("/{id}/change-pin/", s.count(RouteChangePin, s.protected(s.handleChangePin))).Methods(http.MethodPost)
	p.HandleFunc("/{id}/delete/", s.count(RouteDeleteProject, s.member(s.handleDelete))).Methods(http.MethodDelete)
	p.HandleFunc("/{id}/recipes/create/", s.count(RouteCreateRecipe, s.protected(s.handleCreateRecipe))).Methods(http.MethodPost)

	r.HandleFunc("/api/tags/", s.count(RouteTags, s.authed(s.handleTags))).Methods(http.MethodGet)
	r.HandleFunc("/api/combinations/", s.count(RouteCombinations, s.authed(s.handleCombinations))).Methods(http.MethodGet)
	r.HandleFunc("/api/recipes/projects/{id}/recipes/", s.count(RouteRecipes, s.protected(s.handleRecipes))).Methods(http.MethodGet)
	r.HandleFunc("/api/recipes/recipes/{rid:[0-9]+}/", s.count(RouteRecipe, s.authed(s.handleRecipe))).Methods(http.MethodGet)
}

// Hits returns how many times a route was called.
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// RotateRefresh makes the refresh endpoint issue a new refresh token and
// invalidate the old one.
func (s *Server) RotateRefresh(on bool) {
	s.mu.Lock()
	s.rotateRefresh = on
	s.mu.Unlock()
}

// FailRefresh makes the refresh endpoint reject every token.
func (s *Server) FailRefresh(on bool) {
	s.mu.Lock()
	s.failRefresh = on
	s.mu.Unlock()
}

// AddUser registers a user and returns its id.
func (s *Server) AddUser(email, fullName, password string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(email, fullName, password).ID
}

func (s *Server) addUserLocked(email, fullName, password string) *user {
	s.nextID++
	u := &user{ID: s.nextID, Email: email, FullName: fullName, Password: password}
	s.users[email] = u
	return u
}

// Issue returns a fresh access/refresh pair for email.
func (s *Server) Issue(email string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(email)
}

func (s *Server) issueLocked(email string) (string, string) {
	s.nextToken++
	access := fmt.Sprintf("access-%d", s.nextToken)
	refresh := fmt.Sprintf("refresh-%d", s.nextToken)
	s.access[access] = email
	s.refresh[refresh] = email
	return access, refresh
}

// ExpireAccess invalidates an access token so the next use returns 401.
func (s *Server) ExpireAccess(token string) {
	s.mu.Lock()
	delete(s.access, token)
	s.mu.Unlock()
}

// AddProject creates a project owned by ownerEmail and returns its id.
func (s *Server) AddProject(name, password, pin, ownerEmail string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addProjectLocked(name, password, pin, ownerEmail).ID
}

func (s *Server) addProjectLocked(name, password, pin, ownerEmail string) *project {
	id := uuid.New()
	p := &project{
		ID:         id.String(),
		Name:       name,
		PublicCode: "APSQ-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8]),
		Password:   password,
		PIN:        pin,
		Owner:      ownerEmail,
		CreatedAt:  time.Now().UTC(),
	}
	s.nextID++
	p.Members = append(p.Members, &member{ID: s.nextID, Email: ownerEmail, Role: "admin", Status: "accepted"})
	s.projects[p.ID] = p
	return p
}

// AddMember adds a membership with the given status and returns its id.
func (s *Server) AddMember(projectID, email, role, status string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.projects[projectID]
	if p == nil {
		return 0
	}
	s.nextID++
	p.Members = append(p.Members, &member{ID: s.nextID, Email: email, Role: role, Status: status})
	return s.nextID
}

// PublicCode returns the public code of a project.
func (s *Server) PublicCode(projectID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.projects[projectID]; p != nil {
		return p.PublicCode
	}
	return ""
}

// ProjectPassword returns the current password of a project.
func (s *Server) ProjectPassword(projectID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.projects[projectID]; p != nil {
		return p.Password
	}
	return ""
}

// HasProject reports whether a project exists.
func (s *Server) HasProject(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.projects[projectID]
	return ok
}

// Unlock marks a project as verified for email.
func (s *Server) Unlock(email, projectID string) {
	s.mu.Lock()
	s.unlocked[email+"|"+projectID] = true
	s.mu.Unlock()
}

// Lock discards the verification of a project for email.
func (s *Server) Lock(email, projectID string) {
	s.mu.Lock()
	delete(s.unlocked, email+"|"+projectID)
	s.mu.Unlock()
}

// AddTag adds a tag and returns its id.
func (s *Server) AddTag(name string, defaultValue float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.tags = append(s.tags, tag{ID: s.nextID, Name: name, DefaultValue: defaultValue})
	return s.nextID
}

// AddCombination adds a combination with tag values keyed by tag id.
func (s *Server) AddCombination(name string, values map[int]float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c := combination{ID: s.nextID, Name: name}
	for _, t := range s.tags {
		if v, ok := values[t.ID]; ok {
			c.TagValues = append(c.TagValues, tagValue{Tag: t, Value: v})
		}
	}
	s.combinations = append(s.combinations, c)
	return c.ID
}

// AddRecipe adds a recipe to a project and returns its id.
func (s *Server) AddRecipe(projectID, name string, combinationIDs ...int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.recipes[s.nextID] = &recipe{ID: s.nextID, Name: name, ProjectID: projectID, CombinationIDs: combinationIDs}
	return s.nextID
}

// RecipeCount returns the number of recipes of a project.
func (s *Server) RecipeCount(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.recipes {
		if r.ProjectID == projectID {
			n++
		}
	}
	return n
}

// MemberRole returns the role of a membership, or "" when it is gone.
func (s *Server) MemberRole(projectID string, memberID int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.projects[projectID]; p != nil {
		for _, m := range p.Members {
			if m.ID == memberID {
				return m.Role
			}
		}
	}
	return ""
}

// MemberStatus returns the status of a membership, or "" when it is gone.
func (s *Server) MemberStatus(projectID string, memberID int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.projects[projectID]; p != nil {
		for _, m := range p.Members {
			if m.ID == memberID {
				return m.Status
			}
		}
	}
	return ""
}

func (s *Server) count(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[route]++
		s.mu.Unlock()
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func detail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
