package apitest

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

type authedHandler func(w http.ResponseWriter, r *http.Request, u *user)

type projectHandler func(w http.ResponseWriter, r *http.Request, u *user, p *project)

func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		s.mu.Lock()
		u := s.users[s.access[token]]
		s.mu.Unlock()

		if token == "" || u == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"detail": "Given token not valid for any token type",
				"code":   "token_not_valid",
			})
			return
		}
		h(w, r, u)
	}
}

// member requires an accepted membership of the project in the path.
func (s *Server) member(h projectHandler) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, u *user) {
		s.mu.Lock()
		p := s.projects[mux.Vars(r)["id"]]
		var m *member
		if p != nil {
			m = p.memberByEmail(u.Email)
		}
		s.mu.Unlock()

		if p == nil {
			detail(w, http.StatusNotFound, "Not found.")
			return
		}
		if m == nil || m.Status != "accepted" {
			detail(w, http.StatusForbidden, "You do not have permission to perform this action.")
			return
		}
		h(w, r, u, p)
	})
}

// protected additionally requires the project password to be verified.
func (s *Server) protected(h projectHandler) http.HandlerFunc {
	return s.member(func(w http.ResponseWriter, r *http.Request, u *user, p *project) {
		s.mu.Lock()
		ok := s.unlocked[u.Email+"|"+p.ID]
		s.mu.Unlock()

		if !ok {
			detail(w, http.StatusForbidden, "Project password required")
			return
		}
		h(w, r, u, p)
	})
}

func (p *project) memberByEmail(email string) *member {
	for _, m := range p.Members {
		if m.Email == email {
			return m
		}
	}
	return nil
}

func (p *project) memberByID(id int) *member {
	for _, m := range p.Members {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		FullName string `json:"full_name"`
		Password string `json:"password"`
		Confirm  string `json:"confirm_password"`
	}
	if err := decodeBody(r, &in); err != nil {
		detail(w, http.StatusBadRequest, "JSON parse error")
		return
	}
	if in.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"email": {"This field is required."}})
		return
	}
	if in.Password != in.Confirm {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"non_field_errors": {"Passwords do not match."}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[in.Email]; ok {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"email": {"user with this email already exists."}})
		return
	}
	s.addUserLocked(in.Email, in.FullName, in.Password)
	writeJSON(w, http.StatusCreated, map[string]string{"message": "User registered successfully."})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &in); err != nil {
		detail(w, http.StatusBadRequest, "JSON parse error")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[in.Email]
	if u == nil || u.Password != in.Password {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"non_field_errors": {"Invalid email or password."}})
		return
	}
	access, refresh := s.issueLocked(u.Email)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"tokens":  map[string]string{"access": access, "refresh": refresh},
		"user":    map[string]any{"id": u.ID, "email": u.Email, "full_name": u.FullName},
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Refresh string `json:"refresh"`
	}
	_ = decodeBody(r, &in)

	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.refresh[in.Refresh]
	if s.failRefresh || !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}

	access, refresh := s.issueLocked(email)
	if !s.rotateRefresh {
		delete(s.refresh, refresh)
		writeJSON(w, http.StatusOK, map[string]string{"access": access})
		return
	}
	delete(s.refresh, in.Refresh)
	writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

func (s *Server) projectList(email string, keep func(p *project) bool) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []*project
	for _, p := range s.projects {
		m := p.memberByEmail(email)
		if m == nil || m.Status != "accepted" || !keep(p) {
			continue
		}
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})

	out := make([]map[string]any, 0, len(list))
	for _, p := range list {
		m := p.memberByEmail(email)
		out = append(out, map[string]any{
			"id":          p.ID,
			"name":        p.Name,
			"public_code": p.PublicCode,
			"created_at":  p.CreatedAt.Format("2006-01-02T15:04:05Z"),
			"role":        m.Role,
			"is_owner":    p.Owner == email,
		})
	}
	return out
}

func (s *Server) handleMyProjects(w http.ResponseWriter, _ *http.Request, u *user) {
	writeJSON(w, http.StatusOK, s.projectList(u.Email, func(*project) bool { return true }))
}

func (s *Server) handleOwned(w http.ResponseWriter, _ *http.Request, u *user) {
	writeJSON(w, http.StatusOK, s.projectList(u.Email, func(p *project) bool { return p.Owner == u.Email }))
}

func (s *Server) handleJoined(w http.ResponseWriter, _ *http.Request, u *user) {
	writeJSON(w, http.StatusOK, s.projectList(u.Email, func(p *project) bool { return p.Owner != u.Email }))
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request, u *user) {
	var in struct {
		Name      string `json:"name"`
		AccessKey string `json:"access_key"`
		Members   []struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		} `json:"members"`
	}
	if err := decodeBody(r, &in); err != nil {
		detail(w, http.StatusBadRequest, "JSON parse error")
		return
	}
	admins := 0
	for _, m := range in.Members {
		if m.Role == "admin" {
			admins++
		}
	}
	switch {
	case strings.TrimSpace(in.Name) == "":
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Project name is required"})
		return
	case len(strings.TrimSpace(in.AccessKey)) < 6:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Access Key must be at least 6 characters"})
		return
	case len(in.Members) > 3:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Maximum 3 members allowed"})
		return
	case admins < 1:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "At least one admin required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pin := fmt.Sprintf("%06d", (s.nextID+1)*7919%1000000)
	p := s.addProjectLocked(in.Name, in.AccessKey, pin, u.Email)
	for _, m := range in.Members {
		// Unknown users and the creator are skipped.
		if _, ok := s.users[m.Email]; !ok || m.Email == u.Email {
			continue
		}
		s.nextID++
		p.Members = append(p.Members, &member{ID: s.nextID, Email: m.Email, Role: m.Role, Status: "pending"})
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"project": map[string]string{"id": p.ID, "name": p.Name, "public_code": p.PublicCode},
		"pin":     pin,
	})
}

func (s *Server) handleOverview(w http.ResponseWriter, _ *http.Request, _ *user, p *project) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := 0
	for _, m := range p.Members {
		if m.Status == "accepted" {
			accepted++
		}
	}
	recipes := 0
	for _, rc := range s.recipes {
		if rc.ProjectID == p.ID {
			recipes++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            p.ID,
		"name":          p.Name,
		"public_code":   p.PublicCode,
		"owner":         p.Owner,
		"members_count": accepted,
		"recipes_count": recipes,
	})
}

func (s *Server) handleVerifyPassword(w http.ResponseWriter, r *http.Request, u *user, p *project) {
	var in struct {
		Password string `json:"password"`
	}
	_ = decodeBody(r, &in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if in.Password != p.Password {
		detail(w, http.StatusBadRequest, "Invalid project password.")
		return
	}
	s.unlocked[u.Email+"|"+p.ID] = true
	detail(w, http.StatusOK, "Access granted.")
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request, _ *user, p *project) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]map[string]any, 0, len(p.Members))
	for _, m := range p.Members {
		fullName := ""
		if u := s.users[m.Email]; u != nil {
			fullName = u.FullName
		}
		results = append(results, map[string]any{
			"id": m.ID, "email": m.Email, "full_name": fullName, "role": m.Role, "status": m.Status,
		})
	}
	count := len(results)
	if offset > count {
		offset = count
	}
	results = results[offset:]
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count, "results": results})
}

func (s *Server) requireAdmin(w http.ResponseWriter, u *user, p *project) bool {
	if m := p.memberByEmail(u.Email); m == nil || m.Role != "admin" {
		detail(w, http.StatusForbidden, "Only project admins can do this.")
		return false
	}
	return true
}

func (s *Server) handleMemberRole(w http.ResponseWriter, r *http.Request, u *user, p *project) {
	var in struct {
		Role string `json:"role"`
	}
	_ = decodeBody(r, &in)
	mid, _ := strconv.Atoi(mux.Vars(r)["mid"])

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireAdmin(w, u, p) {
		return
	}
	m := p.memberByID(mid)
	if m == nil {
		detail(w, http.StatusNotFound, "Member not found.")
		return
	}
	if in.Role != "admin" && in.Role != "user" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"role": {fmt.Sprintf("%q is not a valid choice.", in.Role)}})
		return
	}
	if m.Email == p.Owner {
		detail(w, http.StatusBadRequest, "The project owner's role cannot be changed.")
		return
	}
	m.Role = in.Role
	detail(w, http.StatusOK, "Role updated.")
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request, u *user, p *project) {
	mid, _ := strconv.Atoi(mux.Vars(r)["mid"])

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireAdmin(w, u, p) {
		return
	}
	for i, m := range p.Members {
		if m.ID != mid {
			continue
		}
		if m.Email == p.Owner {
			detail(w, http.StatusBadRequest, "The project owner cannot be revoked.")
			return
		}
		p.Members = append(p.Members[:i], p.Members[i+1:]...)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	detail(w, http.StatusNotFound, "Member not found.")
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request, _ *user, p *project) {
	q := strings.ToLower(r.URL.Query().Get("email"))

	s.mu.Lock()
	defer s.mu.Unlock()

	var users []*user
	for _, u := range s.users {
		if q != "" && strings.Contains(strings.ToLower(u.Email), q) && p.memberByEmail(u.Email) == nil {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })

	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, map[string]any{"id": u.ID, "email": u.Email, "full_name": u.FullName})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request, u *user, p *project) {
	var in struct {
		UserID int `json:"user_id"`
	}
	_ = decodeBody(r, &in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireAdmin(w, u, p) {
		return
	}
	var invitee *user
	for _, candidate := range s.users {
		if candidate.ID == in.UserID {
			invitee = candidate
		}
	}
	if invitee == nil {
		detail(w, http.StatusNotFound, "User not found.")
		return
	}
	if p.memberByEmail(invitee.Email) != nil {
		detail(w, http.StatusBadRequest, "User is already a member or invited.")
		return
	}
	s.nextID++
	p.Members = append(p.Members, &member{ID: s.nextID, Email: invitee.Email, Role: "user", Status: "pending"})
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Invitation sent."})
}

func (s *Server) handleChangePin(w http.ResponseWriter, r *http.Request, u *user, p *project) {
	var in struct {
		NewPassword string `json:"new_password"`
	}
	_ = decodeBody(r, &in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Owner != u.Email {
		detail(w, http.StatusForbidden, "Only the project owner can change the password.")
		return
	}
	if len(in.NewPassword) < 6 {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"new_password": {"Ensure this field has at least 6 characters."}})
		return
	}
	p.Password = in.NewPassword
	for key := range s.unlocked {
		if strings.HasSuffix(key, "|"+p.ID) && key != u.Email+"|"+p.ID {
			delete(s.unlocked, key)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Project password updated."})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, u *user, p *project) {
	var in struct {
		PIN string `json:"pin"`
	}
	_ = decodeBody(r, &in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Owner != u.Email {
		detail(w, http.StatusForbidden, "Only the project owner can delete the project.")
		return
	}
	if in.PIN != p.PIN {
		detail(w, http.StatusBadRequest, "Invalid PIN.")
		return
	}
	delete(s.projects, p.ID)
	for id, rc := range s.recipes {
		if rc.ProjectID == p.ID {
			delete(s.recipes, id)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePending(w http.ResponseWriter, _ *http.Request, u *user) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := []map[string]any{}
	for _, p := range s.projects {
		m := p.memberByEmail(u.Email)
		if m == nil || m.Status != "pending" {
			continue
		}
		results = append(results, map[string]any{
			"id":         m.ID,
			"project":    p.Name,
			"invited_by": p.Owner,
			"role":       m.Role,
			"invited_at": p.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i]["id"].(int) < results[j]["id"].(int) })
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// invitation finds the pending membership mid addressed to email.
func (s *Server) invitation(mid int, email string) (*project, *member) {
	for _, p := range s.projects {
		if m := p.memberByID(mid); m != nil && m.Email == email && m.Status == "pending" {
			return p, m
		}
	}
	return nil, nil
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request, u *user) {
	var in struct {
		Password string `json:"password"`
	}
	_ = decodeBody(r, &in)
	mid, _ := strconv.Atoi(mux.Vars(r)["mid"])

	s.mu.Lock()
	defer s.mu.Unlock()
	p, m := s.invitation(mid, u.Email)
	if m == nil {
		detail(w, http.StatusNotFound, "Invitation not found.")
		return
	}
	if in.Password != p.Password {
		detail(w, http.StatusBadRequest, "Invalid project password.")
		return
	}
	m.Status = "accepted"
	s.unlocked[u.Email+"|"+p.ID] = true
	writeJSON(w, http.StatusOK, map[string]string{"message": "Invitation accepted."})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request, u *user) {
	mid, _ := strconv.Atoi(mux.Vars(r)["mid"])

	s.mu.Lock()
	defer s.mu.Unlock()
	_, m := s.invitation(mid, u.Email)
	if m == nil {
		detail(w, http.StatusNotFound, "Invitation not found.")
		return
	}
	m.Status = "rejected"
	writeJSON(w, http.StatusOK, map[string]string{"message": "Invitation rejected."})
}

func (s *Server) handleTags(w http.ResponseWriter, _ *http.Request, _ *user) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]tag{}, s.tags...)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCombinations(w http.ResponseWriter, _ *http.Request, _ *user) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]combination{}, s.combinations...)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRecipes(w http.ResponseWriter, _ *http.Request, _ *user, p *project) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []map[string]any{}
	for _, rc := range s.recipes {
		if rc.ProjectID == p.ID {
			out = append(out, map[string]any{"id": rc.ID, "name": rc.Name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i]["id"].(int) < out[j]["id"].(int) })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateRecipe(w http.ResponseWriter, r *http.Request, _ *user, p *project) {
	var in struct {
		Name           string `json:"name"`
		CombinationIDs []int  `json:"combination_ids"`
	}
	if err := decodeBody(r, &in); err != nil {
		detail(w, http.StatusBadRequest, "JSON parse error")
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"name": {"This field is required."}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range in.CombinationIDs {
		if s.combinationLocked(id) == nil {
			writeJSON(w, http.StatusBadRequest, map[string][]string{"combination_ids": {fmt.Sprintf("Invalid combination id %d.", id)}})
			return
		}
	}
	s.nextID++
	s.recipes[s.nextID] = &recipe{ID: s.nextID, Name: in.Name, ProjectID: p.ID, CombinationIDs: in.CombinationIDs}
	writeJSON(w, http.StatusCreated, map[string]any{"id": s.nextID, "name": in.Name})
}

func (s *Server) combinationLocked(id int) *combination {
	for i := range s.combinations {
		if s.combinations[i].ID == id {
			return &s.combinations[i]
		}
	}
	return nil
}

func (s *Server) handleRecipe(w http.ResponseWriter, r *http.Request, u *user) {
	rid, _ := strconv.Atoi(mux.Vars(r)["rid"])

	s.mu.Lock()
	defer s.mu.Unlock()
	rc := s.recipes[rid]
	if rc == nil {
		detail(w, http.StatusNotFound, "Not found.")
		return
	}
	if p := s.projects[rc.ProjectID]; p == nil || p.memberByEmail(u.Email) == nil {
		detail(w, http.StatusForbidden, "You do not have permission to perform this action.")
		return
	}

	combos := []map[string]any{}
	for i, id := range rc.CombinationIDs {
		if c := s.combinationLocked(id); c != nil {
			combos = append(combos, map[string]any{"order": i + 1, "combination": c})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": rc.ID, "name": rc.Name, "recipe_combinations": combos})
}
