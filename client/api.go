package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// API wraps the backend endpoints on top of a Gateway.
type API struct {
	gw *Gateway
}

// NewAPI creates an API bound to gw.
func NewAPI(gw *Gateway) *API { return &API{gw: gw} }

// Gateway returns the underlying gateway.
func (a *API) Gateway() *Gateway { return a.gw }

// Register creates a user account.
func (a *API) Register(ctx context.Context, email, fullName, password, confirm string) (Message, error) {
	var out Message
	err := a.gw.Post(ctx, "/api/auth/register/", map[string]string{
		"email":            email,
		"full_name":        fullName,
		"password":         password,
		"confirm_password": confirm,
	}, &out)
	return out, err
}

// Login exchanges email and password for a credential pair.
func (a *API) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var out LoginResult
	err := a.gw.Post(ctx, "/api/auth/login/", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MyProjects lists every project the user belongs to.
func (a *API) MyProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	err := a.gw.Get(ctx, "/api/projects/my-projects/", nil, &out)
	return out, err
}

// OwnedProjects lists projects where the user is the root admin.
func (a *API) OwnedProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	err := a.gw.Get(ctx, "/api/projects/owned/", nil, &out)
	return out, err
}

// JoinedProjects lists projects the user joined through an invitation.
func (a *API) JoinedProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	err := a.gw.Get(ctx, "/api/projects/joined/", nil, &out)
	return out, err
}

// CreateProject creates a project. The returned PIN is shown only once.
func (a *API) CreateProject(ctx context.Context, p NewProject) (*CreatedProject, error) {
	if p.Members == nil {
		p.Members = []MemberInput{}
	}
	var out CreatedProject
	if err := a.gw.Post(ctx, "/api/projects/create/", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProjectOverview fetches the overview of a password-protected project.
func (a *API) ProjectOverview(ctx context.Context, projectID string) (ProjectOverview, error) {
	var out ProjectOverview
	err := a.gw.Get(ctx, projectPath(projectID, "overview/"), nil, &out)
	return out, err
}

// VerifyProjectPassword unlocks a project for this session.
func (a *API) VerifyProjectPassword(ctx context.Context, projectID, password string) error {
	return a.gw.Post(ctx, projectPath(projectID, "verify-password/"), map[string]string{"password": password}, nil)
}

// ChangeProjectPassword sets a new project password.
func (a *API) ChangeProjectPassword(ctx context.Context, projectID, newPassword string) (Message, error) {
	var out Message
	err := a.gw.Post(ctx, projectPath(projectID, "change-pin/"), map[string]string{"new_password": newPassword}, &out)
	return out, err
}

// DeleteProject deletes a project, authorized by its security PIN.
func (a *API) DeleteProject(ctx context.Context, projectID, pin string) error {
	return a.gw.Delete(ctx, projectPath(projectID, "delete/"), map[string]string{"pin": pin}, nil)
}

// Members lists one page of project members.
func (a *API) Members(ctx context.Context, projectID string, limit, offset int) (*MemberPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var out MemberPage
	if err := a.gw.Get(ctx, projectPath(projectID, "members/"), q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChangeMemberRole sets a member's role to admin or user.
func (a *API) ChangeMemberRole(ctx context.Context, projectID string, memberID int, role string) error {
	return a.gw.Patch(ctx, projectPath(projectID, fmt.Sprintf("members/%d/role/", memberID)), map[string]string{"role": role}, nil)
}

// RevokeMember removes a member from a project.
func (a *API) RevokeMember(ctx context.Context, projectID string, memberID int) error {
	return a.gw.Delete(ctx, projectPath(projectID, fmt.Sprintf("members/%d/revoke/", memberID)), nil, nil)
}

// SearchUsers finds users that can be invited to a project.
func (a *API) SearchUsers(ctx context.Context, projectID, email string) ([]UserMatch, error) {
	var out []UserMatch
	err := a.gw.Get(ctx, projectPath(projectID, "search-users/"), url.Values{"email": {email}}, &out)
	return out, err
}

// Invite sends a project invitation to a user.
func (a *API) Invite(ctx context.Context, projectID string, userID int) (Message, error) {
	var out Message
	err := a.gw.Post(ctx, projectPath(projectID, "invite/"), map[string]int{"user_id": userID}, &out)
	return out, err
}

// PendingInvitations lists invitations waiting for the user.
func (a *API) PendingInvitations(ctx context.Context) ([]Invitation, error) {
	var out InvitationPage
	if err := a.gw.Get(ctx, "/api/projects/invitations/pending/", nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// AcceptInvitation joins a project. The project password is required.
func (a *API) AcceptInvitation(ctx context.Context, memberID int, password string) (Message, error) {
	var out Message
	err := a.gw.Post(ctx, fmt.Sprintf("/api/projects/invitations/%d/accept/", memberID), map[string]string{"password": password}, &out)
	return out, err
}

// RejectInvitation declines an invitation.
func (a *API) RejectInvitation(ctx context.Context, memberID int) (Message, error) {
	var out Message
	err := a.gw.Post(ctx, fmt.Sprintf("/api/projects/invitations/%d/reject/", memberID), nil, &out)
	return out, err
}

// Tags lists all tags.
func (a *API) Tags(ctx context.Context) ([]Tag, error) {
	var out []Tag
	err := a.gw.Get(ctx, "/api/tags/", nil, &out)
	return out, err
}

// Combinations lists all combinations with their tag values.
func (a *API) Combinations(ctx context.Context) ([]Combination, error) {
	var out []Combination
	err := a.gw.Get(ctx, "/api/combinations/", nil, &out)
	return out, err
}

// ProjectRecipes lists the recipes of a project.
func (a *API) ProjectRecipes(ctx context.Context, projectID string) ([]RecipeSummary, error) {
	var out []RecipeSummary
	err := a.gw.Get(ctx, "/api/recipes/projects/"+url.PathEscape(projectID)+"/recipes/", nil, &out)
	return out, err
}

// CreateRecipe adds a recipe to a project.
func (a *API) CreateRecipe(ctx context.Context, projectID string, r NewRecipe) (*RecipeSummary, error) {
	var out RecipeSummary
	if err := a.gw.Post(ctx, projectPath(projectID, "recipes/create/"), r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recipe fetches a recipe with its combinations.
func (a *API) Recipe(ctx context.Context, recipeID int) (*Recipe, error) {
	var out Recipe
	if err := a.gw.Get(ctx, fmt.Sprintf("/api/recipes/recipes/%d/", recipeID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func projectPath(projectID, rest string) string {
	return "/api/projects/" + url.PathEscape(projectID) + "/" + rest
}
