package client

import "encoding/json"

// User is the identity snapshot returned at login.
type User struct {
	ID       int    `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// TokenPair is the credential pair issued at login.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// LoginResult is the body of a successful login.
type LoginResult struct {
	Message string    `json:"message"`
	Tokens  TokenPair `json:"tokens"`
	User    User      `json:"user"`
}

// Project is a project as listed for the current user.
type Project struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PublicCode string `json:"public_code"`
	CreatedAt  string `json:"created_at"`
	Role       string `json:"role"`
	IsOwner    bool   `json:"is_owner"`
}

// MemberInput is a member invited while creating a project.
type MemberInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// NewProject is the request body for project creation.
type NewProject struct {
	Name      string        `json:"name"`
	AccessKey string        `json:"access_key"`
	Members   []MemberInput `json:"members"`
}

// CreatedProject is returned once when a project is created. PIN is never
// shown again.
type CreatedProject struct {
	Project struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		PublicCode string `json:"public_code"`
	} `json:"project"`
	PIN string `json:"pin"`
}

// ProjectOverview is the free-form overview document of a project.
type ProjectOverview map[string]json.RawMessage

// Member is a project membership.
type Member struct {
	ID       int    `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}

// MemberPage is one page of project members.
type MemberPage struct {
	Count   int      `json:"count"`
	Results []Member `json:"results"`
}

// UserMatch is a user found by the invite search.
type UserMatch struct {
	ID       int    `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// Invitation is a pending invitation addressed to the current user.
type Invitation struct {
	ID        int    `json:"id"`
	Project   string `json:"project"`
	InvitedBy string `json:"invited_by"`
	Role      string `json:"role"`
	InvitedAt string `json:"invited_at"`
}

// InvitationPage wraps the pending invitation list.
type InvitationPage struct {
	Results []Invitation `json:"results"`
}

// Tag is an atomic measurable unit.
type Tag struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	DefaultValue float64 `json:"default_value"`
}

// TagValue binds a tag to a fixed value inside a combination.
type TagValue struct {
	Tag   Tag     `json:"tag"`
	Value float64 `json:"value"`
}

// Combination is a reusable group of tag values.
type Combination struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	TagValues []TagValue `json:"tag_values"`
}

// RecipeSummary is a recipe as listed for a project.
type RecipeSummary struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// RecipeCombination is an ordered combination inside a recipe.
type RecipeCombination struct {
	Order       int         `json:"order"`
	Combination Combination `json:"combination"`
}

// Recipe is the full recipe document.
type Recipe struct {
	ID                 int                 `json:"id"`
	Name               string              `json:"name"`
	RecipeCombinations []RecipeCombination `json:"recipe_combinations"`
}

// NewRecipe is the request body for recipe creation.
type NewRecipe struct {
	Name           string `json:"name"`
	CombinationIDs []int  `json:"combination_ids"`
}

// Message is a generic {"message": "..."} or {"detail": "..."} reply.
type Message struct {
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Text returns whichever field the server filled.
func (m Message) Text() string {
	if m.Message != "" {
		return m.Message
	}
	return m.Detail
}
