package validation

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/habedi/apsq/client"
)

const (
	MinThreads = 1
	MaxThreads = 20

	MinAccessKeyLength = 6
	MaxMembers         = 3
	MaxPageSize        = 100

	RoleAdmin = "admin"
	RoleUser  = "user"
)

var publicCodeRegexp = regexp.MustCompile(`^(?i)APSQ-[0-9a-f]{8}$`)

func ValidateThreadCount(threads int) error {
	if threads < MinThreads || threads > MaxThreads {
		return fmt.Errorf("thread count must be between %d and %d, got %d", MinThreads, MaxThreads, threads)
	}
	return nil
}

func ValidatePositiveID(fieldName string, id int) error {
	if id <= 0 {
		return fmt.Errorf("%s must be a positive integer, got %d", fieldName, id)
	}
	return nil
}

func ValidateNonEmptyString(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	return nil
}

// ValidateProjectID accepts a project UUID or a public project code.
func ValidateProjectID(id string) error {
	if publicCodeRegexp.MatchString(id) {
		return nil
	}
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return fmt.Errorf("invalid project id: %q (expected a UUID or a code like APSQ-1A2B3C4D)", id)
	}
	return nil
}

func ValidateRole(role string) error {
	if role != RoleAdmin && role != RoleUser {
		return fmt.Errorf("invalid role: %s (must be one of: admin, user)", role)
	}
	return nil
}

func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("invalid email address: %q", email)
	}
	return nil
}

func ValidateAccessKey(key string) error {
	if len(strings.TrimSpace(key)) < MinAccessKeyLength {
		return fmt.Errorf("access key must be at least %d characters", MinAccessKeyLength)
	}
	return nil
}

func ValidatePageSize(limit, offset int) error {
	if limit < 1 || limit > MaxPageSize {
		return fmt.Errorf("page size must be between 1 and %d, got %d", MaxPageSize, limit)
	}
	if offset < 0 {
		return fmt.Errorf("offset cannot be negative, got %d", offset)
	}
	return nil
}

// ValidateMembers checks the member list sent with a new project. At least one
// listed member must be an admin.
func ValidateMembers(members []client.MemberInput) error {
	if len(members) > MaxMembers {
		return fmt.Errorf("at most %d members are allowed, got %d", MaxMembers, len(members))
	}
	admins := 0
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if err := ValidateEmail(m.Email); err != nil {
			return err
		}
		if err := ValidateRole(m.Role); err != nil {
			return err
		}
		key := strings.ToLower(m.Email)
		if seen[key] {
			return fmt.Errorf("member listed twice: %s", m.Email)
		}
		seen[key] = true
		if m.Role == RoleAdmin {
			admins++
		}
	}
	if admins == 0 {
		return fmt.Errorf("at least one admin is required")
	}
	return nil
}

// ValidateNewProject runs the checks the backend applies on project creation.
func ValidateNewProject(p client.NewProject) error {
	if err := ValidateNonEmptyString("project name", p.Name); err != nil {
		return err
	}
	if err := ValidateAccessKey(p.AccessKey); err != nil {
		return err
	}
	return ValidateMembers(p.Members)
}
