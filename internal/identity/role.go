package identity

import (
	"strings"

	"github.com/noah-isme/mayegue-core/internal/models"
)

// RoleResolver derives the initial role of a new local user from explicit
// allow-lists. Client supplied role hints are never consulted.
type RoleResolver struct {
	admins         map[string]struct{}
	teachers       map[string]struct{}
	teacherDomains map[string]struct{}
}

// NewRoleResolver builds a resolver; entries are matched case-insensitively.
func NewRoleResolver(adminEmails, teacherEmails, teacherDomains []string) *RoleResolver {
	return &RoleResolver{
		admins:         toSet(adminEmails),
		teachers:       toSet(teacherEmails),
		teacherDomains: toSet(teacherDomains),
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "@")))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// Resolve applies the precedence admin > teacher > student.
func (r *RoleResolver) Resolve(email string) models.UserRole {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || r == nil {
		return models.RoleStudent
	}
	if _, ok := r.admins[email]; ok {
		return models.RoleAdmin
	}
	if _, ok := r.teachers[email]; ok {
		return models.RoleTeacher
	}
	if at := strings.LastIndex(email, "@"); at >= 0 {
		if _, ok := r.teacherDomains[email[at+1:]]; ok {
			return models.RoleTeacher
		}
	}
	return models.RoleStudent
}
