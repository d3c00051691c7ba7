package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/mayegue-core/internal/models"
)

func TestRoleResolverPrecedence(t *testing.T) {
	resolver := NewRoleResolver(
		[]string{"Root@Mayegue.cm"},
		[]string{"root@mayegue.cm", "ewondo@example.com"},
		[]string{"@school.cm", "academy.cm "},
	)

	cases := []struct {
		email string
		want  models.UserRole
	}{
		{email: "root@mayegue.cm", want: models.RoleAdmin},
		{email: " EWONDO@example.com ", want: models.RoleTeacher},
		{email: "anyone@school.cm", want: models.RoleTeacher},
		{email: "prof@ACADEMY.cm", want: models.RoleTeacher},
		{email: "learner@gmail.com", want: models.RoleStudent},
		{email: "learner@sub.school.cm", want: models.RoleStudent},
		{email: "", want: models.RoleStudent},
	}
	for _, tc := range cases {
		t.Run(tc.email, func(t *testing.T) {
			assert.Equal(t, tc.want, resolver.Resolve(tc.email))
		})
	}
}

func TestNilRoleResolverDefaultsToStudent(t *testing.T) {
	var resolver *RoleResolver
	assert.Equal(t, models.RoleStudent, resolver.Resolve("root@mayegue.cm"))
}
