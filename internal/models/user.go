package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleAdvisor UserRole = "advisor"
	RoleStudent UserRole = "student"
)

// User represents an application user stored in the users table.
// StudentNumber is set for students, StaffNumber for advisors and admins.
type User struct {
	ID            string    `db:"id" json:"id"`
	Email         string    `db:"email" json:"email"`
	PasswordHash  string    `db:"password_hash" json:"-"`
	FullName      string    `db:"full_name" json:"full_name"`
	Role          UserRole  `db:"role" json:"role"`
	StudentNumber *string   `db:"student_number" json:"student_number,omitempty"`
	StaffNumber   *string   `db:"staff_number" json:"staff_number,omitempty"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role   *UserRole
	Active *bool
	Search string
}

// AdvisorInfo is the trimmed advisor row used for the advisor directory.
type AdvisorInfo struct {
	ID          string  `db:"id" json:"id"`
	FullName    string  `db:"full_name" json:"full_name"`
	Email       string  `db:"email" json:"email"`
	StaffNumber *string `db:"staff_number" json:"staff_number,omitempty"`
}
