package entity

import "time"

// Credential is a row of the `credentials` table.
type Credential struct {
	ID                string     `db:"id"`
	Username          string     `db:"username"`
	Email             string     `db:"email"`
	PhoneNumber       string     `db:"phone_number"`
	PasswordHash      string     `db:"password_hash"`
	PasswordAlgo      string     `db:"password_algo"`
	FullName          string     `db:"full_name"`
	Role              string     `db:"role"`
	IsActive          bool       `db:"is_active"`
	EmailVerified     bool       `db:"email_verified"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
	PasswordUpdatedAt *time.Time `db:"password_updated_at"`
}

// View is the public projection of a Credential. It never carries password
// material.
type View struct {
	UserID      string    `json:"userID"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phoneNumber"`
	FullName    string    `json:"fullName"`
	Role        string    `json:"role"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	URI         string    `json:"uri"`
}

func (c *Credential) View(uri string) View {
	return View{
		UserID:      c.ID,
		Username:    c.Username,
		Email:       c.Email,
		PhoneNumber: c.PhoneNumber,
		FullName:    c.FullName,
		Role:        c.Role,
		IsActive:    c.IsActive,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		URI:         uri,
	}
}
