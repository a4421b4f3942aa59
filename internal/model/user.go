package model

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID  `db:"id"`
	Email        string     `db:"email"`
	CreatedAt    time.Time  `db:"created_at"`
	RequestCount int        `db:"request_count"`
	LastLogin    *time.Time `db:"last_login"`
	PaidUntil    *time.Time `db:"paid_until"`
}

// HasActivePass reports whether a completed payment still covers now.
func (u *User) HasActivePass(now time.Time) bool {
	return u.PaidUntil != nil && u.PaidUntil.After(now)
}
