// Package model defines the data structures used throughout the application.
package model

import "time"

// Profile is a user's public identity inside the app.
//
// The user ID comes from the auth backend (a UUID string) — we never mint our
// own IDs for profiles, so a profile row is always 1:1 with an auth user.
// Everything except the username is optional: a user is auth-verified the
// moment their OTP checks out, but they are not "onboarded" until a username
// is set, and they may not post before that.
//
// WHY Username string (not *string)?
// The backend column is NOT NULL UNIQUE; an empty string means "row created
// but onboarding incomplete". A zero value is simpler to thread through the
// services than a nullable pointer, and the services gate posting on it
// being non-empty anyway.
type Profile struct {
	UserID     string    `json:"id"         db:"id"`
	Username   string    `json:"username"   db:"username"`
	FullName   string    `json:"full_name,omitempty"  db:"full_name"`
	AvatarURL  string    `json:"avatar_url,omitempty" db:"avatar_url"`
	University string    `json:"university,omitempty" db:"university"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Onboarded reports whether the profile is complete enough to author content.
func (p *Profile) Onboarded() bool {
	return p != nil && p.Username != ""
}

// ProfilePatch is a partial profile update. Nil fields are left untouched
// server-side — an absent field must never overwrite a stored value with an
// empty one.
type ProfilePatch struct {
	Username   *string `json:"username,omitempty"`
	FullName   *string `json:"full_name,omitempty"`
	AvatarURL  *string `json:"avatar_url,omitempty"`
	University *string `json:"university,omitempty"`
}

// IsEmpty reports whether the patch carries no changes at all.
func (p ProfilePatch) IsEmpty() bool {
	return p.Username == nil && p.FullName == nil && p.AvatarURL == nil && p.University == nil
}
