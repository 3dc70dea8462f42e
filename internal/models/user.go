package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// User is the profile record returned by the API. Its shape is owned by the
// server, so it is kept as a JSON object and merged shallowly on update.
type User map[string]any

// Merge returns a new record with the fields of next laid over u.
func (u User) Merge(next User) User {
	merged := make(User, len(u)+len(next))
	for k, v := range u {
		merged[k] = v
	}
	for k, v := range next {
		merged[k] = v
	}
	return merged
}

func (u User) ID() string {
	switch id := u["id"].(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	case json.Number:
		return id.String()
	case int:
		return fmt.Sprintf("%d", id)
	case nil:
		if id, ok := u["_id"].(string); ok {
			return id
		}
	}
	return ""
}

func (u User) Email() string     { return u.str("email") }
func (u User) FirstName() string { return u.str("firstname") }
func (u User) LastName() string  { return u.str("lastname") }
func (u User) Phone() string     { return u.str("phone") }

// DisplayName prefers the full name and falls back to email, then phone.
func (u User) DisplayName() string {
	name := u.FirstName()
	if last := u.LastName(); last != "" {
		if name != "" {
			name += " "
		}
		name += last
	}
	switch {
	case name != "":
		return name
	case u.Email() != "":
		return u.Email()
	default:
		return u.Phone()
	}
}

func (u User) str(key string) string {
	s, _ := u[key].(string)
	return s
}

// Account is the user record the development server persists.
type Account struct {
	ID           string     `json:"id" dynamodbav:"id"`
	Email        string     `json:"email,omitempty" dynamodbav:"email,omitempty"`
	PhoneNumber  string     `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	FirstName    string     `json:"firstname,omitempty" dynamodbav:"firstname,omitempty"`
	LastName     string     `json:"lastname,omitempty" dynamodbav:"lastname,omitempty"`
	ProfilePhoto string     `json:"profilePhoto,omitempty" dynamodbav:"profile_photo,omitempty"`
	PasswordHash string     `json:"-" dynamodbav:"password_hash,omitempty"`
	CreatedAt    time.Time  `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" dynamodbav:"updated_at"`
	LastLogin    *time.Time `json:"lastLogin,omitempty" dynamodbav:"last_login,omitempty"`
}

func (a *Account) GetPK() string {
	return "USER!" + a.ID
}

func (a *Account) GetSK() string {
	return "METADATA"
}

// Profile is the client-visible view of the account.
func (a *Account) Profile() User {
	u := User{
		"id":        a.ID,
		"createdAt": a.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt": a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	set := func(k, v string) {
		if v != "" {
			u[k] = v
		}
	}
	set("email", a.Email)
	set("phone", a.PhoneNumber)
	set("firstname", a.FirstName)
	set("lastname", a.LastName)
	set("profilePhoto", a.ProfilePhoto)
	if a.LastLogin != nil {
		u["lastLogin"] = a.LastLogin.UTC().Format(time.RFC3339)
	}
	return u
}
