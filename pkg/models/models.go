package models

import (
	"fmt"
	"strings"
)

// PlaceholderPrefix marks a blank-node label that is only valid inside a single mutation
const PlaceholderPrefix = "_:"

// SchoolType is the kind of school a person attended
type SchoolType string

const (
	Elementary SchoolType = "Elementary"
	Middle     SchoolType = "Middle"
	High       SchoolType = "High"
	College    SchoolType = "College"
	University SchoolType = "University"
)

// SchoolTypes lists every valid SchoolType in declaration order
var SchoolTypes = []SchoolType{Elementary, Middle, High, College, University}

// ParseSchoolType parses a school type case-insensitively
func ParseSchoolType(s string) (SchoolType, error) {
	for _, t := range SchoolTypes {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown school type %q", s)
}

// Valid reports whether t is spelled exactly as one of SchoolTypes
func (t SchoolType) Valid() bool {
	for _, v := range SchoolTypes {
		if t == v {
			return true
		}
	}
	return false
}

// School is one entry of a person's school history. UID is the nested
// node identifier, empty until the store has assigned one.
type School struct {
	UID        string     `json:"uid,omitempty"`
	Name       string     `json:"name" validate:"required"`
	SchoolType SchoolType `json:"schooltype" validate:"required,schooltype"`
}

// Discord holds a person's Discord account. UID is the nested node
// identifier, distinct from the numeric account id.
type Discord struct {
	UID         string  `json:"uid,omitempty"`
	Handle      *string `json:"handle,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	UserID      uint64  `json:"user_id"`
}

// SocialHandle holds an Instagram or X account
type SocialHandle struct {
	UID         string  `json:"uid,omitempty"`
	Handle      *string `json:"handle,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	UserID      uint64  `json:"user_id"`
}

// Friend is a directed reference to another person
type Friend struct {
	UID string `json:"uid" validate:"required"`
}

// Person is the central record of the directory.
//
// Pointer fields are nil when absent. Lists are nil when absent; the
// graph stores have no representation for an empty list, so an empty
// list and an absent one are the same on the wire.
type Person struct {
	UID       *string       `json:"uid,omitempty"`
	Name      *string       `json:"name,omitempty" validate:"omitempty,min=1"`
	Email     *string       `json:"email,omitempty" validate:"omitempty,email"`
	Discord   *Discord      `json:"discord,omitempty"`
	Instagram *SocialHandle `json:"instagram,omitempty"`
	Snapchat  *string       `json:"snapchat,omitempty"`
	X         *SocialHandle `json:"x,omitempty"`
	School    []School      `json:"school,omitempty" validate:"omitempty,dive"`
	Friends   []Friend      `json:"friends,omitempty" validate:"omitempty,dive"`
	Misc      []string      `json:"misc,omitempty"`
}

// Node is the minimal projection used to populate the name index
type Node struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
}

// String returns a pointer to s
func String(s string) *string {
	return &s
}

// GetUID returns the uid or "" when unset
func (p *Person) GetUID() string {
	if p.UID == nil {
		return ""
	}
	return *p.UID
}

// GetName returns the name or "" when unset
func (p *Person) GetName() string {
	if p.Name == nil {
		return ""
	}
	return *p.Name
}

// HasPermanentUID reports whether the record carries a store-assigned identifier
func (p *Person) HasPermanentUID() bool {
	uid := p.GetUID()
	return uid != "" && !IsPlaceholder(uid)
}

// IsPlaceholder reports whether uid is a blank-node label
func IsPlaceholder(uid string) bool {
	return strings.HasPrefix(uid, PlaceholderPrefix)
}

// Placeholder builds the blank-node uid for a label
func Placeholder(label string) string {
	return PlaceholderPrefix + label
}

// Label strips the placeholder prefix from uid
func Label(uid string) string {
	return strings.TrimPrefix(uid, PlaceholderPrefix)
}

// Clone returns a deep copy of the person
func (p *Person) Clone() *Person {
	if p == nil {
		return nil
	}
	c := &Person{
		UID:      cloneString(p.UID),
		Name:     cloneString(p.Name),
		Email:    cloneString(p.Email),
		Snapchat: cloneString(p.Snapchat),
	}
	if p.Discord != nil {
		c.Discord = &Discord{
			UID:         p.Discord.UID,
			Handle:      cloneString(p.Discord.Handle),
			DisplayName: cloneString(p.Discord.DisplayName),
			UserID:      p.Discord.UserID,
		}
	}
	c.Instagram = p.Instagram.clone()
	c.X = p.X.clone()
	if p.School != nil {
		c.School = append([]School(nil), p.School...)
	}
	if p.Friends != nil {
		c.Friends = append([]Friend(nil), p.Friends...)
	}
	if p.Misc != nil {
		c.Misc = append([]string(nil), p.Misc...)
	}
	return c
}

func (h *SocialHandle) clone() *SocialHandle {
	if h == nil {
		return nil
	}
	return &SocialHandle{
		UID:         h.UID,
		Handle:      cloneString(h.Handle),
		DisplayName: cloneString(h.DisplayName),
		UserID:      h.UserID,
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"error"`
}
