// Package models contains the records stored in the forum collections.
package models

import "slices"

// User is one registered account. Username is the primary key.
type User struct {
	Username  string   `json:"username" yaml:"username"`
	Password  string   `json:"password" yaml:"password"`
	Avatar    *string  `json:"avatar" yaml:"avatar"`
	Bio       string   `json:"bio" yaml:"bio"`
	Following []string `json:"following" yaml:"following"`
	Followers []string `json:"followers" yaml:"followers"`
}

// Clone returns a copy that shares no slices with u.
func (u User) Clone() User {
	out := u
	out.Following = cloneSet(u.Following)
	out.Followers = cloneSet(u.Followers)
	if u.Avatar != nil {
		avatar := *u.Avatar
		out.Avatar = &avatar
	}
	return out
}

// IsFollowing reports whether u follows username.
func (u User) IsFollowing(username string) bool {
	return slices.Contains(u.Following, username)
}

func cloneSet(in []string) []string {
	if in == nil {
		return []string{}
	}
	return slices.Clone(in)
}

// AddToSet returns set with name appended unless already present.
func AddToSet(set []string, name string) []string {
	if slices.Contains(set, name) {
		return cloneSet(set)
	}
	return append(cloneSet(set), name)
}

// RemoveFromSet returns set without name.
func RemoveFromSet(set []string, name string) []string {
	out := make([]string, 0, len(set))
	for _, s := range set {
		if s != name {
			out = append(out, s)
		}
	}
	return out
}

// RenameInSet returns set with every occurrence of from replaced by to.
func RenameInSet(set []string, from, to string) []string {
	out := make([]string, 0, len(set))
	for _, s := range set {
		if s == from {
			s = to
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
