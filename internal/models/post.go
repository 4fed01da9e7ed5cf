package models

import "slices"

// Post is one forum post. Likes always equals len(LikedBy).
type Post struct {
	ID        string   `json:"id" yaml:"id"`
	User      string   `json:"user" yaml:"user"`
	Content   string   `json:"content" yaml:"content"`
	Image     *string  `json:"image" yaml:"image"`
	Likes     int      `json:"likes" yaml:"likes"`
	LikedBy   []string `json:"likedBy" yaml:"likedBy"`
	Timestamp int64    `json:"timestamp" yaml:"timestamp"`
	Replies   []Reply  `json:"replies" yaml:"replies"`
}

// Reply is owned by its parent post and has no independent existence.
type Reply struct {
	ID        string `json:"id" yaml:"id"`
	User      string `json:"user" yaml:"user"`
	Content   string `json:"content" yaml:"content"`
	Likes     int    `json:"likes" yaml:"likes"`
	Timestamp int64  `json:"timestamp" yaml:"timestamp"`
}

// Clone returns a copy that shares no slices with p.
func (p Post) Clone() Post {
	out := p
	out.LikedBy = cloneSet(p.LikedBy)
	if p.Replies == nil {
		out.Replies = []Reply{}
	} else {
		out.Replies = slices.Clone(p.Replies)
	}
	if p.Image != nil {
		image := *p.Image
		out.Image = &image
	}
	return out
}

// LikedByUser reports whether username already liked p.
func (p Post) LikedByUser(username string) bool {
	return slices.Contains(p.LikedBy, username)
}

// FindReply returns the index of the reply with id, or -1.
func (p Post) FindReply(id string) int {
	return slices.IndexFunc(p.Replies, func(r Reply) bool { return r.ID == id })
}

// Notification is one entry of the context-local activity log.
type Notification struct {
	ID      string `json:"id" yaml:"id"`
	Message string `json:"message" yaml:"message"`
}
