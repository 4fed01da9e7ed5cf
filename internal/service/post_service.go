package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"infinityforum/internal/bus"
	"infinityforum/internal/models"
	"infinityforum/internal/observability"
	"infinityforum/internal/repository"
	"infinityforum/internal/session"
)

// Feed orderings.
const (
	SortNewest  = "newest"
	SortOldest  = "oldest"
	SortPopular = "popular"
)

// DraftStore holds the unsent post text of a context.
type DraftStore interface {
	ClearDraft(ctx context.Context) error
}

// PostService manages the posts collection and the replies nested in it.
type PostService struct {
	sh     *Shared
	posts  repository.PostRepository
	notes  *NotificationService
	drafts DraftStore
}

// PostUpdate carries the post fields to merge. Nil fields are left unchanged.
type PostUpdate struct {
	Content *string
	Image   *string
}

// ReplyUpdate carries the reply fields to merge.
type ReplyUpdate struct {
	Content *string
}

// FeedQuery selects and orders posts for display.
type FeedQuery struct {
	Filter string
	Sort   string
}

// NewPostService wires the post manager. notes and drafts may be nil.
func NewPostService(sh *Shared, posts repository.PostRepository, notes *NotificationService, drafts DraftStore) *PostService {
	return &PostService{sh: sh, posts: posts, notes: notes, drafts: drafts}
}

// Load returns the posts collection in storage order.
func (s *PostService) Load(ctx context.Context) []models.Post {
	return s.posts.List(ctx)
}

// Get returns the post with id.
func (s *PostService) Get(ctx context.Context, id string) (models.Post, bool) {
	posts := s.posts.List(ctx)
	i := findPost(posts, id)
	if i < 0 {
		return models.Post{}, false
	}
	return posts[i], true
}

// mutate runs one load-transform-save cycle under the context lock and
// publishes UPDATE_POSTS once the write succeeded. A transform error aborts
// before anything is written.
func (s *PostService) mutate(ctx context.Context, fn func([]models.Post) ([]models.Post, error)) error {
	s.sh.mu.Lock()
	out, err := fn(s.posts.List(ctx))
	if err == nil {
		err = s.posts.SaveAll(ctx, out)
	}
	s.sh.mu.Unlock()
	if err != nil {
		return err
	}

	s.sh.publish(ctx, bus.PostsUpdated())
	return nil
}

// Add appends post.
func (s *PostService) Add(ctx context.Context, post models.Post) error {
	return s.mutate(ctx, func(posts []models.Post) ([]models.Post, error) {
		return append(posts, post.Clone()), nil
	})
}

// AddAll appends posts in one write and one change signal.
func (s *PostService) AddAll(ctx context.Context, posts []models.Post) error {
	return s.mutate(ctx, func(existing []models.Post) ([]models.Post, error) {
		for _, p := range posts {
			existing = append(existing, p.Clone())
		}
		return existing, nil
	})
}

// Update merges upd into the post with id. Unknown ids are a no-op.
func (s *PostService) Update(ctx context.Context, id string, upd PostUpdate) error {
	return s.mutate(ctx, func(posts []models.Post) ([]models.Post, error) {
		return mapPost(posts, id, func(p models.Post) models.Post {
			if upd.Content != nil {
				p.Content = *upd.Content
			}
			if upd.Image != nil {
				image := *upd.Image
				p.Image = &image
			}
			return p
		}), nil
	})
}

// Delete removes the post with id together with its replies.
func (s *PostService) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, func(posts []models.Post) ([]models.Post, error) {
		out := make([]models.Post, 0, len(posts))
		for _, p := range posts {
			if p.ID != id {
				out = append(out, p.Clone())
			}
		}
		return out, nil
	})
}

// AddReply appends reply to the post with id.
func (s *PostService) AddReply(ctx context.Context, postID string, reply models.Reply) error {
	return s.mutate(ctx, func(posts []models.Post) ([]models.Post, error) {
		return mapPost(posts, postID, func(p models.Post) models.Post {
			p.Replies = append(p.Replies, reply)
			return p
		}), nil
	})
}

// UpdateReply merges upd into one reply.
func (s *PostService) UpdateReply(ctx context.Context, postID, replyID string, upd ReplyUpdate) error {
	return s.mutate(ctx, func(posts []models.Post) ([]models.Post, error) {
		return mapReply(posts, postID, replyID, func(r models.Reply) models.Reply {
			if upd.Content != nil {
				r.Content = *upd.Content
			}
			return r
		}), nil
	})
}

// DeleteReply removes one reply.
func (s *PostService) DeleteReply(ctx context.Context, postID, replyID string) error {
	return s.mutate(ctx, func(posts []models.Post) ([]models.Post, error) {
		return mapPost(posts, postID, func(p models.Post) models.Post {
			p.Replies = slices.DeleteFunc(p.Replies, func(r models.Reply) bool { return r.ID == replyID })
			return p
		}), nil
	})
}

// Like records a like by the current user of sess. A second like by the same
// user is rejected with DUPLICATE_LIKE and changes nothing.
func (s *PostService) Like(ctx context.Context, sess *session.Session, postID string) error {
	actor, err := requireLogin(sess)
	if err != nil {
		return err
	}

	var author string
	err = s.mutate(ctx, func(posts []models.Post) ([]models.Post, error) {
		i := findPost(posts, postID)
		if i < 0 {
			return posts, nil
		}
		if posts[i].LikedByUser(actor) {
			return nil, models.NewDuplicateLikeError(actor, postID)
		}
		author = posts[i].User
		return mapPost(posts, postID, func(p models.Post) models.Post {
			p.LikedBy = append(p.LikedBy, actor)
			p.Likes++
			return p
		}), nil
	})
	if err != nil {
		return err
	}
	if author != "" {
		s.notify(ctx, fmt.Sprintf("%s liked %s's post", actor, author))
	}
	return nil
}

// Create publishes a new post by the current user of sess and clears the
// draft.
func (s *PostService) Create(ctx context.Context, sess *session.Session, content string, image *string) (models.Post, error) {
	actor, err := requireLogin(sess)
	if err != nil {
		return models.Post{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Post{}, models.NewValidationError("Content is required")
	}

	post := models.Post{
		ID:        s.sh.newID(),
		User:      actor,
		Content:   content,
		Image:     image,
		Likes:     0,
		LikedBy:   []string{},
		Timestamp: s.sh.now().UnixMilli(),
		Replies:   []models.Reply{},
	}
	if err := s.Add(ctx, post); err != nil {
		return models.Post{}, err
	}

	if s.drafts != nil {
		if err := s.drafts.ClearDraft(ctx); err != nil {
			observability.Logger.WarnContext(ctx, "failed to clear draft", slog.String("error", err.Error()))
		}
	}
	s.notify(ctx, fmt.Sprintf("%s published a new post", actor))
	return post, nil
}

// Reply adds a reply by the current user of sess.
func (s *PostService) Reply(ctx context.Context, sess *session.Session, postID, content string) (models.Reply, error) {
	actor, err := requireLogin(sess)
	if err != nil {
		return models.Reply{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Reply{}, models.NewValidationError("Content is required")
	}
	post, ok := s.Get(ctx, postID)
	if !ok {
		return models.Reply{}, models.NewValidationError("Post not found")
	}

	reply := models.Reply{
		ID:        s.sh.newID(),
		User:      actor,
		Content:   content,
		Likes:     0,
		Timestamp: s.sh.now().UnixMilli(),
	}
	if err := s.AddReply(ctx, postID, reply); err != nil {
		return models.Reply{}, err
	}
	s.notify(ctx, fmt.Sprintf("%s replied to %s's post", actor, post.User))
	return reply, nil
}

// LikeReply adds one like to a reply. Replies keep no likedBy set, so
// repeated likes all count.
func (s *PostService) LikeReply(ctx context.Context, sess *session.Session, postID, replyID string) error {
	actor, err := requireLogin(sess)
	if err != nil {
		return err
	}

	var author string
	err = s.mutate(ctx, func(posts []models.Post) ([]models.Post, error) {
		return mapReply(posts, postID, replyID, func(r models.Reply) models.Reply {
			author = r.User
			r.Likes++
			return r
		}), nil
	})
	if err != nil {
		return err
	}
	if author != "" {
		s.notify(ctx, fmt.Sprintf("%s liked a reply by %s", actor, author))
	}
	return nil
}

// Report flags a post written by someone else. Only the activity log changes.
func (s *PostService) Report(ctx context.Context, sess *session.Session, postID string) error {
	actor, err := requireLogin(sess)
	if err != nil {
		return err
	}
	post, ok := s.Get(ctx, postID)
	if !ok {
		return models.NewValidationError("Post not found")
	}
	if post.User == actor {
		return models.NewForbiddenError("You cannot report your own post")
	}
	s.notify(ctx, fmt.Sprintf("%s reported %s's post", actor, post.User))
	return nil
}

// EditContent replaces the content of a post written by the current user.
func (s *PostService) EditContent(ctx context.Context, sess *session.Session, postID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.NewValidationError("Content is required")
	}
	if err := s.requirePostAuthor(ctx, sess, postID); err != nil {
		return err
	}
	return s.Update(ctx, postID, PostUpdate{Content: &content})
}

// Remove deletes a post written by the current user.
func (s *PostService) Remove(ctx context.Context, sess *session.Session, postID string) error {
	if err := s.requirePostAuthor(ctx, sess, postID); err != nil {
		return err
	}
	return s.Delete(ctx, postID)
}

// EditReply replaces the content of a reply written by the current user.
func (s *PostService) EditReply(ctx context.Context, sess *session.Session, postID, replyID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.NewValidationError("Content is required")
	}
	if err := s.requireReplyAuthor(ctx, sess, postID, replyID); err != nil {
		return err
	}
	return s.UpdateReply(ctx, postID, replyID, ReplyUpdate{Content: &content})
}

// RemoveReply deletes a reply written by the current user.
func (s *PostService) RemoveReply(ctx context.Context, sess *session.Session, postID, replyID string) error {
	if err := s.requireReplyAuthor(ctx, sess, postID, replyID); err != nil {
		return err
	}
	return s.DeleteReply(ctx, postID, replyID)
}

// Feed filters posts by a case-insensitive substring of content or author
// and orders them. Storage order is not affected.
func (s *PostService) Feed(ctx context.Context, q FeedQuery) ([]models.Post, error) {
	posts := s.posts.List(ctx)

	if filter := strings.ToLower(strings.TrimSpace(q.Filter)); filter != "" {
		posts = slices.DeleteFunc(posts, func(p models.Post) bool {
			return !strings.Contains(strings.ToLower(p.Content), filter) &&
				!strings.Contains(strings.ToLower(p.User), filter)
		})
	}

	switch q.Sort {
	case "", SortNewest:
		slices.SortStableFunc(posts, func(a, b models.Post) int { return cmp.Compare(b.Timestamp, a.Timestamp) })
	case SortOldest:
		slices.SortStableFunc(posts, func(a, b models.Post) int { return cmp.Compare(a.Timestamp, b.Timestamp) })
	case SortPopular:
		slices.SortStableFunc(posts, func(a, b models.Post) int { return cmp.Compare(b.Likes, a.Likes) })
	default:
		return nil, models.NewValidationError("Invalid sort " + q.Sort)
	}
	return posts, nil
}

func (s *PostService) requirePostAuthor(ctx context.Context, sess *session.Session, postID string) error {
	actor, err := requireLogin(sess)
	if err != nil {
		return err
	}
	post, ok := s.Get(ctx, postID)
	if !ok {
		return models.NewValidationError("Post not found")
	}
	if post.User != actor {
		return models.NewForbiddenError("Only the author can change this post")
	}
	return nil
}

func (s *PostService) requireReplyAuthor(ctx context.Context, sess *session.Session, postID, replyID string) error {
	actor, err := requireLogin(sess)
	if err != nil {
		return err
	}
	post, ok := s.Get(ctx, postID)
	if !ok {
		return models.NewValidationError("Post not found")
	}
	i := post.FindReply(replyID)
	if i < 0 {
		return models.NewValidationError("Reply not found")
	}
	if post.Replies[i].User != actor {
		return models.NewForbiddenError("Only the author can change this reply")
	}
	return nil
}

func (s *PostService) notify(ctx context.Context, message string) {
	if s.notes == nil {
		return
	}
	if _, err := s.notes.Add(ctx, message); err != nil {
		observability.Logger.WarnContext(ctx, "failed to record notification", slog.String("error", err.Error()))
	}
}

func requireLogin(sess *session.Session) (string, error) {
	actor := sess.Current()
	if actor == "" {
		return "", models.NewUnauthorizedError("Login required")
	}
	return actor, nil
}

func findPost(posts []models.Post, id string) int {
	return slices.IndexFunc(posts, func(p models.Post) bool { return p.ID == id })
}

// mapPost returns a copy of posts with fn applied to the post with id.
func mapPost(posts []models.Post, id string, fn func(models.Post) models.Post) []models.Post {
	out := make([]models.Post, len(posts))
	for i, p := range posts {
		p = p.Clone()
		if p.ID == id {
			p = fn(p)
		}
		out[i] = p
	}
	return out
}

func mapReply(posts []models.Post, postID, replyID string, fn func(models.Reply) models.Reply) []models.Post {
	return mapPost(posts, postID, func(p models.Post) models.Post {
		for i := range p.Replies {
			if p.Replies[i].ID == replyID {
				p.Replies[i] = fn(p.Replies[i])
			}
		}
		return p
	})
}
