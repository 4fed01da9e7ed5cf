package service

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"infinityforum/internal/bus"
	"infinityforum/internal/models"
	"infinityforum/internal/observability"
	"infinityforum/internal/repository"
	"infinityforum/internal/session"
)

// UserService manages the users collection.
type UserService struct {
	sh      *Shared
	users   repository.UserRepository
	posts   repository.PostRepository
	changed signal[[]models.User]
}

// ProfileUpdate carries the fields to merge into the current user's record.
// Nil fields are left unchanged.
type ProfileUpdate struct {
	Username *string
	Password *string
	Avatar   *string
	Bio      *string
}

func NewUserService(sh *Shared, users repository.UserRepository, posts repository.PostRepository) *UserService {
	return &UserService{sh: sh, users: users, posts: posts}
}

// Load returns the users collection.
func (s *UserService) Load(ctx context.Context) []models.User {
	return s.users.List(ctx)
}

// Get returns the user named username.
func (s *UserService) Get(ctx context.Context, username string) (models.User, bool) {
	users := s.users.List(ctx)
	i := findUser(users, username)
	if i < 0 {
		return models.User{}, false
	}
	return users[i], true
}

// GetAvatar returns the avatar of username, nil when unset or unknown.
func (s *UserService) GetAvatar(ctx context.Context, username string) *string {
	u, ok := s.Get(ctx, username)
	if !ok {
		return nil
	}
	return u.Avatar
}

// Current returns the username logged in on sess.
func (s *UserService) Current(sess *session.Session) string {
	return sess.Current()
}

// OnChange registers fn for local changes of the users collection.
func (s *UserService) OnChange(fn func([]models.User)) func() {
	return s.changed.subscribe(fn)
}

// Register appends a new user. The collection is unchanged when the name is
// taken or the passwords differ.
func (s *UserService) Register(ctx context.Context, username, password, confirm string, avatar *string, bio string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return models.NewValidationError("Username is required")
	}
	if password != confirm {
		return models.NewValidationError("Passwords do not match")
	}

	s.sh.mu.Lock()
	users := s.users.List(ctx)
	if findUser(users, username) >= 0 {
		s.sh.mu.Unlock()
		return models.NewValidationError("Username already exists")
	}
	users = append(users, models.User{
		Username:  username,
		Password:  password,
		Avatar:    avatar,
		Bio:       bio,
		Following: []string{},
		Followers: []string{},
	})
	err := s.users.SaveAll(ctx, users)
	s.sh.mu.Unlock()
	if err != nil {
		return err
	}

	s.changed.emit(users)
	return nil
}

// Login sets the current user of sess when the credentials match exactly.
func (s *UserService) Login(ctx context.Context, sess *session.Session, username, password string) error {
	u, ok := s.Get(ctx, username)
	if !ok || u.Password != password {
		return models.NewUnauthorizedError("Invalid credentials")
	}
	return sess.SetCurrent(ctx, username)
}

// Logout clears the current user of sess.
func (s *UserService) Logout(ctx context.Context, sess *session.Session) error {
	return sess.Clear(ctx)
}

// UpdateProfile merges upd into the current user's record. A rename is
// carried to every post and reply authored under the old name and to the
// session before UPDATE_POSTS is published.
func (s *UserService) UpdateProfile(ctx context.Context, sess *session.Session, upd ProfileUpdate) error {
	current := sess.Current()
	if current == "" {
		return models.NewUnauthorizedError("Login required")
	}

	renamed := ""
	if upd.Username != nil {
		name := strings.TrimSpace(*upd.Username)
		if name == "" {
			return models.NewValidationError("Username is required")
		}
		if name != current {
			renamed = name
		}
	}

	s.sh.mu.Lock()
	before := s.users.List(ctx)
	i := findUser(before, current)
	if i < 0 {
		s.sh.mu.Unlock()
		return models.NewValidationError("Current user no longer exists")
	}
	if renamed != "" && findUser(before, renamed) >= 0 {
		s.sh.mu.Unlock()
		return models.NewValidationError("Username already exists")
	}

	users := make([]models.User, len(before))
	for j, u := range before {
		u = u.Clone()
		if j == i {
			if upd.Password != nil {
				u.Password = *upd.Password
			}
			if upd.Avatar != nil {
				avatar := *upd.Avatar
				u.Avatar = &avatar
			}
			if upd.Bio != nil {
				u.Bio = *upd.Bio
			}
			if renamed != "" {
				u.Username = renamed
			}
		}
		if renamed != "" {
			u.Following = models.RenameInSet(u.Following, current, renamed)
			u.Followers = models.RenameInSet(u.Followers, current, renamed)
		}
		users[j] = u
	}

	if err := s.users.SaveAll(ctx, users); err != nil {
		s.sh.mu.Unlock()
		return err
	}

	if renamed != "" {
		if err := s.posts.SaveAll(ctx, renameAuthor(s.posts.List(ctx), current, renamed)); err != nil {
			if rbErr := s.users.SaveAll(ctx, before); rbErr != nil {
				observability.Logger.ErrorContext(ctx, "rename rollback failed",
					slog.String("from", current),
					slog.String("to", renamed),
					slog.String("error", rbErr.Error()),
				)
			}
			s.sh.mu.Unlock()
			return err
		}
		// users and posts already carry the new name; a lost current-user
		// write only affects the next restore of this context
		if err := sess.SetCurrent(ctx, renamed); err != nil {
			observability.Logger.WarnContext(ctx, "failed to persist renamed session",
				slog.String("from", current),
				slog.String("to", renamed),
				slog.String("error", err.Error()),
			)
		}
	}
	s.sh.mu.Unlock()

	if renamed != "" {
		s.sh.publish(ctx, bus.PostsUpdated())
	}
	s.changed.emit(users)
	return nil
}

// Follow makes the current user of sess follow target.
func (s *UserService) Follow(ctx context.Context, sess *session.Session, target string) error {
	return s.setFollow(ctx, sess, target, true)
}

// Unfollow reverses Follow.
func (s *UserService) Unfollow(ctx context.Context, sess *session.Session, target string) error {
	return s.setFollow(ctx, sess, target, false)
}

func (s *UserService) setFollow(ctx context.Context, sess *session.Session, target string, follow bool) error {
	current := sess.Current()
	if current == "" {
		return models.NewUnauthorizedError("Login required")
	}
	if target == current {
		return models.NewValidationError("Cannot follow yourself")
	}

	s.sh.mu.Lock()
	users := s.users.List(ctx)
	actor, other := findUser(users, current), findUser(users, target)
	if actor < 0 || other < 0 {
		s.sh.mu.Unlock()
		return models.NewValidationError("Unknown user")
	}
	if follow {
		users[actor].Following = models.AddToSet(users[actor].Following, target)
		users[other].Followers = models.AddToSet(users[other].Followers, current)
	} else {
		users[actor].Following = models.RemoveFromSet(users[actor].Following, target)
		users[other].Followers = models.RemoveFromSet(users[other].Followers, current)
	}
	err := s.users.SaveAll(ctx, users)
	s.sh.mu.Unlock()
	if err != nil {
		return err
	}

	s.changed.emit(users)
	return nil
}

func findUser(users []models.User, username string) int {
	return slices.IndexFunc(users, func(u models.User) bool { return u.Username == username })
}

// renameAuthor rewrites the author of posts and replies. likedBy is left as
// is: likes recorded under the old name stay attributed to it.
func renameAuthor(posts []models.Post, from, to string) []models.Post {
	out := make([]models.Post, len(posts))
	for i, p := range posts {
		p = p.Clone()
		if p.User == from {
			p.User = to
		}
		for j := range p.Replies {
			if p.Replies[j].User == from {
				p.Replies[j].User = to
			}
		}
		out[i] = p
	}
	return out
}
