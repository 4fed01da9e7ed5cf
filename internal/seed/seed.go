// Package seed fills a store with demo users and posts for development and
// testing. Users go through the user manager so the usual validation
// applies; posts are written in one batch.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"infinityforum/internal/ids"
	"infinityforum/internal/models"
	"infinityforum/internal/observability"
	"infinityforum/internal/service"

	"github.com/brianvoe/gofakeit/v6"
)

// DefaultPassword is given to every seeded user.
const DefaultPassword = "password123"

// Options configures the seeder.
type Options struct {
	NumUsers int
	NumPosts int
	// MaxDays bounds how far back post timestamps are spread.
	MaxDays int
	// Seed makes the generated data reproducible when non-zero.
	Seed int64
}

// Seeder creates demo content through the managers of one context.
type Seeder struct {
	users *service.UserService
	posts *service.PostService
	opts  Options
	faker *gofakeit.Faker
	now   func() time.Time
}

// NewSeeder returns a seeder writing through users and posts.
func NewSeeder(users *service.UserService, posts *service.PostService, opts Options) *Seeder {
	if opts.MaxDays <= 0 {
		opts.MaxDays = 90
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Seeder{users: users, posts: posts, opts: opts, faker: gofakeit.New(seed), now: time.Now}
}

// Run creates the configured users and posts and returns the new usernames.
func (s *Seeder) Run(ctx context.Context) ([]string, error) {
	names, err := s.SeedUsers(ctx, s.opts.NumUsers)
	if err != nil {
		return names, err
	}
	if _, err := s.SeedPosts(ctx, names, s.opts.NumPosts); err != nil {
		return names, err
	}
	return names, nil
}

// SeedUsers registers n users with DefaultPassword. Generated names that are
// already taken are retried.
func (s *Seeder) SeedUsers(ctx context.Context, n int) ([]string, error) {
	names := make([]string, 0, n)
	for attempts := 0; len(names) < n; attempts++ {
		if attempts > n*10 {
			return names, fmt.Errorf("could not find %d free usernames", n)
		}
		name := fmt.Sprintf("%s%d", s.faker.Username(), s.faker.Number(100, 999))
		var avatar *string
		if s.faker.Bool() {
			url := fmt.Sprintf("https://i.pravatar.cc/150?u=%s", s.faker.UUID())
			avatar = &url
		}
		err := s.users.Register(ctx, name, DefaultPassword, DefaultPassword, avatar, s.faker.Sentence(10))
		if models.HasCode(err, models.CodeValidation) {
			continue
		}
		if err != nil {
			return names, err
		}
		names = append(names, name)
	}
	observability.Logger.InfoContext(ctx, "seeded users", slog.Int("count", len(names)))
	return names, nil
}

// SeedPosts writes n posts authored by random users, each with random likes
// from the other users and a few replies.
func (s *Seeder) SeedPosts(ctx context.Context, authors []string, n int) ([]models.Post, error) {
	if len(authors) == 0 || n <= 0 {
		return nil, nil
	}

	posts := make([]models.Post, 0, n)
	for i := 0; i < n; i++ {
		posts = append(posts, s.BuildPost(authors))
	}
	if err := s.posts.AddAll(ctx, posts); err != nil {
		return nil, err
	}
	observability.Logger.InfoContext(ctx, "seeded posts", slog.Int("count", len(posts)))
	return posts, nil
}

// BuildPost constructs one post without persisting it. likes always equals
// the size of likedBy.
func (s *Seeder) BuildPost(authors []string) models.Post {
	author := authors[s.faker.Number(0, len(authors)-1)]
	created := s.timestamp()

	likedBy := []string{}
	for _, u := range authors {
		if u != author && s.faker.Number(0, 3) == 0 {
			likedBy = append(likedBy, u)
		}
	}

	var image *string
	if s.faker.Number(0, 2) == 0 {
		url := fmt.Sprintf("https://picsum.photos/seed/%s/800/800", s.faker.UUID())
		image = &url
	}

	replies := []models.Reply{}
	for r := s.faker.Number(0, 3); r > 0; r-- {
		at := created.Add(time.Duration(s.faker.Number(1, 600)) * time.Minute)
		replies = append(replies, models.Reply{
			ID:        ids.NewAt(at),
			User:      authors[s.faker.Number(0, len(authors)-1)],
			Content:   s.faker.Sentence(s.faker.Number(4, 12)),
			Likes:     s.faker.Number(0, 5),
			Timestamp: at.UnixMilli(),
		})
	}

	return models.Post{
		ID:        ids.NewAt(created),
		User:      author,
		Content:   s.faker.Paragraph(1, 3, 12, "\n"),
		Image:     image,
		Likes:     len(likedBy),
		LikedBy:   likedBy,
		Timestamp: created.UnixMilli(),
		Replies:   replies,
	}
}

func (s *Seeder) timestamp() time.Time {
	back := time.Duration(s.faker.Number(0, s.opts.MaxDays-1))*24*time.Hour +
		time.Duration(s.faker.Number(0, 23))*time.Hour +
		time.Duration(s.faker.Number(0, 59))*time.Minute
	return s.now().Add(-back)
}
