package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"infinityforum/internal/models"
	"infinityforum/internal/service"

	"github.com/spf13/cobra"
)

func (a *app) postCmd() *cobra.Command {
	var image string
	var fromDraft bool
	cmd := &cobra.Command{
		Use:   "post [content]",
		Short: "Publish a post as the logged-in user",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			if fromDraft {
				content = a.rt.Prefs.Draft(cmd.Context())
			}
			var imagePtr *string
			if image != "" {
				imagePtr = &image
			}
			post, err := a.rt.Posts.Create(cmd.Context(), a.rt.Session, content, imagePtr)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), post, func(w io.Writer) {
				fmt.Fprintf(w, "posted %s\n", post.ID)
			})
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "Image URL or data URL")
	cmd.Flags().BoolVar(&fromDraft, "draft", false, "Publish the saved draft")
	return cmd
}

func (a *app) editCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit [post-id] [content]",
		Short: "Replace the content of one of your posts",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.rt.Posts.EditContent(cmd.Context(), a.rt.Session, args[0], strings.Join(args[1:], " "))
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [post-id]",
		Short: "Delete one of your posts and its replies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.rt.Posts.Remove(cmd.Context(), a.rt.Session, args[0])
		},
	}
}

func (a *app) likeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "like [post-id]",
		Short: "Like a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.rt.Posts.Like(cmd.Context(), a.rt.Session, args[0])
		},
	}
}

func (a *app) reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report [post-id]",
		Short: "Report someone else's post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.rt.Posts.Report(cmd.Context(), a.rt.Session, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reported")
			return nil
		},
	}
}

func (a *app) replyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reply [post-id] [content]",
		Short: "Reply to a post",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := a.rt.Posts.Reply(cmd.Context(), a.rt.Session, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), reply, func(w io.Writer) {
				fmt.Fprintf(w, "replied %s\n", reply.ID)
			})
		},
	}
}

func (a *app) editReplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit-reply [post-id] [reply-id] [content]",
		Short: "Replace the content of one of your replies",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.rt.Posts.EditReply(cmd.Context(), a.rt.Session, args[0], args[1], strings.Join(args[2:], " "))
		},
	}
}

func (a *app) deleteReplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-reply [post-id] [reply-id]",
		Short: "Delete one of your replies",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.rt.Posts.RemoveReply(cmd.Context(), a.rt.Session, args[0], args[1])
		},
	}
}

func (a *app) likeReplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "like-reply [post-id] [reply-id]",
		Short: "Like a reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.rt.Posts.LikeReply(cmd.Context(), a.rt.Session, args[0], args[1])
		},
	}
}

func (a *app) feedCmd() *cobra.Command {
	var q service.FeedQuery
	var limit int
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "List posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			posts, err := a.rt.Posts.Feed(cmd.Context(), q)
			if err != nil {
				return err
			}
			if limit > 0 && len(posts) > limit {
				posts = posts[:limit]
			}
			return a.print(cmd.OutOrStdout(), posts, func(w io.Writer) {
				for _, p := range posts {
					printPost(w, p, false)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&q.Filter, "filter", "f", "", "Only posts whose content or author contains this text")
	cmd.Flags().StringVarP(&q.Sort, "sort", "s", service.SortNewest, "Order: newest, oldest or popular")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many posts")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [post-id]",
		Short: "Show a post with its replies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			post, ok := a.rt.Posts.Get(cmd.Context(), args[0])
			if !ok {
				return models.NewValidationError("Post not found")
			}
			return a.print(cmd.OutOrStdout(), post, func(w io.Writer) { printPost(w, post, true) })
		},
	}
}

func printPost(w io.Writer, p models.Post, withReplies bool) {
	at := time.UnixMilli(p.Timestamp).Format(time.DateTime)
	fmt.Fprintf(w, "%s  %s  @%s  likes=%d replies=%d\n    %s\n", p.ID, at, p.User, p.Likes, len(p.Replies), p.Content)
	if !withReplies {
		return
	}
	for _, r := range p.Replies {
		fmt.Fprintf(w, "    - %s @%s likes=%d: %s\n", r.ID, r.User, r.Likes, r.Content)
	}
}
