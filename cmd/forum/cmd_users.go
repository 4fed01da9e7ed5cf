package main

import (
	"fmt"
	"io"
	"strings"

	"infinityforum/internal/models"
	"infinityforum/internal/service"

	"github.com/spf13/cobra"
)

func (a *app) registerCmd() *cobra.Command {
	var password, confirm, avatar, bio string
	cmd := &cobra.Command{
		Use:   "register [username]",
		Short: "Create a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if confirm == "" {
				confirm = password
			}
			var avatarPtr *string
			if avatar != "" {
				avatarPtr = &avatar
			}
			if err := a.rt.Users.Register(cmd.Context(), args[0], password, confirm, avatarPtr, bio); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", strings.TrimSpace(args[0]))
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	cmd.Flags().StringVar(&confirm, "confirm", "", "Password confirmation (defaults to --password)")
	cmd.Flags().StringVar(&avatar, "avatar", "", "Avatar image URL or data URL")
	cmd.Flags().StringVar(&bio, "bio", "", "Profile text")
	return cmd
}

func (a *app) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Log in on this device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.rt.Users.Login(cmd.Context(), a.rt.Session, args[0], password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.rt.Users.Logout(cmd.Context(), a.rt.Session)
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current := a.rt.Users.Current(a.rt.Session)
			if current == "" {
				return models.NewUnauthorizedError("Not logged in")
			}
			u, _ := a.rt.Users.Get(cmd.Context(), current)
			return a.print(cmd.OutOrStdout(), u, func(w io.Writer) { printUser(w, u) })
		},
	}
}

func (a *app) profileCmd() *cobra.Command {
	var username, password, avatar, bio string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update the logged-in user's profile",
		Long: `Update fields of the logged-in user's profile. Only the flags given are
changed. Renaming rewrites the author of every post and reply.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd service.ProfileUpdate
			flags := cmd.Flags()
			if flags.Changed("username") {
				upd.Username = &username
			}
			if flags.Changed("password") {
				upd.Password = &password
			}
			if flags.Changed("avatar") {
				upd.Avatar = &avatar
			}
			if flags.Changed("bio") {
				upd.Bio = &bio
			}
			if err := a.rt.Users.UpdateProfile(cmd.Context(), a.rt.Session, upd); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "profile updated for %s\n", a.rt.Session.Current())
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "New username")
	cmd.Flags().StringVar(&password, "password", "", "New password")
	cmd.Flags().StringVar(&avatar, "avatar", "", "New avatar")
	cmd.Flags().StringVar(&bio, "bio", "", "New profile text")
	return cmd
}

func (a *app) followCmd(follow bool) *cobra.Command {
	use, short := "follow [username]", "Follow a user"
	if !follow {
		use, short = "unfollow [username]", "Stop following a user"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if follow {
				return a.rt.Users.Follow(cmd.Context(), a.rt.Session, args[0])
			}
			return a.rt.Users.Unfollow(cmd.Context(), a.rt.Session, args[0])
		},
	}
}

func (a *app) usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users := a.rt.Users.Load(cmd.Context())
			for i := range users {
				users[i].Password = ""
			}
			return a.print(cmd.OutOrStdout(), users, func(w io.Writer) {
				for _, u := range users {
					printUser(w, u)
				}
			})
		},
	}
}

func printUser(w io.Writer, u models.User) {
	fmt.Fprintf(w, "%s  following=%d followers=%d", u.Username, len(u.Following), len(u.Followers))
	if u.Bio != "" {
		fmt.Fprintf(w, "  %q", u.Bio)
	}
	fmt.Fprintln(w)
}
