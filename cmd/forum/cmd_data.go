package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"infinityforum/internal/models"
	"infinityforum/internal/seed"
	"infinityforum/internal/snapshot"

	"github.com/spf13/cobra"
)

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print changes made by other contexts until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			events := make(chan string, 64)
			emit := func(line string) {
				select {
				case events <- line:
				default:
				}
			}

			unsubPosts := a.rt.Views.OnPostsChanged(func(posts []models.Post) {
				emit(fmt.Sprintf("posts changed: %d posts", len(posts)))
			})
			defer unsubPosts()
			unsubDark := a.rt.Prefs.OnDarkModeChanged(func(on bool) {
				emit(fmt.Sprintf("dark mode changed: %t", on))
			})
			defer unsubDark()

			fmt.Fprintf(out, "watching as context %s\n", a.rt.Config.ContextID)
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case line := <-events:
					fmt.Fprintln(out, line)
				}
			}
		},
	}
}

func (a *app) seedCmd() *cobra.Command {
	var opts seed.Options
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the store with demo users and posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := seed.NewSeeder(a.rt.Users, a.rt.Posts, opts).Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users and %d posts; password for all: %s\n",
				len(names), opts.NumPosts, seed.DefaultPassword)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.NumUsers, "users", 10, "Number of users to create")
	cmd.Flags().IntVar(&opts.NumPosts, "posts", 40, "Number of posts to create")
	cmd.Flags().IntVar(&opts.MaxDays, "max-days", 90, "Spread post timestamps over this many days")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "Random seed for reproducible data")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Write every collection and setting to a YAML or JSON file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := snapshot.Export(cmd.Context(), a.rt.Store)
			if len(args) == 0 {
				return snapshot.Encode(cmd.OutOrStdout(), formatFor(format, ""), snap)
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := snapshot.Encode(f, formatFor(format, args[0]), snap); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "yaml or json (default from the file extension, else yaml)")
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Replace the store content with a previously exported file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			snap, err := snapshot.Decode(r, formatFor(format, args[0]))
			if err != nil {
				return err
			}
			if err := snapshot.Import(cmd.Context(), a.rt.Store, a.rt.Bus, snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d users and %d posts\n", len(snap.Users), len(snap.Posts))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "yaml or json (default from the file extension, else yaml)")
	return cmd
}

func formatFor(flag, path string) string {
	if flag != "" {
		return strings.ToLower(flag)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return snapshot.FormatJSON
	}
	return snapshot.FormatYAML
}
