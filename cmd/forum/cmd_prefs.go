package main

import (
	"fmt"
	"io"
	"strings"

	"infinityforum/internal/models"

	"github.com/spf13/cobra"
)

func (a *app) notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notes"},
		Short:   "Activity log of this device",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items := a.rt.Notes.List()
			return a.print(cmd.OutOrStdout(), items, func(w io.Writer) {
				for _, n := range items {
					fmt.Fprintf(w, "%s  %s\n", n.ID, n.Message)
				}
			})
		},
	}
	remove := &cobra.Command{
		Use:   "remove [id]",
		Short: "Remove one notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.rt.Notes.Remove(cmd.Context(), args[0])
		},
	}
	clearAll := &cobra.Command{
		Use:   "clear",
		Short: "Remove every notification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.rt.Notes.Clear(cmd.Context())
		},
	}
	cmd.AddCommand(list, remove, clearAll)
	return cmd
}

func (a *app) darkModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "darkmode [on|off]",
		Short:     "Show or set dark mode on every context",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				var on bool
				switch strings.ToLower(args[0]) {
				case "on", "true":
					on = true
				case "off", "false":
				default:
					return models.NewValidationError("expected on or off")
				}
				if err := a.rt.Prefs.SetDarkMode(cmd.Context(), on); err != nil {
					return err
				}
			}
			state := "off"
			if a.rt.Prefs.DarkMode(cmd.Context()) {
				state = "on"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dark mode %s\n", state)
			return nil
		},
	}
}

func (a *app) langCmd() *cobra.Command {
	var toggle bool
	cmd := &cobra.Command{
		Use:   "lang [es|en]",
		Short: "Show or set the interface language",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			switch {
			case toggle:
				if _, err := a.rt.Prefs.ToggleLanguage(ctx); err != nil {
					return err
				}
			case len(args) == 1:
				if err := a.rt.Prefs.SetLanguage(ctx, strings.ToLower(args[0])); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.rt.Prefs.Language(ctx))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&toggle, "toggle", "t", false, "Switch between es and en")
	return cmd
}

func (a *app) draftCmd() *cobra.Command {
	var discard bool
	cmd := &cobra.Command{
		Use:   "draft [text]",
		Short: "Show, save or clear the unsent post",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			switch {
			case discard:
				return a.rt.Prefs.ClearDraft(ctx)
			case len(args) > 0:
				return a.rt.Prefs.SaveDraft(ctx, strings.Join(args, " "))
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.rt.Prefs.Draft(ctx))
			return nil
		},
	}
	cmd.Flags().BoolVar(&discard, "clear", false, "Discard the draft")
	return cmd
}
