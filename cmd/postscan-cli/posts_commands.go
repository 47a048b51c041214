package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/postscan/internal/core"
	"github.com/vrsandeep/postscan/internal/models"
)

func newPostsCommand(ctx *commandContext) *cobra.Command {
	postsCmd := &cobra.Command{
		Use:   "posts",
		Short: "Add and inspect posts",
	}
	postsCmd.AddCommand(newPostsAddCommand(ctx))
	postsCmd.AddCommand(newPostsListCommand(ctx))
	postsCmd.AddCommand(newPostsMetaCommand(ctx))
	return postsCmd
}

func newPostsAddCommand(ctx *commandContext) *cobra.Command {
	var postType, status string
	var count int
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create one or more posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != models.PostStatusPublish && status != models.PostStatusDraft {
				return fmt.Errorf("unknown status %q", status)
			}
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			return ctx.withApp(func(app *core.App) error {
				for i := 0; i < count; i++ {
					title := args[0]
					if count > 1 {
						title = fmt.Sprintf("%s %d", args[0], i+1)
					}
					p, err := app.Store().CreatePost(cmd.Context(), postType, status, title)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Created %s %d: %s\n", p.PostType, p.ID, p.Title)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&postType, "type", "post", "Post type")
	cmd.Flags().StringVar(&status, "status", models.PostStatusPublish, "Post status (publish or draft)")
	cmd.Flags().IntVar(&count, "count", 1, "Number of posts to create")
	return cmd
}

func newPostsListCommand(ctx *commandContext) *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List posts with their last scan stamp",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *core.App) error {
				posts, err := app.Store().ListPosts(cmd.Context(), types)
				if err != nil {
					return err
				}
				metaKey := app.Config().Scan.MetaKey
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tTITLE\tLAST SCAN")
				for _, p := range posts {
					stamp, ok, err := app.Store().GetPostMeta(cmd.Context(), p.ID, metaKey)
					if err != nil {
						return err
					}
					if !ok {
						stamp = "-"
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", p.ID, p.PostType, p.Status, p.Title, stamp)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "Only list these post types")
	return cmd
}

func newPostsMetaCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "meta <post-id> [key]",
		Short: "Print a metadata value (default key: scan.meta_key)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid post id %q", args[0])
			}
			return ctx.withApp(func(app *core.App) error {
				key := app.Config().Scan.MetaKey
				if len(args) == 2 {
					key = args[1]
				}
				value, ok, err := app.Store().GetPostMeta(cmd.Context(), id, key)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("post %d has no %q meta", id, key)
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	}
}
