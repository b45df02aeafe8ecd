package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newAvatarCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "avatar FILE",
		Short: "Upload a new avatar image",
		Args:  cobra.ExactArgs(1),
		RunE: o.withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			if err := requireLogin(ctx, a); err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open avatar: %w", err)
			}
			defer func() {
				_ = f.Close()
			}()

			url, err := a.session.UploadAvatar(ctx, filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Avatar updated: %s\n", url)
			return nil
		}),
	}
}
