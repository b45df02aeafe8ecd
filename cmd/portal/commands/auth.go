package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/benvon/hospital-portal/internal/models"
	"github.com/benvon/hospital-portal/internal/navigation"
	"github.com/benvon/hospital-portal/internal/session"
	"github.com/benvon/hospital-portal/internal/token"
	"github.com/spf13/cobra"
)

// passwordEnv is read when --password is not given
const passwordEnv = "PORTAL_PASSWORD"

func passwordOrEnv(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(passwordEnv)
}

func newLoginCmd(o *rootOptions) *cobra.Command {
	var phone, password, redirect string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with phone number and password",
		Long:  "Log in and store the session token. The password may also be given in " + passwordEnv + ".",
		RunE: o.withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			ctx := cmd.Context()
			profile, err := a.session.Login(ctx, models.LoginRequest{Phone: strings.TrimSpace(phone), Password: passwordOrEnv(password)})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Logged in as %s\n", profile.DisplayName())

			loc, err := a.navigator.Navigate(ctx, redirect)
			if err != nil {
				return fmt.Errorf("open %s: %w", redirect, err)
			}
			printLocation(a, loc)
			return nil
		}),
	}
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password")
	cmd.Flags().StringVar(&redirect, "redirect", "/home", "Page to open after logging in")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func newLogoutCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the stored session",
		RunE: o.withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if err := a.session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out.")
			return nil
		}),
	}
}

func newRegisterCmd(o *rootOptions) *cobra.Command {
	var phone, password, nickname string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a new account",
		RunE: o.withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			err := a.session.Register(cmd.Context(), models.RegisterRequest{
				Phone:    strings.TrimSpace(phone),
				Password: passwordOrEnv(password),
				Nickname: nickname,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Account created. Run 'portal login' to sign in.")
			return nil
		}),
	}
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password")
	cmd.Flags().StringVar(&nickname, "nickname", "", "Display name")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func newWhoamiCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: o.withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			ctx := cmd.Context()
			state := a.session.State(ctx)
			fmt.Fprintf(a.out, "State:    %s\n", state)
			if state != session.LoggedIn {
				return nil
			}

			fmt.Fprintf(a.out, "User ID:  %s\n", a.session.UserID(ctx))
			if tok, err := a.store.Token(ctx); err == nil {
				if exp, err := token.ExtractExpiry(tok); err == nil && !exp.IsZero() {
					fmt.Fprintf(a.out, "Expires:  %s\n", exp.Local().Format(time.RFC3339))
				}
			}
			if p := a.session.CurrentUser(ctx); p != nil {
				fmt.Fprintf(a.out, "Name:     %s\n", p.DisplayName())
				fmt.Fprintf(a.out, "Phone:    %s\n", p.Phone)
				fmt.Fprintf(a.out, "Roles:    %s\n", strings.Join(p.Roles.Names(), ", "))
			} else {
				fmt.Fprintln(a.out, "Profile:  not cached (run 'portal refresh')")
			}
			fmt.Fprintf(a.out, "Admin:    %v\n", a.session.IsAdmin(ctx))
			return nil
		}),
	}
}

func newRefreshCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-fetch the profile of the current session",
		RunE: o.withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			ctx := cmd.Context()
			if !a.session.IsLoggedIn(ctx) {
				fmt.Fprintln(a.out, "Not logged in.")
				return nil
			}
			if err := a.session.RefreshProfile(ctx); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Profile refreshed for %s\n", a.session.CurrentUser(ctx).DisplayName())
			return nil
		}),
	}
}

func newPasswdCmd(o *rootOptions) *cobra.Command {
	var oldPassword, newPassword string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the password of the current account",
		RunE: o.withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			err := a.session.ChangePassword(cmd.Context(), models.PasswordChange{OldPassword: oldPassword, NewPassword: newPassword})
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Password changed.")
			return nil
		}),
	}
	cmd.Flags().StringVar(&oldPassword, "old", "", "Current password (required)")
	cmd.Flags().StringVar(&newPassword, "new", "", "New password (required)")
	_ = cmd.MarkFlagRequired("old")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}

func printLocation(a *app, loc navigation.Location) {
	title := loc.Route.Title
	if t := a.title.Get(); t != "" {
		title = t
	}
	fmt.Fprintf(a.out, "Now at %s (%s)\n", loc.FullPath, title)
}

// requireLogin fails early with the login hint the guard would give
func requireLogin(ctx context.Context, a *app) error {
	if !a.session.IsLoggedIn(ctx) {
		return session.ErrNotLoggedIn
	}
	return nil
}
