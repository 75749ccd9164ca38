package main

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/virtualcc/backoffice/internal/auth"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
	"golang.org/x/term"
)

const adminPasswordEnv = "BACKOFFICE_ADMIN_PASSWORD"

var (
	adminEmail    string
	adminName     string
	adminPassword string
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator, or promote an existing user",
	Long: `Create an administrator account. If a user with the email already exists
it is promoted to ADMIN, and its password is reset when one is given.

The password is read from --password, then ` + adminPasswordEnv + `, then an
interactive prompt when stdin is a terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := mail.ParseAddress(adminEmail)
		if err != nil {
			return fmt.Errorf("--email is not a valid address: %w", err)
		}
		password := adminPassword
		if password == "" {
			password = os.Getenv(adminPasswordEnv)
		}
		if password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
			password, err = promptPassword(cmd.ErrOrStderr(), int(os.Stdin.Fd()))
			if err != nil {
				return err
			}
		}

		return withStore(func(s *store.Store) error {
			created, err := createAdmin(cmd.Context(), s, addr.Address, adminName, password)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Created admin user %s\n", addr.Address)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Promoted %s to admin\n", addr.Address)
			}
			return nil
		})
	},
}

func init() {
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "admin email address")
	createAdminCmd.Flags().StringVar(&adminName, "name", "", "display name for a new admin")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "password (prefer "+adminPasswordEnv+" or the prompt)")
	_ = createAdminCmd.MarkFlagRequired("email")
}

type adminStore interface {
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	CreateUser(ctx context.Context, u *store.User) error
	UpdateUser(ctx context.Context, u *store.User) error
}

// createAdmin reports whether a new user was created.
func createAdmin(ctx context.Context, s adminStore, email, name, password string) (bool, error) {
	var hash string
	if password != "" {
		if err := auth.ValidatePasswordComplexity(password); err != nil {
			return false, err
		}
		h, err := auth.HashPassword(password)
		if err != nil {
			return false, fmt.Errorf("hash password: %w", err)
		}
		hash = h
	}

	existing, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return false, fmt.Errorf("look up user: %w", err)
	}
	if existing != nil {
		existing.Role = store.RoleAdmin
		if hash != "" {
			existing.PasswordHash = hash
		}
		if err := s.UpdateUser(ctx, existing); err != nil {
			return false, err
		}
		return false, nil
	}

	if hash == "" {
		return false, fmt.Errorf("a password is required to create a new admin")
	}
	if strings.TrimSpace(name) == "" {
		name = email[:strings.IndexByte(email, '@')]
	}
	u := &store.User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		Role:         store.RoleAdmin,
		PasswordHash: hash,
	}
	if err := s.CreateUser(ctx, u); err != nil {
		return false, err
	}
	return true, nil
}

func promptPassword(out io.Writer, fd int) (string, error) {
	fmt.Fprint(out, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Fprint(out, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}
