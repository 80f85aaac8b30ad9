package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/store"
)

func userAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "useradd",
		Short: "Create an admin console user",
		RunE:  runUserAdd,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("username", "u", "", "Login name (required)")
	f.StringP("password", "p", "", "Password (or set ASSESSOR_PASSWORD)")
	f.String("display-name", "", "Display name (default: username)")
	f.String("role", string(model.UserRoleReviewer), "Role (admin, reviewer)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func runUserAdd(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	role := model.UserRole(v.GetString("role"))
	if role != model.UserRoleAdmin && role != model.UserRoleReviewer {
		return fmt.Errorf("unknown role %q", role)
	}
	password := v.GetString("password")
	if password == "" {
		return errors.New("password is required: set --password or ASSESSOR_PASSWORD")
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	username := v.GetString("username")
	displayName := v.GetString("display-name")
	if displayName == "" {
		displayName = username
	}
	return createUser(cmd.Context(), db, username, displayName, password, role)
}

func createUser(ctx context.Context, db *store.Store, username, displayName, password string, role model.UserRole) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = db.CreateUser(ctx, model.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create user %s: %w", username, err)
	}
	return nil
}

// seedAdmin creates the first admin account on an empty database.
func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if password == "" {
		return errors.New("admin password is required: set --admin-password flag or ASSESSOR_ADMIN_PASSWORD env var")
	}
	if err := createUser(ctx, db, "admin", "Administrator", password, model.UserRoleAdmin); err != nil {
		return err
	}
	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
