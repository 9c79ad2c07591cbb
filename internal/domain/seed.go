package domain

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"example.com/attendance/internal/contract"
)

// SeedAccount describes a user created at startup.
type SeedAccount struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      contract.Role
}

// DefaultAccounts are the demo users of the dev server.
var DefaultAccounts = []SeedAccount{
	{Email: "admin@company.com", Password: "admin123", FirstName: "Admin", LastName: "User", Role: contract.RoleAdmin},
	{Email: "john.doe@company.com", Password: "employee123", FirstName: "John", LastName: "Doe", Role: contract.RoleEmployee},
}

// Seed creates accounts that do not exist yet. cost is the bcrypt cost.
func Seed(ctx context.Context, repo Repository, cost int, accounts ...SeedAccount) error {
	for _, account := range accounts {
		email := normalizeEmail(account.Email)
		existing, err := repo.FindUserByEmail(ctx, email)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(account.Password), cost)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", email, err)
		}
		if _, err := repo.CreateUser(ctx, User{
			Email:        email,
			FirstName:    account.FirstName,
			LastName:     account.LastName,
			Role:         account.Role,
			PasswordHash: hash,
			Active:       true,
		}); err != nil {
			return fmt.Errorf("create %s: %w", email, err)
		}
	}
	return nil
}
