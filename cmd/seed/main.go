package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"llm_relay/internal/auth"
	"llm_relay/internal/config"
	"llm_relay/internal/models"
	"llm_relay/internal/storage"
)

const (
	defaultAdminEmail    = "admin@example.com"
	defaultCredit        = 1000
	defaultSystemMessage = "You are a helpful assistant."
	devTokenTTL          = 24 * time.Hour
)

func main() {
	fmt.Println("LLM Relay - Development Seed")
	fmt.Println(strings.Repeat("=", 48))

	cfg, err := config.Load()
	if err != nil {
		fail("Failed to load configuration: %v", err)
	}

	email := os.Getenv("SEED_ADMIN_EMAIL")
	if email == "" {
		email = defaultAdminEmail
	}
	credit := int64(defaultCredit)
	if raw := os.Getenv("SEED_CREDIT"); raw != "" {
		credit, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || credit < 0 {
			fail("SEED_CREDIT must be a non-negative integer, got %q", raw)
		}
	}

	fmt.Println("Connecting to database...")
	dbConfig := storage.DefaultDBConfig()
	dbConfig.DSN = cfg.Database.URL
	dbConfig.ModelCacheSize = 10
	db, err := storage.NewDB(dbConfig)
	if err != nil {
		fail("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		fail("Failed to apply schema: %v", err)
	}

	account, err := seedAdmin(ctx, storage.NewAccountRepository(db), email, credit)
	if err != nil {
		fail("%v", err)
	}

	modelRepo := storage.NewModelRepository(db)
	for _, m := range defaultModels() {
		if err := modelRepo.Upsert(ctx, m); err != nil {
			fail("Failed to seed model %s: %v", m.APIName, err)
		}
		fmt.Printf("Model %s (%s) ready, cost %d, context %d\n", m.APIName, m.Provider, m.Cost, m.ContextLimit)
	}

	globalConfig := storage.NewGlobalConfigRepository(db)
	current, err := globalConfig.SystemMessage(ctx)
	if err != nil {
		fail("Failed to read global config: %v", err)
	}
	if current == "" {
		if err := globalConfig.SetSystemMessage(ctx, defaultSystemMessage); err != nil {
			fail("Failed to seed global config: %v", err)
		}
		fmt.Println("Global system message set")
	}

	token, expiresAt, err := auth.GenerateAccessToken(account.ID, auth.RoleAdmin, cfg.JWTSecret, devTokenTTL)
	if err != nil {
		fail("Failed to sign access token: %v", err)
	}

	fmt.Println()
	fmt.Printf("Account:  %s (%s)\n", account.Email, account.ID)
	fmt.Printf("Expires:  %s\n", expiresAt.Format(time.RFC3339))
	fmt.Printf("Token:    %s\n", token)
}

// seedAdmin returns the account for email, creating it with credit when missing
func seedAdmin(ctx context.Context, accounts *storage.AccountRepository, email string, credit int64) (*models.Account, error) {
	existing, err := accounts.GetByEmail(ctx, email)
	if err == nil {
		fmt.Printf("INFO: Account %s already exists, balance %d\n", email, existing.CurrentCredit)
		return existing, nil
	}
	if !errors.Is(err, storage.ErrAccountNotFound) {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	account := &models.Account{Email: email, Role: auth.RoleAdmin.String()}
	if err := accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	if credit > 0 {
		balance, err := accounts.ApplyCreditDelta(ctx, account.ID, uuid.New(), credit, models.ReasonGrant)
		if err != nil {
			return nil, fmt.Errorf("failed to grant initial credit: %w", err)
		}
		account.CurrentCredit = balance
	}
	fmt.Printf("Created %s account %s with %d credit\n", account.Role, email, account.CurrentCredit)
	return account, nil
}

func defaultModels() []*models.Model {
	medium := "medium"
	return []*models.Model{
		{
			APIName:      "gpt-4o",
			Name:         "GPT-4o",
			Provider:     models.ProviderOpenAI,
			IsEnabled:    true,
			Cost:         1,
			ContextLimit: 128000,
			DisplayOrder: 1,
		},
		{
			APIName:          "o3-mini",
			Name:             "o3 mini",
			Provider:         models.ProviderOpenAI,
			IsEnabled:        true,
			Cost:             3,
			IsInferenceModel: true,
			ReasoningEffort:  &medium,
			ContextLimit:     200000,
			DisplayOrder:     2,
		},
		{
			APIName:      "gemini-2.0-flash",
			Name:         "Gemini 2.0 Flash",
			Provider:     models.ProviderGemini,
			IsEnabled:    true,
			Cost:         1,
			ContextLimit: 1048576,
			DisplayOrder: 3,
		},
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ERROR: "+format+"\n", args...)
	os.Exit(1)
}
