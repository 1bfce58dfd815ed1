package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"futures-guard/config"
	"futures-guard/internal/auth"
	"futures-guard/internal/vault"
)

func main() {
	fmt.Println("========================================")
	fmt.Println(" Futures Guard Administration Tool")
	fmt.Println("========================================")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Println("\nOptions:")
		fmt.Println("  1. Hash an admin password")
		fmt.Println("  2. Generate a sample config file")
		fmt.Println("  3. Store service secrets in Vault")
		fmt.Println("  4. Issue a test JWT")
		fmt.Println("  5. Exit")
		fmt.Print("\nSelect option: ")

		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(input)

		switch input {
		case "1":
			hashPassword(reader)
		case "2":
			generateConfig(reader)
		case "3":
			storeSecrets(reader)
		case "4":
			issueTestToken(reader)
		case "5":
			fmt.Println("Goodbye!")
			os.Exit(0)
		default:
			fmt.Println("Invalid option")
		}
	}
}

func hashPassword(reader *bufio.Reader) {
	fmt.Print("\nPassword: ")
	password, _ := reader.ReadString('\n')
	password = strings.TrimSpace(password)
	if password == "" {
		fmt.Println("Password cannot be empty")
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Printf("Failed to hash password: %v\n", err)
		return
	}

	fmt.Println("\n========================================")
	fmt.Printf("  Bcrypt hash: %s\n", hash)
	fmt.Println("========================================")
	fmt.Println("Set this as AUTH_ADMIN_PASSWORD_HASH or store it in Vault.")
}

func generateConfig(reader *bufio.Reader) {
	fmt.Print("\nOutput file [config.json]: ")
	filename, _ := reader.ReadString('\n')
	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = "config.json"
	}

	if _, err := os.Stat(filename); err == nil {
		fmt.Printf("%s already exists, refusing to overwrite\n", filename)
		return
	}

	if err := config.GenerateSampleConfig(filename); err != nil {
		fmt.Printf("Failed to write config: %v\n", err)
		return
	}
	fmt.Printf("Sample configuration written to %s\n", filename)
}

func storeSecrets(reader *bufio.Reader) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return
	}
	if !cfg.VaultConfig.Enabled {
		fmt.Println("Vault is disabled; set VAULT_ENABLED=true and VAULT_TOKEN first")
		return
	}

	client, err := vault.NewClient(vault.Config{
		Enabled:    true,
		Address:    cfg.VaultConfig.Address,
		Token:      cfg.VaultConfig.Token,
		MountPath:  cfg.VaultConfig.MountPath,
		SecretPath: cfg.VaultConfig.SecretPath,
		TLSEnabled: cfg.VaultConfig.TLSEnabled,
		CACert:     cfg.VaultConfig.CACert,
	})
	if err != nil {
		fmt.Printf("Failed to create vault client: %v\n", err)
		return
	}

	fmt.Print("JWT secret (blank to skip): ")
	jwtSecret, _ := reader.ReadString('\n')
	fmt.Print("Admin password (will be hashed, blank to skip): ")
	password, _ := reader.ReadString('\n')
	fmt.Print("Telegram bot token (blank to skip): ")
	telegramToken, _ := reader.ReadString('\n')
	fmt.Print("Discord webhook URL (blank to skip): ")
	discordURL, _ := reader.ReadString('\n')

	secrets := vault.Secrets{
		JWTSecret:         strings.TrimSpace(jwtSecret),
		TelegramBotToken:  strings.TrimSpace(telegramToken),
		DiscordWebhookURL: strings.TrimSpace(discordURL),
	}
	if p := strings.TrimSpace(password); p != "" {
		hash, err := auth.HashPassword(p)
		if err != nil {
			fmt.Printf("Failed to hash password: %v\n", err)
			return
		}
		secrets.AdminPasswordHash = hash
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.StoreSecrets(ctx, secrets); err != nil {
		fmt.Printf("Failed to store secrets: %v\n", err)
		return
	}
	fmt.Println("Secrets stored in Vault")
}

func issueTestToken(reader *bufio.Reader) {
	fmt.Print("\nJWT secret: ")
	secret, _ := reader.ReadString('\n')
	secret = strings.TrimSpace(secret)
	if secret == "" {
		fmt.Println("Secret cannot be empty")
		return
	}

	fmt.Print("Username [admin]: ")
	username, _ := reader.ReadString('\n')
	username = strings.TrimSpace(username)
	if username == "" {
		username = "admin"
	}

	manager := auth.NewManager(secret, username, "", time.Hour)
	token, err := manager.GenerateToken(username)
	if err != nil {
		fmt.Printf("Failed to generate token: %v\n", err)
		return
	}

	fmt.Println("\n========================================")
	fmt.Printf("  Token (1h): %s\n", token)
	fmt.Println("========================================")
}
