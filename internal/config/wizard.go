package config

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
}

// NewWizard creates a new configuration wizard
func NewWizard() *Wizard {
	return &Wizard{
		reader: bufio.NewReader(os.Stdin),
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Println("=== Braid Configuration Wizard ===")
	fmt.Println()

	cfg := DefaultConfig()
	validator := NewValidator()

	fmt.Println("Provider API keys (at least one is required):")
	fmt.Println()

	prompts := []struct {
		label string
		name  string
	}{
		{"Anthropic", "anthropic"},
		{"OpenAI", "openai"},
		{"Google", "google"},
	}

	configured := 0
	for _, p := range prompts {
		for {
			fmt.Printf("%s API Key (press Enter to skip): ", p.label)
			key, err := w.readLine()
			if err != nil {
				return nil, err
			}

			if key == "" {
				break
			}

			if err := validator.ValidateAPIKey(key, p.name); err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}

			pc := cfg.Providers[p.name]
			pc.APIKey = key
			cfg.Providers[p.name] = pc
			configured++
			break
		}
	}

	if configured == 0 {
		return nil, fmt.Errorf("at least one provider API key is required")
	}

	fmt.Println()

	// Default agent model
	fmt.Println("Default agent:")
	fmt.Print("Model name [claude-sonnet-4-0]: ")
	model, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if model != "" {
		cfg.Agents[0].Model = model
	}

	fmt.Println()

	// Gateway shared secret
	fmt.Println("Gateway:")
	fmt.Print("Shared secret (press Enter to generate one): ")
	secret, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if secret == "" {
		secret, err = generateSharedSecret()
		if err != nil {
			return nil, err
		}
		fmt.Printf("Generated shared secret: %s\n", secret)
	}
	cfg.Gateway.SharedSecret = secret

	fmt.Println()

	// Log Level
	fmt.Println("Logging:")
	fmt.Print("Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Printf("Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Println()
	for _, err := range validator.ValidateConfig(cfg) {
		fmt.Printf("Warning: %v\n", err)
	}
	fmt.Println("Configuration complete!")

	return cfg, nil
}

// generateSharedSecret returns a random hex secret for gateway auth.
func generateSharedSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
