package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/aptospilot/aptospilot/internal"
	"github.com/aptospilot/aptospilot/internal/config"
	"github.com/aptospilot/aptospilot/internal/log"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	data, err := json.MarshalIndent(config.Default(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func validateConfig(path string) error {
	fmt.Printf("Validating: %s\n", path)

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Printf("\nError: %v\n\nResult: FAIL\n", err)
		return err
	}

	fmt.Printf("\nStorage:          %s\n", cfg.Storage.Kind)
	fmt.Printf("Provider:         %s\n", cfg.Auth.Provider)
	fmt.Printf("Default network:  %s (%d configured)\n", cfg.DefaultNetwork, len(cfg.Networks))
	fmt.Printf("Assistant:        %t\n", cfg.Assistant.APIKey != "")
	fmt.Println("\nResult: PASS")
	return nil
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting aptospilot", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
	})

	app, err := internal.NewAptosPilot(context.Background(), cfg, BuildVersion)
	if err != nil {
		log.LogError("Failed to build application: %v", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		log.LogError("Server exited with error: %v", err)
		os.Exit(1)
	}
}
