package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"fundarb/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "configuration file path")
		validate   = flag.Bool("validate", false, "validate the configuration file")
		encrypt    = flag.String("encrypt", "", "encrypt a secret for use as an ENC: environment value")
		decrypt    = flag.String("decrypt", "", "decrypt an ENC: value")
		help       = flag.Bool("help", false, "show usage")
	)
	flag.Parse()

	switch {
	case *help:
		showHelp()
	case *encrypt != "":
		encryptSecret(*encrypt)
	case *decrypt != "":
		decryptSecret(*decrypt)
	case *validate:
		validateConfig(*configPath)
	default:
		showHelp()
	}
}

func showHelp() {
	fmt.Println("fundarb configuration tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fundarb-config [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -config string    configuration file path (default: configs/config.yaml)")
	fmt.Println("  -validate         validate the configuration file")
	fmt.Println("  -encrypt string   encrypt a secret; requires FUNDARB_MASTER_KEY")
	fmt.Println("  -decrypt string   decrypt an ENC: value; requires FUNDARB_MASTER_KEY")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  fundarb-config -validate")
	fmt.Println("  fundarb-config -encrypt 'db-password'")
	fmt.Println("  fundarb-config -decrypt 'ENC:...'")
}

func validateConfig(configPath string) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("Configuration file does not exist: %s", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Configuration is invalid: %v", err)
	}

	fmt.Println("Configuration is valid")
	fmt.Println()
	fmt.Printf("  app:       %s %s (%s)\n", cfg.App.Name, cfg.App.Version, cfg.App.Env)
	fmt.Printf("  server:    %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	if cfg.Database.Host != "" {
		fmt.Printf("  database:  %s:%d/%s\n", cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName)
	} else {
		fmt.Printf("  database:  none (in-memory stores)\n")
	}
	if cfg.Redis.Addr != "" {
		fmt.Printf("  redis:     %s\n", cfg.Redis.Addr)
	} else {
		fmt.Printf("  redis:     none (in-memory cache)\n")
	}
	fmt.Printf("  sampling:  enabled=%t spec=%q retention=%dd\n",
		cfg.Sampling.Enabled, cfg.Sampling.Spec, cfg.Sampling.RetentionDays)
	fmt.Printf("  detection: min_spread=%g significant=%g extreme=%g window=%dd\n",
		cfg.Arbitrage.MinSpread, cfg.Arbitrage.ZScoreSignificant,
		cfg.Arbitrage.ZScoreExtreme, cfg.Arbitrage.StatsWindowDays)
	fmt.Printf("  collectors: %d api key(s)\n", len(cfg.Auth.APIKeys))
}

func encryptSecret(text string) {
	requireMasterKey()

	em := config.NewEnvManager("", "")
	if err := em.SetEncryptedString("TEMP", text); err != nil {
		log.Fatalf("Encryption failed: %v", err)
	}

	fmt.Println(em.GetString("TEMP", ""))
	fmt.Fprintln(os.Stderr, "Set this value on the target environment variable; it is decrypted at startup.")
}

func decryptSecret(text string) {
	requireMasterKey()

	em := config.NewEnvManager("", "")
	if err := em.SetString("TEMP", text); err != nil {
		log.Fatalf("Failed to stage value: %v", err)
	}

	decrypted := em.GetEncryptedString("TEMP", "")
	if decrypted == "" {
		log.Fatal("Decryption failed: wrong master key or corrupted value")
	}
	fmt.Println(decrypted)
}

func requireMasterKey() {
	if os.Getenv("FUNDARB_MASTER_KEY") == "" {
		log.Fatal("FUNDARB_MASTER_KEY must be set")
	}
}
