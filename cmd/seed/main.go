// Command seed bootstraps campaigns from a YAML bundle through the
// same validation and persistence path the Management API uses, for
// scripted environment setup.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	config "leadforge/configs"
	"leadforge/pkg/logger"
	"leadforge/pkg/models"
	"leadforge/pkg/storage/postgres"
	"leadforge/pkg/validation"
)

// bundle is the on-disk shape of a seed file: a flat list of campaign
// definitions, each using the same fields as CreateCampaignRequest.
type bundle struct {
	Campaigns []campaignSpec `yaml:"campaigns"`
}

type campaignSpec struct {
	Name        string                `yaml:"name"`
	Description string                `yaml:"description"`
	ProjectID   string                `yaml:"project_id"`
	Config      models.CampaignConfig `yaml:"config"`
}

func main() {
	path := flag.String("file", "", "path to the YAML seed bundle (defaults to $SEED_FILE)")
	flag.Parse()

	cfg := config.LoadConfig()
	seedPath := *path
	if seedPath == "" {
		seedPath = cfg.SeedFile
	}
	if seedPath == "" {
		fmt.Fprintln(os.Stderr, "no seed file provided: pass -file or set SEED_FILE")
		os.Exit(1)
	}

	if _, err := logger.Init(logger.DefaultConfig("leadforge-seed")); err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(1)
	}

	raw, err := os.ReadFile(seedPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to read seed file:", err)
		os.Exit(1)
	}

	var b bundle
	if err := yaml.Unmarshal(raw, &b); err != nil {
		fmt.Fprintln(os.Stderr, "failed to parse seed file:", err)
		os.Exit(1)
	}

	if cfg.DBHost == "" {
		fmt.Fprintln(os.Stderr, "no store configured: set DB_HOST")
		os.Exit(1)
	}

	connStr := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
	store, err := postgres.NewPostgresStore(connStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to connect to postgres:", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	created, failed := 0, 0
	for _, spec := range b.Campaigns {
		if err := validation.ValidateCampaignConfig(spec.Name, spec.Config); err != nil {
			fmt.Fprintf(os.Stderr, "skipping %q: %v\n", spec.Name, err)
			failed++
			continue
		}

		campaign := &models.Campaign{
			ID:          uuid.New(),
			Name:        spec.Name,
			Description: spec.Description,
			ProjectID:   spec.ProjectID,
			Status:      models.CampaignActive,
			Config:      spec.Config,
		}
		if err := store.CreateCampaign(ctx, campaign); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create %q: %v\n", spec.Name, err)
			failed++
			continue
		}
		created++
	}

	fmt.Printf("seed complete: %d created, %d failed\n", created, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
