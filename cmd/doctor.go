package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/CosmoTheDev/ctrlscan-api/internal/authz"
	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
	"github.com/CosmoTheDev/ctrlscan-api/internal/database"
	"github.com/CosmoTheDev/ctrlscan-api/internal/ingest"
	"github.com/CosmoTheDev/ctrlscan-api/internal/tracker"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Verify database, scan types, trackers and credentials",
	Long: `Checks that the database can be reached and migrated, the scan type
registry loads, configured issue trackers and notification channels are
usable, and API tokens are well formed.`,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	allOK := true
	fail := func(format string, a ...any) {
		fmt.Println(failStyle.Render("FAIL (" + fmt.Sprintf(format, a...) + ")"))
		allOK = false
	}
	warn := func(format string, a ...any) {
		fmt.Println(warnStyle.Render("WARN (" + fmt.Sprintf(format, a...) + ")"))
	}
	ok := func(format string, a ...any) {
		fmt.Println(successStyle.Render("OK") + dimStyle.Render(" ("+fmt.Sprintf(format, a...)+")"))
	}

	fmt.Println(headerStyle.Render("=== ctrlscan-api doctor ==="))

	fmt.Print("Database ................. ")
	db, err := database.New(cfg.Database)
	if err != nil {
		fail("%s", err)
	} else {
		if err := db.Ping(ctx); err != nil {
			fail("%s", err)
		} else if err := db.Migrate(ctx); err != nil {
			fail("migrations: %s", err)
		} else {
			where := cfg.Database.Path
			if db.Driver() == "mysql" {
				where = config.Redacted(cfg).Database.DSN
			}
			ok("%s: %s", db.Driver(), where)
		}
		db.Close()
	}

	fmt.Print("Scan types ............... ")
	if registry, err := ingest.LoadRegistry(cfg.Import.ScanTypesFile); err != nil {
		fail("%s", err)
	} else {
		source := "built-in"
		if cfg.Import.ScanTypesFile != "" {
			source = cfg.Import.ScanTypesFile
		}
		ok("%d types, %s", len(registry.All()), source)
	}

	fmt.Print("Max report size .......... ")
	if cfg.Import.MaxFileSizeMB <= 0 {
		fail("import.max_file_size_mb must be positive")
	} else {
		ok("%d MB", cfg.Import.MaxFileSizeMB)
	}

	fmt.Println()
	fmt.Println("Issue trackers:")
	for _, gh := range cfg.Trackers.GitHub {
		fmt.Printf("  %-22s ... ", "github "+hostOr(gh.Host, "github.com"))
		if _, err := tracker.NewGitHub(gh); err != nil {
			fail("%s", err)
		} else if gh.Token == "" {
			warn("no token")
		} else {
			ok("token set")
		}
	}
	for _, gl := range cfg.Trackers.GitLab {
		fmt.Printf("  %-22s ... ", "gitlab "+hostOr(gl.Host, "gitlab.com"))
		if _, err := tracker.NewGitLab(gl); err != nil {
			fail("%s", err)
		} else if gl.Token == "" {
			warn("no token")
		} else {
			ok("token set")
		}
	}
	if cfg.Trackers.Jira.URL != "" {
		fmt.Printf("  %-22s ... ", "jira")
		if _, err := tracker.NewJira(cfg.Trackers.Jira); err != nil {
			fail("%s", err)
		} else {
			ok("%s as %s", cfg.Trackers.Jira.URL, cfg.Trackers.Jira.Username)
		}
	}
	if len(cfg.Trackers.GitHub) == 0 && len(cfg.Trackers.GitLab) == 0 && cfg.Trackers.Jira.URL == "" {
		fmt.Println(dimStyle.Render("  none configured (findings will not be pushed)"))
	}

	fmt.Println()
	fmt.Println("Notifications:")
	fmt.Printf("  %-22s ... ", "slack")
	if cfg.Notify.Slack.WebhookURL == "" {
		fmt.Println(dimStyle.Render("disabled"))
	} else {
		ok("events: %v", cfg.Notify.Events)
	}
	fmt.Printf("  %-22s ... ", "webhook")
	switch {
	case cfg.Notify.Webhook.URL == "":
		fmt.Println(dimStyle.Render("disabled"))
	case cfg.Notify.Webhook.Secret == "":
		warn("%s, unsigned", cfg.Notify.Webhook.URL)
	default:
		ok("%s, signed", cfg.Notify.Webhook.URL)
	}

	fmt.Println()
	fmt.Print("API tokens ............... ")
	if _, err := authz.NewChecker(cfg.Auth); err != nil {
		fail("%s", err)
	} else if len(cfg.Auth.Tokens) == 0 {
		warn("none configured, every request runs as an anonymous owner")
	} else {
		ok("%d tokens", len(cfg.Auth.Tokens))
	}

	fmt.Println()
	if allOK {
		fmt.Println(successStyle.Render("All checks passed — ctrlscan-api is ready!"))
	} else {
		fmt.Println(warnStyle.Render("Some checks failed — run 'ctrlscan-api config edit' to fix."))
	}
	return nil
}

func hostOr(host, def string) string {
	if host == "" {
		return def
	}
	return host
}
