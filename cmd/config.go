package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
	"github.com/spf13/cobra"
)

var (
	configShowOutput string
	configInitForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and manage ctrlscan-api configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration (secrets redacted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configShowOutput != "json" && configShowOutput != "yaml" {
			return fmt.Errorf("invalid --output %q (valid: json, yaml)", configShowOutput)
		}
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), configShowOutput, "", config.Redacted(cfg), nil)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the path to the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.ConfigPath(cfgFile)
		if err != nil {
			return err
		}
		fmt.Println(p)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file populated with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.ConfigPath(cfgFile)
		if err != nil {
			return err
		}
		if _, err := os.Stat(p); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", p)
		}
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := config.Save(cfg, cfgFile); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("✓ wrote " + p))
		fmt.Println(dimStyle.Render("  Add auth.tokens before exposing the server beyond localhost."))
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.ConfigPath(cfgFile)
		if err != nil {
			return err
		}
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "nano"
		}
		fmt.Printf("Opening %s with %s...\n", p, editor)
		c := exec.Command(editor, p) // #nosec G204 -- editor is from $EDITOR env var, intentional user-controlled binary
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		return c.Run()
	},
}

func init() {
	configShowCmd.Flags().StringVarP(&configShowOutput, "output", "o", "json", "output format: json or yaml")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configShowCmd, configPathCmd, configInitCmd, configEditCmd)
}
