package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/readaloud/internal/config"
)

var (
	configPathOnly bool

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Edit the readaloud config file",
		Long: paragraph(fmt.Sprintf("\n%s readaloud.yml in $EDITOR. Set %s to render in the cloud and %s to speak on this device. A missing file is created from the defaults, readable only by you since it holds the API key.",
			keyword("Edit"), keyword("cloud.api_key"), keyword("synth.model"))),
		Example: paragraph("readaloud config\nreadaloud config --path\nreadaloud config --config ./work.yml"),
		Args:    cobra.NoArgs,
		// A broken file must stay editable, so skip the root config load.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE:              runConfig,
	}
)

func init() {
	configCmd.Flags().BoolVarP(&configPathOnly, "path", "p", false, "print the config file path and exit")
}

func runConfig(*cobra.Command, []string) error {
	if err := ensureConfigFile(); err != nil {
		return err
	}
	if configPathOnly {
		fmt.Println(configFile)
		return nil
	}

	c, err := editor.Cmd(config.AppName, configFile)
	if err != nil {
		return fmt.Errorf("unable to find an editor: %w", err)
	}
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("editor exited: %w", err)
	}

	if err := config.CheckFile(configFile); err != nil {
		fmt.Printf("%s %s\n", errorText("Saved with problems:"), err)
		return nil
	}
	fmt.Println("Wrote config file to:", configFile)
	return nil
}

// ensureConfigFile resolves --config or the file viper found, creating it
// from the defaults when missing.
func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.ConfigFileUsed()
	}
	created, err := config.WriteDefault(configFile)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintln(os.Stderr, faint("Created "+configFile)) //nolint:errcheck
	}
	return nil
}
