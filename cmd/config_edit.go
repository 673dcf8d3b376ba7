package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tracksync/config"
)

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the active config in an editor.",
	Long: `Open the active tracksync config file in your editor.

Editor selection order:
1) $VISUAL
2) $EDITOR
3) vi

If no config file exists yet, this command creates one with an example template first.
After the editor exits, the content is validated as tracksync YAML config. On validation
errors you can re-open the editor; otherwise the previous content is restored.`,
	Example: `
  # Edit active config
  tracksync config edit

  # Edit with a specific editor
  EDITOR="code --wait" tracksync config edit
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := resolveConfigEditPath(cfgFile, viper.ConfigFileUsed())
		if err != nil {
			return err
		}

		created, err := ensureConfigFileWithTemplate(configPath)
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("No config file found. Created example config at: %s\n", configPath)
		}

		editor := resolveEditorValue(os.Getenv("VISUAL"), os.Getenv("EDITOR"))
		openEditor := func(path string) error {
			editorCommand, err := buildEditorCommand(editor, path)
			if err != nil {
				return err
			}
			editorCommand.Stdin = os.Stdin
			editorCommand.Stdout = os.Stdout
			editorCommand.Stderr = os.Stderr
			if err := editorCommand.Run(); err != nil {
				return fmt.Errorf("opening editor failed: %w", err)
			}
			return nil
		}
		retry := func(validationErr error) (bool, error) {
			fmt.Fprintf(os.Stderr, "Config validation failed: %v\n", validationErr)
			return confirmPrompt(os.Stdin, os.Stdout, "Re-open the editor? Type Y to retry, anything else restores the previous file: ")
		}

		cfg, err := editAndValidate(configPath, openEditor, retry)
		if err != nil {
			return err
		}
		fmt.Printf("Configuration saved and validated: %s (%s)\n", configPath, describeConfig(cfg))
		return nil
	},
}

// editAndValidate runs edit until the file at path validates. When retry
// declines, the content from before the first edit is written back.
func editAndValidate(path string, edit func(path string) error, retry func(validationErr error) (bool, error)) (*config.Config, error) {
	previous, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config failed: %w", err)
	}

	for {
		if err := edit(path); err != nil {
			return nil, err
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading edited config failed: %w", err)
		}
		cfg, validationErr := config.ValidateYAMLContent(content)
		if validationErr == nil {
			return cfg, nil
		}

		again, err := retry(validationErr)
		if err != nil {
			return nil, err
		}
		if !again {
			if err := os.WriteFile(path, previous, 0o600); err != nil {
				return nil, fmt.Errorf("restoring previous config failed: %w", err)
			}
			return nil, fmt.Errorf("config validation failed in %s, previous content restored: %w", path, validationErr)
		}
	}
}

func describeConfig(cfg *config.Config) string {
	mail := "mail disabled"
	if cfg.Mail.Enabled {
		mail = "mail to " + cfg.Mail.AdminEmail
	}
	return fmt.Sprintf("%d user(s), %s", len(cfg.Users), mail)
}

func resolveConfigEditPath(configFileFlag, configFileUsed string) (string, error) {
	if strings.TrimSpace(configFileFlag) != "" {
		return configFileFlag, nil
	}
	if strings.TrimSpace(configFileUsed) != "" {
		return configFileUsed, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".tracksync.yaml"), nil
}

// ensureConfigFileWithTemplate writes the example config to path unless a file
// exists. The file is private because it holds API tokens.
func ensureConfigFileWithTemplate(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return false, nil
	}
	if !os.IsNotExist(err) {
		return false, fmt.Errorf("checking config file failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, fmt.Errorf("creating config directory failed: %w", err)
	}
	if err := os.WriteFile(path, []byte(config.ExampleYAML()), 0o600); err != nil {
		return false, fmt.Errorf("creating example config failed: %w", err)
	}

	return true, nil
}

func resolveEditorValue(visual, editor string) string {
	for _, candidate := range []string{visual, editor} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return "vi"
}

func buildEditorCommand(editorValue, configPath string) (*exec.Cmd, error) {
	fields := strings.Fields(strings.TrimSpace(editorValue))
	if len(fields) == 0 {
		return nil, fmt.Errorf("editor command is empty")
	}

	args := append(fields[1:], configPath)
	return exec.Command(fields[0], args...), nil
}

func init() {
	configCmd.AddCommand(configEditCmd)
}
