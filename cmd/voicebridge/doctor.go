package main

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"

	"voicebridge/internal/config"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your voicebridge installation",
		Long: `Verifies that voicebridge's configuration, browser, audio player, and
ports are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("voicebridge doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'voicebridge init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Source-specific checks
			switch cfg.Source.Mode {
			case "poll":
				if cfg.DirectLine.ConversationID == "" || cfg.DirectLine.Token == "" {
					printFail("Direct Line", "conversationId and token are required for poll mode")
					failed++
				} else {
					printPass("Direct Line", "credentials configured")
					passed++
				}
			case "widget":
				if cfg.Widget.URL == "" && cfg.Widget.Profile == "" {
					printFail("Widget", "widget.url or a named selector profile is required")
					failed++
				} else {
					printPass("Widget", "target configured")
					passed++
				}
				if path, err := findChrome(); err != nil {
					printFail("Chrome", "no Chrome or Chromium binary found in PATH")
					failed++
				} else {
					printPass("Chrome", path)
					passed++
				}
			}

			// 4. Speech capabilities
			if cfg.Speech.Enabled {
				if cfg.Speech.TTS.APIKey == "" {
					printWarn("Text-to-speech", "enabled but no API key configured")
					warned++
				} else {
					printPass("Text-to-speech", cfg.Speech.TTS.Provider)
					passed++
				}
				if cfg.Speech.STT.APIKey == "" {
					printWarn("Speech-to-text", "no API key: transcripts must come from the monitor socket")
					warned++
				} else {
					printPass("Speech-to-text", "configured")
					passed++
				}
				if player, err := findPlayer(); err != nil {
					printWarn("Audio player", "neither ffplay nor mpv found: audio will be discarded")
					warned++
				} else {
					printPass("Audio player", player)
					passed++
				}
			}

			// 5. Monitor port
			if cfg.Monitor.Enabled {
				if err := checkPort(cfg.Monitor.Port); err != nil {
					printWarn("Monitor port", fmt.Sprintf("port %d may be in use: %v", cfg.Monitor.Port, err))
					warned++
				} else {
					printPass("Monitor port", fmt.Sprintf(":%d available", cfg.Monitor.Port))
					passed++
				}
			}

			// 6. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running voicebridge.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nvoicebridge should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! voicebridge is ready to run.\n")
			}
			return nil
		},
	}
}

func findChrome() (string, error) {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("not found")
}

func findPlayer() (string, error) {
	for _, name := range []string{"ffplay", "mpv"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("not found")
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
