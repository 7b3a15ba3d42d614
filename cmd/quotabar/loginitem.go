package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
)

const launchAgentLabel = "com.quotabar.agent"

func newLoginItemCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login-item",
		Short: "Install or remove the macOS launch agent",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Start quotabar headless at login",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return installLoginItem()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove",
		Short: "Stop starting quotabar at login",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return removeLoginItem()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report whether the launch agent is installed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := launchAgentPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				fmt.Println("not installed")
				return nil
			} else if err != nil {
				return err
			}
			fmt.Printf("installed at %s\n", path)
			return nil
		},
	})
	return cmd
}

func launchAgentPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "LaunchAgents", launchAgentLabel+".plist"), nil
}

func installLoginItem() error {
	if runtime.GOOS != "darwin" {
		return errors.New("login-item is only supported on macOS")
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	path, err := launchAgentPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	plist := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>%s</string>
	<key>ProgramArguments</key>
	<array>
		<string>%s</string>
		<string>--headless</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
</dict>
</plist>
`, launchAgentLabel, exe)
	if err := os.WriteFile(path, []byte(plist), 0o644); err != nil {
		return fmt.Errorf("write launch agent: %w", err)
	}
	// Reload if an older copy is already registered.
	_ = exec.Command("launchctl", "unload", path).Run()
	if out, err := exec.Command("launchctl", "load", path).CombinedOutput(); err != nil {
		return fmt.Errorf("launchctl load: %v: %s", err, out)
	}
	fmt.Printf("installed %s\n", path)
	return nil
}

func removeLoginItem() error {
	if runtime.GOOS != "darwin" {
		return errors.New("login-item is only supported on macOS")
	}
	path, err := launchAgentPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Println("no launch agent installed")
		return nil
	}
	if out, err := exec.Command("launchctl", "unload", path).CombinedOutput(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: launchctl unload: %v: %s\n", err, out)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove launch agent: %w", err)
	}
	fmt.Printf("removed %s\n", path)
	return nil
}
