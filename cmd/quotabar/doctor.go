package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotabar/quotabar/internal/config"
	"github.com/quotabar/quotabar/internal/creds"
	"github.com/quotabar/quotabar/internal/credstore"
	"github.com/quotabar/quotabar/internal/provider"
	"github.com/quotabar/quotabar/internal/snapshot"
)

type doctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details"`
}

type doctorReport struct {
	Checks []doctorCheck `json:"checks"`
}

func (r doctorReport) healthy() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

func (r *doctorReport) add(name string, ok bool, format string, args ...any) {
	r.Checks = append(r.Checks, doctorCheck{Name: name, OK: ok, Details: fmt.Sprintf(format, args...)})
}

func newDoctorCommand() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, credentials, browser stores, and the widget dir",
		RunE: func(cmd *cobra.Command, _ []string) error {
			report := runDoctor()
			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printDoctorHuman(report)
			}
			if !report.healthy() {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output report as JSON")
	return cmd
}

func runDoctor() doctorReport {
	var report doctorReport

	cfg, err := config.Load(configPath)
	if err != nil {
		report.add("config", false, "load %s: %v", configPath, err)
		cfg = config.Default()
	} else {
		report.add("config", true, "loaded %s (refresh every %ds)", configPath, cfg.RefreshIntervalSecs)
	}

	dataDir, err := config.EnsureDataDir()
	if err != nil {
		report.add("data dir", false, "%v", err)
	} else {
		report.add("data dir", true, "%s", dataDir)
	}

	if dataDir != "" {
		if store, err := credstore.Open(dataDir); err != nil {
			report.add("credential store", false, "%v", err)
		} else if err := probeStore(store); err != nil {
			report.add("credential store", false, "round trip failed: %v", err)
		} else {
			report.add("credential store", true, "read/write ok")
		}
	}

	profiles := creds.BrowserProfiles()
	report.add("browser cookie stores", len(profiles) > 0, "%s", describeProfiles(profiles))

	widgetDir, err := config.ExpandPath(config.WidgetDir())
	if err != nil {
		report.add("widget dir", false, "%v", err)
	} else if err := os.MkdirAll(widgetDir, 0o700); err != nil {
		report.add("widget dir", false, "%v", err)
	} else {
		report.add("widget dir", true, "%s", widgetDir)
	}

	if snap, err := snapshot.ReadFile(widgetDir); err != nil {
		report.add("snapshot", false, "none published yet")
	} else if snap.Stale(time.Now()) {
		report.add("snapshot", false, "stale, captured %s", snap.CapturedAt.Local().Format(time.RFC3339))
	} else {
		report.add("snapshot", true, "captured %s", snap.CapturedAt.Local().Format(time.RFC3339))
	}

	report.Checks = append(report.Checks, providerChecks(cfg)...)
	return report
}

// probeStore writes and deletes a marker entry to prove the store works
// end to end, keychain prompts included.
func probeStore(store credstore.Store) error {
	const key = "doctor-probe"
	if err := store.Set(key, "ok"); err != nil {
		return err
	}
	if _, err := store.Get(key); err != nil {
		return err
	}
	return store.Delete(key)
}

func providerChecks(cfg config.Config) []doctorCheck {
	var checks []doctorCheck
	for _, desc := range provider.Registry() {
		name := "provider " + desc.ID
		switch desc.Credential {
		case provider.CredCookies:
			if cfg.Providers[desc.ID] {
				checks = append(checks, doctorCheck{
					Name: name, OK: true,
					Details: fmt.Sprintf("enabled, session cookie %q on %s", desc.CookieSpec.SessionCookie, desc.CookieSpec.Domain),
				})
			} else {
				checks = append(checks, doctorCheck{
					Name: name, OK: true,
					Details: fmt.Sprintf("disabled (set providers.%s = true to enable)", desc.ID),
				})
			}
		case provider.CredAPIKey:
			if cfg.Keys[desc.ID] != "" {
				checks = append(checks, doctorCheck{Name: name, OK: true, Details: "api key configured"})
			} else {
				checks = append(checks, doctorCheck{
					Name: name, OK: true,
					Details: fmt.Sprintf("no key (set keys.%s to enable)", desc.ID),
				})
			}
		}
	}
	return checks
}

func describeProfiles(profiles []creds.BrowserProfile) string {
	if len(profiles) == 0 {
		return "no browser cookie stores found"
	}
	counts := map[string]int{}
	order := []string{}
	for _, p := range profiles {
		if counts[p.Browser] == 0 {
			order = append(order, p.Browser)
		}
		counts[p.Browser]++
	}
	out := ""
	for i, b := range order {
		if i > 0 {
			out += ", "
		}
		if counts[b] > 1 {
			out += fmt.Sprintf("%s (%d profiles)", b, counts[b])
		} else {
			out += b
		}
	}
	return out
}

func printDoctorHuman(report doctorReport) {
	fmt.Println("quotabar doctor")
	fmt.Println()
	for _, c := range report.Checks {
		state := "FAIL"
		if c.OK {
			state = "PASS"
		}
		fmt.Printf("[%s] %s\n", state, c.Name)
		fmt.Printf("  %s\n", c.Details)
	}
}
