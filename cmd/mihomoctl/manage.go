package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/mihomoctl-go/internal/rules"
	"github.com/John-Robertt/mihomoctl-go/internal/storage"
)

var manageCmd = &cobra.Command{
	Use:   "manage",
	Short: "Show or manage cached state and quick rules",
}

var manageCacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Show or clear the cached last subscription URL",
}

var manageCacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the cached last subscription URL",
	RunE: func(cmd *cobra.Command, _ []string) error {
		paths, err := managePaths()
		if err != nil {
			return err
		}
		cfg, err := storage.LoadAppConfig(paths)
		if err != nil {
			return err
		}
		if cfg.LastSubscriptionURL != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "last-subscription-url: %s\n", cfg.LastSubscriptionURL)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "last-subscription-url: <none>")
		}
		return nil
	},
}

var manageCacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the cached last subscription URL",
	RunE: func(cmd *cobra.Command, _ []string) error {
		paths, err := managePaths()
		if err != nil {
			return err
		}
		cfg, err := storage.LoadAppConfig(paths)
		if err != nil {
			return err
		}
		cfg.LastSubscriptionURL = ""
		if err := storage.SaveAppConfig(paths, cfg); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "cleared last-subscription-url")
		return nil
	},
}

var manageCustomCmd = &cobra.Command{
	Use:   "custom",
	Short: "Manage quick custom rules that force domains via a specific proxy",
}

var manageCustomAddFlags struct {
	domain string
	via    string
	kind   string
}

var manageCustomAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a custom rule",
	RunE: func(cmd *cobra.Command, _ []string) error {
		paths, err := managePaths()
		if err != nil {
			return err
		}
		cfg, err := storage.LoadAppConfig(paths)
		if err != nil {
			return err
		}

		rule, err := rules.ParseQuickRule(
			manageCustomAddFlags.domain,
			manageCustomAddFlags.kind,
			manageCustomAddFlags.via)
		if err != nil {
			return err
		}

		for _, existing := range cfg.CustomRules {
			if existing == rule {
				fmt.Fprintln(cmd.OutOrStdout(), "custom rule already exists")
				return nil
			}
		}
		cfg.CustomRules = append(cfg.CustomRules, rule)
		if err := storage.SaveAppConfig(paths, cfg); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "custom rule added")
		return nil
	},
}

var manageCustomListCmd = &cobra.Command{
	Use:   "list",
	Short: "List custom rules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		paths, err := managePaths()
		if err != nil {
			return err
		}
		cfg, err := storage.LoadAppConfig(paths)
		if err != nil {
			return err
		}
		if len(cfg.CustomRules) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "<no custom rules>")
			return nil
		}
		for _, r := range cfg.CustomRules {
			fmt.Fprintln(cmd.OutOrStdout(), r.Rule())
		}
		return nil
	},
}

var manageCustomRemoveFlags struct {
	domain string
	via    string
}

var manageCustomRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove custom rules matching domain (and optionally via)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		paths, err := managePaths()
		if err != nil {
			return err
		}
		cfg, err := storage.LoadAppConfig(paths)
		if err != nil {
			return err
		}

		var kept []rules.QuickRule
		for _, r := range cfg.CustomRules {
			if r.Domain != manageCustomRemoveFlags.domain {
				kept = append(kept, r)
				continue
			}
			if manageCustomRemoveFlags.via != "" && r.Via != manageCustomRemoveFlags.via {
				kept = append(kept, r)
			}
		}
		removed := len(cfg.CustomRules) - len(kept)
		cfg.CustomRules = kept
		if err := storage.SaveAppConfig(paths, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d rule(s)\n", removed)
		return nil
	},
}

var manageCheckDomain string

var manageCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a domain should go via proxy or direct",
	RunE: func(cmd *cobra.Command, _ []string) error {
		paths, err := managePaths()
		if err != nil {
			return err
		}
		cfg, err := storage.LoadAppConfig(paths)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rules.Check(cfg.CustomRules, manageCheckDomain))
		return nil
	},
}

var manageDevListFormat string

var manageDevListCmd = &cobra.Command{
	Use:   "dev-list",
	Short: "List built-in dev domains",
	Long: `List the built-in developer/infra domains considered proxy-worthy.

Preview the full rules without writing a file with
"mihomoctl merge --dev-rules-show --dry-run".`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		items := devListDomains()
		out := cmd.OutOrStdout()
		switch manageDevListFormat {
		case "json":
			raw, err := json.MarshalIndent(items, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(raw))
		case "yaml":
			raw, err := yaml.Marshal(items)
			if err != nil {
				return err
			}
			fmt.Fprint(out, string(raw))
		default:
			for _, d := range items {
				fmt.Fprintln(out, d)
			}
		}
		return nil
	},
}

func devListDomains() []string {
	seen := make(map[string]bool, len(rules.DevTargets))
	items := make([]string, 0, len(rules.DevTargets))
	for _, t := range rules.DevTargets {
		if !seen[t.Host] {
			seen[t.Host] = true
			items = append(items, t.Host)
		}
	}
	sort.Strings(items)
	return items
}

func managePaths() (*storage.AppPaths, error) {
	paths, err := storage.NewAppPaths()
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureRuntimeDirs(); err != nil {
		return nil, err
	}
	return paths, nil
}

func init() {
	manageCustomAddCmd.Flags().StringVar(&manageCustomAddFlags.domain, "domain", "", "domain to match (e.g. cache.nixos.org)")
	manageCustomAddCmd.Flags().StringVar(&manageCustomAddFlags.via, "via", "", "proxy or group to route via (direct/reject/proxy are canonicalized)")
	manageCustomAddCmd.Flags().StringVar(&manageCustomAddFlags.kind, "kind", "suffix", "match kind: domain|suffix|keyword")
	_ = manageCustomAddCmd.MarkFlagRequired("domain")
	_ = manageCustomAddCmd.MarkFlagRequired("via")

	manageCustomRemoveCmd.Flags().StringVar(&manageCustomRemoveFlags.domain, "domain", "", "domain to remove")
	manageCustomRemoveCmd.Flags().StringVar(&manageCustomRemoveFlags.via, "via", "", "narrow removal to rules with this via")
	_ = manageCustomRemoveCmd.MarkFlagRequired("domain")

	manageCheckCmd.Flags().StringVar(&manageCheckDomain, "domain", "", "domain to evaluate (e.g. github.com)")
	_ = manageCheckCmd.MarkFlagRequired("domain")

	manageDevListCmd.Flags().StringVar(&manageDevListFormat, "format", "plain", "output format: plain|yaml|json")

	manageCacheCmd.AddCommand(manageCacheShowCmd)
	manageCacheCmd.AddCommand(manageCacheClearCmd)
	manageCustomCmd.AddCommand(manageCustomAddCmd)
	manageCustomCmd.AddCommand(manageCustomListCmd)
	manageCustomCmd.AddCommand(manageCustomRemoveCmd)

	manageCmd.AddCommand(manageCacheCmd)
	manageCmd.AddCommand(manageCustomCmd)
	manageCmd.AddCommand(manageCheckCmd)
	manageCmd.AddCommand(manageDevListCmd)
}
