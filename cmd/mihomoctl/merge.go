package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/mihomoctl-go/internal/deploy"
	"github.com/John-Robertt/mihomoctl-go/internal/model"
	"github.com/John-Robertt/mihomoctl-go/internal/pipeline"
	"github.com/John-Robertt/mihomoctl-go/internal/profile"
	"github.com/John-Robertt/mihomoctl-go/internal/resources"
	"github.com/John-Robertt/mihomoctl-go/internal/rules"
	"github.com/John-Robertt/mihomoctl-go/internal/storage"
	"github.com/John-Robertt/mihomoctl-go/internal/template"
	"github.com/John-Robertt/mihomoctl-go/internal/tweak"
)

var mergeFlags struct {
	template          string
	baseConfig        string
	subscriptionsFile string
	subscriptions     []string
	output            string
	stdout            bool
	dryRun            bool
	useLast           bool
	watch             bool

	subscriptionUA string
	allowBase64    bool

	devRules     bool
	devRulesVia  string
	devRulesShow bool

	controllerHost   string
	controllerPort   uint16
	controllerSecret string

	fakeIPBypass     []string
	fakeIPFilterAdd  []string
	fakeIPFilterMode string
	k8sCIDRExclude   []string

	pushAPI    string
	pushSecret string
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge subscriptions with a template",
	Long: `Load subscriptions (from the stored list or ad-hoc sources), merge
them with a template, and emit a Mihomo-compatible config.

Relative --template paths resolve under the templates directory,
relative --base-config paths under the config directory. Dev rules are
enabled by default and prepend proxy routing for developer and AI
endpoints; disable them with --dev-rules=false.`,
	Example: `  mihomoctl merge
  mihomoctl merge -s https://example.com/sub.yaml
  mihomoctl merge -s https://example.com/sub.yaml -s ./extra.yaml
  mihomoctl merge --use-last --stdout
  mihomoctl merge -s https://example.com/base64.txt --subscription-allow-base64
  mihomoctl merge -s https://example.com/sub.yaml --fake-ip-bypass '+.corp.example.com'
  mihomoctl merge --watch`,
	RunE: runMerge,
}

func init() {
	f := mergeCmd.Flags()
	f.StringVar(&mergeFlags.template, "template", "", "template YAML file (defaults to the auto-installed template)")
	f.StringVar(&mergeFlags.baseConfig, "base-config", "", "base config whose ports/rules/groups override the merge result")
	f.StringVar(&mergeFlags.subscriptionsFile, "subscriptions-file", "", "subscriptions YAML list (defaults to the stored list)")
	f.StringArrayVarP(&mergeFlags.subscriptions, "subscription", "s", nil, "additional subscription source, URL or file path (repeatable)")
	f.StringVar(&mergeFlags.output, "output", "", "output config path (defaults to the managed output file)")
	f.BoolVar(&mergeFlags.stdout, "stdout", false, "write the merged config to stdout instead of a file")
	f.BoolVar(&mergeFlags.dryRun, "dry-run", false, "print a summary of the merged result without writing")
	f.BoolVar(&mergeFlags.useLast, "use-last", false, "reuse the cached last subscription URL when no source is given")
	f.BoolVar(&mergeFlags.watch, "watch", false, "keep running and re-merge when watched config files change")

	f.StringVar(&mergeFlags.subscriptionUA, "subscription-ua", "", "User-Agent for subscription fetches (defaults to a clash-verge UA)")
	f.BoolVar(&mergeFlags.allowBase64, "subscription-allow-base64", false, "allow base64/share-link subscription payloads")

	f.BoolVar(&mergeFlags.devRules, "dev-rules", true, "prepend developer domain rules (disable with --dev-rules=false)")
	f.StringVar(&mergeFlags.devRulesVia, "dev-rules-via", rules.DefaultVia, "proxy group or node the dev rules route through")
	f.BoolVar(&mergeFlags.devRulesShow, "dev-rules-show", false, "print the generated dev rule list to stderr")

	f.StringVar(&mergeFlags.controllerHost, "external-controller-url", "", "host/IP for external-controller (e.g. 0.0.0.0)")
	f.Uint16Var(&mergeFlags.controllerPort, "external-controller-port", 0, "port for external-controller (e.g. 9090)")
	f.StringVar(&mergeFlags.controllerSecret, "external-controller-secret", "", "secret for the external controller API")

	f.StringArrayVar(&mergeFlags.fakeIPBypass, "fake-ip-bypass", nil, "bypass fake-ip for a domain pattern, forces blacklist mode (repeatable)")
	f.StringArrayVar(&mergeFlags.fakeIPFilterAdd, "fake-ip-filter-add", nil, "append an entry to dns.fake-ip-filter (repeatable)")
	f.StringVar(&mergeFlags.fakeIPFilterMode, "fake-ip-filter-mode", "", "set dns.fake-ip-filter-mode: blacklist|whitelist")
	f.StringArrayVar(&mergeFlags.k8sCIDRExclude, "k8s-cidr-exclude", nil, "extra CIDR for tun.route-exclude-address (repeatable)")

	f.StringVar(&mergeFlags.pushAPI, "push-api", "", "push the merged config to a running mihomo controller (base URL)")
	f.StringVar(&mergeFlags.pushSecret, "push-secret", "", "bearer secret for --push-api")
}

func runMerge(cmd *cobra.Command, _ []string) error {
	if mergeFlags.stdout && mergeFlags.output != "" {
		return errors.New("use --stdout or --output, not both")
	}

	paths, err := storage.NewAppPaths()
	if err != nil {
		return err
	}
	if err := paths.EnsureRuntimeDirs(); err != nil {
		return err
	}
	if err := resources.EnsureAll(cmd.Context(), paths, logger); err != nil {
		return err
	}
	installed, err := template.EnsureDefault(paths.DefaultTemplatePath())
	if err != nil {
		return err
	}
	if installed {
		logger.Info("installed default template",
			zap.String("path", paths.DefaultTemplatePath()))
	}

	if !mergeFlags.watch {
		return executeMerge(cmd, paths)
	}

	if mergeFlags.stdout || mergeFlags.dryRun {
		return errors.New("--watch cannot be combined with --stdout or --dry-run")
	}
	if err := executeMerge(cmd, paths); err != nil {
		logger.Error("merge failed", zap.Error(err))
	}
	return watchAndMerge(cmd, paths)
}

// executeMerge runs one full generation pass: load, compose, emit,
// persist. It re-reads the app config and subscription list each call
// so watch mode picks up edits.
func executeMerge(cmd *cobra.Command, paths *storage.AppPaths) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	appCfg, err := storage.LoadAppConfig(paths)
	if err != nil {
		return err
	}

	templatePath := paths.DefaultTemplatePath()
	if mergeFlags.template != "" {
		templatePath = paths.ResolveTemplatePath(mergeFlags.template)
	}
	tpl, err := template.Load(templatePath)
	if err != nil {
		return fmt.Errorf("load template %s: %w", templatePath, err)
	}

	var base *model.Document
	basePath := ""
	if mergeFlags.baseConfig != "" {
		basePath = paths.ResolveBaseConfigPath(mergeFlags.baseConfig)
	} else if p, ok := paths.DefaultBaseConfigPath(); ok {
		basePath = p
	}
	if basePath != "" {
		base, err = template.Load(basePath)
		if err != nil {
			return fmt.Errorf("load base config %s: %w", basePath, err)
		}
	}

	var list *storage.SubscriptionList
	if mergeFlags.subscriptionsFile != "" {
		list, err = storage.LoadSubscriptionListFile(mergeFlags.subscriptionsFile)
	} else {
		list, err = storage.LoadSubscriptionList(paths)
	}
	if err != nil {
		return err
	}

	loader := &pipeline.Loader{
		Paths:       paths,
		UserAgent:   mergeFlags.subscriptionUA,
		AllowBase64: mergeFlags.allowBase64,
		Log:         logger,
	}

	sources := make([]*storage.Subscription, 0, len(list.Items)+len(mergeFlags.subscriptions))
	for i := range list.Items {
		sources = append(sources, &list.Items[i])
	}
	for i, input := range mergeFlags.subscriptions {
		sources = append(sources, subscriptionFromInput(i, input))
	}

	docs, err := loader.Load(ctx, sources)
	if err != nil {
		return err
	}

	usedURL := ""
	for _, s := range sources {
		if s.URL != "" {
			usedURL = s.URL
		}
	}

	if len(docs) == 0 && len(mergeFlags.subscriptions) == 0 && len(list.Items) == 0 {
		if !mergeFlags.useLast {
			return errors.New("no subscription provided. Pass -s/--subscription or use --use-last to reuse the cached last URL")
		}
		if appCfg.LastSubscriptionURL == "" {
			return errors.New("--use-last set but no cached last subscription URL found. Merge once with -s/--subscription first")
		}
		logger.Info("using cached last subscription URL",
			zap.String("url", appCfg.LastSubscriptionURL))
		s := subscriptionFromInput(0, appCfg.LastSubscriptionURL)
		doc, err := loader.LoadOne(ctx, s)
		if err != nil {
			return fmt.Errorf("load cached subscription %s: %w", appCfg.LastSubscriptionURL, err)
		}
		docs = append(docs, doc)
		usedURL = appCfg.LastSubscriptionURL
	}

	res := pipeline.Generate(tpl, base, docs, pipeline.Options{
		DevRules:     mergeFlags.devRules,
		DevRulesShow: mergeFlags.devRulesShow,
		DevRulesVia:  mergeFlags.devRulesVia,
		CustomRules:  appCfg.CustomRules,
		Controller: tweak.ControllerOverride{
			Host:   mergeFlags.controllerHost,
			Port:   int(mergeFlags.controllerPort),
			Secret: mergeFlags.controllerSecret,
		},
		FakeIPBypass:     mergeFlags.fakeIPBypass,
		FakeIPFilterAdd:  mergeFlags.fakeIPFilterAdd,
		FakeIPFilterMode: mergeFlags.fakeIPFilterMode,
		TunExcludes:      mergeFlags.k8sCIDRExclude,
	}, logger)

	if mergeFlags.dryRun {
		printMergeSummary(out, res, paths)
		printDevListing(cmd, res)
		return nil
	}

	payload, err := profile.Encode(res.Doc)
	if err != nil {
		return err
	}

	if mergeFlags.stdout {
		fmt.Fprint(out, string(payload))
	} else {
		outputPath := mergeFlags.output
		if outputPath == "" {
			outputPath = paths.OutputConfigPath()
		}
		writer := &deploy.File{Path: outputPath}
		if err := writer.Deploy(ctx, payload); err != nil {
			return fmt.Errorf("write merged config to %s: %w", outputPath, err)
		}
		fmt.Fprintf(out, "merged config written to %s\n", outputPath)
	}

	printDevListing(cmd, res)

	if mergeFlags.pushAPI != "" {
		pusher := &deploy.HTTP{BaseURL: mergeFlags.pushAPI, Secret: mergeFlags.pushSecret}
		if err := pusher.Deploy(ctx, payload); err != nil {
			return fmt.Errorf("push config to %s: %w", mergeFlags.pushAPI, err)
		}
		fmt.Fprintf(out, "config pushed to %s\n", mergeFlags.pushAPI)
	}

	if mergeFlags.subscriptionsFile != "" {
		err = storage.SaveSubscriptionListFile(mergeFlags.subscriptionsFile, list)
	} else {
		err = storage.SaveSubscriptionList(paths, list)
	}
	if err != nil {
		return err
	}

	if usedURL != "" {
		appCfg.LastSubscriptionURL = usedURL
		if err := storage.SaveAppConfig(paths, appCfg); err != nil {
			return err
		}
	}
	return nil
}

func printMergeSummary(out io.Writer, res *pipeline.Result, paths *storage.AppPaths) {
	doc := res.Doc

	dnsMode := "<none>"
	filterTotal := "<unknown>"
	if v, ok := doc.Extension.Get("dns"); ok {
		if m := v.Mapping(); m != nil {
			if s, ok := m.GetString("fake-ip-filter-mode"); ok {
				dnsMode = s
			}
			if seq, ok := m.Get("fake-ip-filter"); ok && seq.Kind() == model.KindSequence {
				filterTotal = strconv.Itoa(len(seq.Items()))
			}
		}
	}

	controller := "<unset>"
	if s, ok := doc.Extension.GetString("external-controller"); ok {
		controller = s
	}
	secret := "unset"
	if _, ok := doc.Extension.GetString("secret"); ok {
		secret = "set"
	}

	via := res.DevVia
	if via == "" {
		via = "<n/a>"
	}

	outputPath := mergeFlags.output
	if outputPath == "" {
		outputPath = paths.OutputConfigPath()
	}

	fmt.Fprintln(out, "dry-run summary:")
	fmt.Fprintf(out, "- proxies: %d, groups: %d, rules: %d\n",
		len(res.ProxyNames), len(doc.GroupNames()), len(doc.Rules))
	fmt.Fprintf(out, "- fake-ip: mode=%s, filter+=%d (requested), total=%s\n",
		dnsMode, len(mergeFlags.fakeIPBypass), filterTotal)
	fmt.Fprintf(out, "- dev-rules: enabled=%v, via=%s, added=%d\n",
		mergeFlags.devRules, via, res.DevAdded)
	fmt.Fprintf(out, "- external-controller: %s, secret=%s\n", controller, secret)
	fmt.Fprintf(out, "- output: would write to %s (suppressed by --dry-run)\n", outputPath)
}

func printDevListing(cmd *cobra.Command, res *pipeline.Result) {
	if !mergeFlags.devRulesShow {
		return
	}
	for _, rule := range res.DevListing {
		fmt.Fprintf(cmd.ErrOrStderr(), "dev-rule: %s\n", rule)
	}
}

func subscriptionFromInput(index int, input string) *storage.Subscription {
	s := &storage.Subscription{
		Name:    fmt.Sprintf("cli-%d", index),
		Kind:    storage.KindClash,
		Enabled: true,
	}
	if isURL(input) {
		s.URL = input
		if u, err := url.Parse(input); err == nil && u.Host != "" {
			s.Name = u.Host
		}
	} else {
		s.Path = input
		base := filepath.Base(input)
		if stem := strings.TrimSuffix(base, filepath.Ext(base)); stem != "" && stem != "." {
			s.Name = stem
		}
	}
	s.EnsureID()
	return s
}

func isURL(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}

// watchDebounce batches rapid editor save events into one re-merge.
const watchDebounce = 500 * time.Millisecond

func watchAndMerge(cmd *cobra.Command, paths *storage.AppPaths) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Close()

	dirs := watchDirs(paths)
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			logger.Warn("cannot watch directory",
				zap.String("dir", dir), zap.Error(err))
		}
	}

	skip := mergeFlags.output
	if skip == "" {
		skip = paths.OutputConfigPath()
	}

	logger.Info("watching for changes", zap.Strings("dirs", dirs))

	ctx := cmd.Context()
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timerC:
			timerC = nil
			logger.Info("change detected, re-running merge")
			if err := executeMerge(cmd, paths); err != nil {
				logger.Error("merge failed", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !shouldRemerge(evt, skip) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(watchDebounce)
			timerC = timer.C
		}
	}
}

// watchDirs collects every directory whose files feed the merge:
// the config and templates dirs plus the parents of any explicitly
// named inputs. Missing directories are skipped.
func watchDirs(paths *storage.AppPaths) []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		if dir == "" || seen[dir] {
			return
		}
		if _, err := os.Stat(dir); err != nil {
			return
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}

	add(paths.ConfigDir())
	add(paths.TemplatesDir())
	if mergeFlags.template != "" {
		add(filepath.Dir(paths.ResolveTemplatePath(mergeFlags.template)))
	}
	if mergeFlags.baseConfig != "" {
		add(filepath.Dir(paths.ResolveBaseConfigPath(mergeFlags.baseConfig)))
	}
	if mergeFlags.subscriptionsFile != "" {
		add(filepath.Dir(mergeFlags.subscriptionsFile))
	}
	for _, input := range mergeFlags.subscriptions {
		if !isURL(input) {
			add(filepath.Dir(input))
		}
	}
	return dirs
}

func shouldRemerge(evt fsnotify.Event, skip string) bool {
	if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if skip != "" && evt.Name == skip {
		return false
	}
	base := filepath.Base(evt.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch filepath.Ext(base) {
	case ".yaml", ".yml", ".txt":
		return true
	}
	return false
}
