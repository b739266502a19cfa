package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"tokscraper/pkg/config"
	"tokscraper/pkg/logger"
)

var (
	// Version information
	version   = "0.3.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	devtoolsURL   string
	headless      bool
	noDirect      bool
	proxy         string
	manualCaptcha bool
	logCaptcha    bool
	requestDelay  time.Duration
	maxRetries    int
	bestEffort    bool
	outputDir     string
	resume        bool

	// cfg is loaded once per invocation by the root pre-run hook
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tokscraper",
	Short: "Fetch public TikTok profiles, videos, comments and hashtags",
	Long: `tokscraper fetches public TikTok data as JSON lines.

Every fetch first tries a direct signed request. When that is refused or
rate limited it drives a real browser, harvests the platform's own API
responses from its network traffic and solves slider or rotation
challenges on the way.

  - One JSON object per fetched page on stdout
  - Optional copy of every page under the output directory
  - Resumable listings with --resume
  - Cookies persisted between runs in the system keychain`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configFile, changedFlags(cmd))
		if err != nil {
			return err
		}
		cfg = loaded
		if err := logger.Initialize(&cfg.Logging); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// changedFlags passes only explicitly set flags to the config layer so that
// file and environment values are not clobbered by flag defaults
func changedFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := func(name string, v interface{}) {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			flags[name] = v
		}
	}
	set("devtools-url", devtoolsURL)
	set("headless", headless)
	set("no-direct", noDirect)
	set("proxy", proxy)
	set("manual-captcha", manualCaptcha)
	set("log-captcha", logCaptcha)
	set("request-delay", requestDelay)
	set("max-retries", maxRetries)
	set("best-effort", bestEffort)
	set("output", outputDir)
	set("resume", resume)
	set("log-level", logLevel)
	return flags
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "config file (default is $HOME/.tokscraper.yaml)")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&devtoolsURL, "devtools-url", "", "attach to a running browser instead of launching one")
	pf.BoolVar(&headless, "headless", true, "run the launched browser headless")
	pf.BoolVar(&noDirect, "no-direct", false, "skip the direct request path and always use the browser")
	pf.StringVar(&proxy, "proxy", "", "proxy URL for direct requests")
	pf.BoolVar(&manualCaptcha, "manual-captcha", false, "wait for a human to solve challenges")
	pf.BoolVar(&logCaptcha, "log-captcha", false, "record every challenge attempt in the solve log")
	pf.DurationVar(&requestDelay, "request-delay", 0, "minimum delay between requests (e.g. 3s)")
	pf.IntVar(&maxRetries, "max-retries", 0, "browser attempts per fetch")
	pf.BoolVar(&bestEffort, "best-effort", false, "keep going after a failed page or request")
	pf.StringVarP(&outputDir, "output", "o", "", "directory for page records and videos")
	pf.BoolVar(&resume, "resume", false, "resume listings from their last checkpoint")

	// Version template
	rootCmd.SetVersionTemplate(`tokscraper {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
