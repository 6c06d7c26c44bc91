package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind    string
	dataDir string
	port    int
	prefix  string
	profile bool
	tlsCert string
	tlsKey  string
	verbose bool
	version bool

	// game tuning
	lobbyCapacity  int
	countdown      time.Duration
	phases         int
	phaseLength    time.Duration
	graceWindow    time.Duration
	sessionTimeout time.Duration
	entryFee       string
	houseCut       string
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.lobbyCapacity < 2 {
		return fmt.Errorf("invalid lobby capacity (must be at least 2): %d", c.lobbyCapacity)
	}
	if c.phases < 1 {
		return fmt.Errorf("invalid phase count (must be at least 1): %d", c.phases)
	}
	if c.phaseLength <= 0 {
		return fmt.Errorf("invalid phase length: %s", c.phaseLength)
	}
	fee, err := decimal.NewFromString(c.entryFee)
	if err != nil || fee.IsNegative() {
		return fmt.Errorf("invalid entry fee: %q", c.entryFee)
	}
	cut, err := decimal.NewFromString(c.houseCut)
	if err != nil || cut.IsNegative() || cut.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("invalid house cut (must be in [0,1)): %q", c.houseCut)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) entryFeeAmount() decimal.Decimal {
	fee, _ := decimal.NewFromString(c.entryFee)
	return fee
}

func (c *Config) houseCutRate() decimal.Decimal {
	cut, _ := decimal.NewFromString(c.houseCut)
	return cut
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MYSTERY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "mystery",
		Short:         "A progressive image reveal guessing game server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: MYSTERY_BIND)")
	fs.DurationVar(&cfg.countdown, "countdown", 5*time.Second, "lobby countdown before the first reveal phase (env: MYSTERY_COUNTDOWN)")
	fs.StringVar(&cfg.dataDir, "data-dir", "", "directory for uploaded images, in-memory if empty (env: MYSTERY_DATA_DIR)")
	fs.StringVar(&cfg.entryFee, "entry-fee", "10", "entry fee per player in competitive pot games (env: MYSTERY_ENTRY_FEE)")
	fs.DurationVar(&cfg.graceWindow, "grace-window", 30*time.Second, "time before disconnected players are removed (env: MYSTERY_GRACE_WINDOW)")
	fs.StringVar(&cfg.houseCut, "house-cut", "0", "fraction of the pot withheld from payouts (env: MYSTERY_HOUSE_CUT)")
	fs.IntVar(&cfg.lobbyCapacity, "lobby-capacity", 8, "maximum players per lobby (env: MYSTERY_LOBBY_CAPACITY)")
	fs.DurationVar(&cfg.phaseLength, "phase-length", 30*time.Second, "duration of each reveal phase (env: MYSTERY_PHASE_LENGTH)")
	fs.IntVar(&cfg.phases, "phases", 5, "number of reveal phases per game (env: MYSTERY_PHASES)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: MYSTERY_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: MYSTERY_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: MYSTERY_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle game sessions are destroyed (env: MYSTERY_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: MYSTERY_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: MYSTERY_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: MYSTERY_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: MYSTERY_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("mystery v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
