// Package cli 提供 negotiator 命令行：serve / simulate / table / runs / config。
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"negotiator/internal/app"
	nccfg "negotiator/internal/config"
	"negotiator/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type rootOptions struct {
	configPath string
	envFile    string
	cfg        *nccfg.Config
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "negotiator",
		Short: "Negotiation agent decision core",
		Long: `negotiator serves offer/response decisions for bilateral supply-chain negotiations
over HTTP and collects self-play history for the predictive strategies.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts.cfg, "")
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Configuration file path (default $"+nccfg.EnvConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Environment file loaded before the configuration")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newSimulateCmd(opts))
	rootCmd.AddCommand(newTableCmd(opts))
	rootCmd.AddCommand(newRunsCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	return rootCmd
}

func (o *rootOptions) load() error {
	if f := strings.TrimSpace(o.envFile); f != "" {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	path := nccfg.ResolvePath(o.configPath)
	cfg, err := nccfg.LoadOrDefault(path)
	if err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}
	if path == "" {
		logger.Debugf("no config file given, using defaults")
	}
	o.cfg = cfg
	return nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the negotiation HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts.cfg, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Override app.http_addr")
	return cmd
}

func runServe(ctx context.Context, cfg *nccfg.Config, addr string) error {
	if addr = strings.TrimSpace(addr); addr != "" {
		cfg.App.HTTPAddr = addr
	}
	ctx, stop := signalContext(ctx)
	defer stop()
	a, err := app.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("初始化应用失败: %w", err)
	}
	return a.Run(ctx)
}

func newSimulateCmd(opts *rootOptions) *cobra.Command {
	var (
		markets, rounds int
		seed            int64
		out             string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run self-play markets and record negotiation history",
		Long: `Run self-play markets with the configured strategy. Every datapoint is appended
to the history store and, with --out, exported as CSV (.gz and .zst compress).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			flags := cmd.Flags()
			if flags.Changed("markets") {
				cfg.Simulation.Markets = markets
			}
			if flags.Changed("rounds") {
				cfg.Simulation.Rounds = rounds
			}
			if flags.Changed("seed") {
				cfg.Simulation.Seed = seed
			}
			if flags.Changed("out") {
				cfg.Simulation.OutputCSV = out
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			report, err := app.RunSimulation(ctx, cfg)
			if err != nil {
				DisplayError(cmd.ErrOrStderr(), err)
				return err
			}
			DisplaySimulation(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().IntVar(&markets, "markets", 0, "Override simulation.markets")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "Override simulation.rounds")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Override simulation.seed")
	cmd.Flags().StringVar(&out, "out", "", "Override simulation.output_csv")
	return cmd
}

func newTableCmd(opts *rootOptions) *cobra.Command {
	tableCmd := &cobra.Command{
		Use:   "table",
		Short: "Forecast table tools",
	}
	var (
		top          int
		source       string
		path         string
		partnerLevel bool
	)
	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Build the forecast table and show its most observed states",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if source != "" {
				cfg.Forecast.Source = strings.ToLower(strings.TrimSpace(source))
			}
			if path != "" {
				cfg.Forecast.Path = path
				if source == "" {
					cfg.Forecast.Source = nccfg.ForecastSourceFile
				}
			}
			if cmd.Flags().Changed("partner-level") {
				cfg.Forecast.PartnerLevel = partnerLevel
			}
			table, err := app.LoadTable(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			DisplayTable(cmd.OutOrStdout(), table, top)
			return nil
		},
	}
	inspect.Flags().IntVar(&top, "top", 15, "Number of state keys to show")
	inspect.Flags().StringVar(&source, "source", "", "Override forecast.source (file or store)")
	inspect.Flags().StringVar(&path, "path", "", "CSV file to read (implies --source=file)")
	inspect.Flags().BoolVar(&partnerLevel, "partner-level", false, "The CSV level column holds the partner's role")
	tableCmd.AddCommand(inspect)
	return tableCmd
}

func newRunsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded data-collection runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := app.ListRuns(cmd.Context(), opts.cfg, limit)
			if err != nil {
				return err
			}
			DisplayRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (defaults applied)",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := yaml.Marshal(settingsMap(reflect.ValueOf(*opts.cfg)))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Run: func(cmd *cobra.Command, args []string) {
			DisplaySuccess(cmd.OutOrStdout(), "configuration OK")
		},
	})
	return configCmd
}

// settingsMap 按 toml 标签把配置结构展开成嵌套 map，与配置文件的键一致。
func settingsMap(v reflect.Value) any {
	if v.Kind() != reflect.Struct {
		return v.Interface()
	}
	out := make(map[string]any, v.NumField())
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key := strings.Split(f.Tag.Get("toml"), ",")[0]
		if key == "" || key == "-" {
			key = strings.ToLower(f.Name)
		}
		out[key] = settingsMap(v.Field(i))
	}
	return out
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
