package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orgloop/orgloop/pkg/client"
	"github.com/orgloop/orgloop/pkg/config"
	"github.com/orgloop/orgloop/pkg/connector"
	_ "github.com/orgloop/orgloop/pkg/connector/builtin"
	"github.com/orgloop/orgloop/pkg/health"
	"github.com/orgloop/orgloop/pkg/log"
	"github.com/orgloop/orgloop/pkg/runtime"
	"github.com/orgloop/orgloop/pkg/state"
	"github.com/orgloop/orgloop/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "orgloop",
	Short: "orgloop - Event routing runtime for autonomous actors",
	Long: `orgloop observes external systems (issue trackers, CI, webhooks),
normalizes what it sees into events, runs them through per-route transform
pipelines, and delivers them to actors such as HTTP endpoints and agent
wakers. One long-lived process supervises many independent modules.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"orgloop version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", state.DefaultDataDir(), "Runtime state directory")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(moduleCmd)
	rootCmd.AddCommand(injectCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	format := log.FormatConsole
	if logJSON {
		format = log.FormatJSON
	}
	log.Init(log.Config{Level: logLevel, Format: format})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the orgloop daemon",
	Long: `Start the runtime: bind the control listener, load the given module
bundles, replay any unacked journal entries, and poll until stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := rootCmd.PersistentFlags().GetString("data-dir")
		httpAddr, _ := cmd.Flags().GetString("http-addr")
		durable, _ := cmd.Flags().GetBool("durable-bus")
		modulePaths, _ := cmd.Flags().GetStringSlice("module")
		failureThreshold, _ := cmd.Flags().GetInt("failure-threshold")
		retryAfter, _ := cmd.Flags().GetDuration("retry-after")

		rt, err := runtime.New(runtime.Config{
			DataDir:    dataDir,
			HTTPAddr:   httpAddr,
			DurableBus: durable,
			Health: health.Config{
				FailureThreshold: failureThreshold,
				RetryAfter:       retryAfter,
			},
			Resolver: func(cfg types.ModuleConfig) (connector.Set, error) {
				return config.Resolve(cfg)
			},
		})
		if err != nil {
			return err
		}

		if err := rt.Start(); err != nil {
			return err
		}

		for _, path := range modulePaths {
			if _, err := rt.LoadModuleFromPath(path, nil); err != nil {
				rt.Stop()
				return fmt.Errorf("failed to load %s: %w", path, err)
			}
		}

		if _, err := rt.ReplayWAL(); err != nil {
			log.Logger.Error().Err(err).Msg("Journal replay failed")
		}

		fmt.Printf("orgloop started (pid %d, control port %d)\n", os.Getpid(), rt.Port())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			fmt.Printf("Received %s, shutting down...\n", sig)
		case <-rt.ShutdownRequested():
			fmt.Println("Shutdown requested via control API, shutting down...")
		}

		rt.Stop()
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show runtime status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := controlClient()
		if err != nil {
			return err
		}

		status, err := c.Status()
		if err != nil {
			return err
		}

		fmt.Printf("PID:     %d\n", status.PID)
		fmt.Printf("Uptime:  %s\n", (time.Duration(status.UptimeMS) * time.Millisecond).Round(time.Second))
		fmt.Printf("Port:    %d\n", status.HTTPPort)
		fmt.Printf("Modules: %d\n", len(status.Modules))
		for _, m := range status.Modules {
			fmt.Printf("  %s (%s, %d routes)\n", m.Name, m.State, len(m.Routes))
			for id, h := range m.Sources {
				line := fmt.Sprintf("    source %s: %s", id, h.Status)
				if h.ConsecutiveErrors > 0 {
					line += fmt.Sprintf(" (%d consecutive errors: %s)", h.ConsecutiveErrors, h.LastError)
				}
				if h.CircuitOpen && h.CircuitRetryDeadline != nil {
					line += fmt.Sprintf(" [circuit open, probe at %s]", h.CircuitRetryDeadline.Format(time.RFC3339))
				}
				fmt.Println(line)
			}
		}
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running daemon gracefully",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := controlClient()
		if err != nil {
			return err
		}
		if err := c.Shutdown(); err != nil {
			return err
		}
		fmt.Println("Shutdown initiated")
		return nil
	},
}

var moduleCmd = &cobra.Command{
	Use:   "module",
	Short: "Manage loaded modules",
}

var moduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded modules",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := controlClient()
		if err != nil {
			return err
		}
		modules, err := c.ListModules()
		if err != nil {
			return err
		}
		if len(modules) == 0 {
			fmt.Println("No modules loaded")
			return nil
		}
		for _, m := range modules {
			fmt.Printf("%s\t%s\tloaded %s\n", m.Name, m.State, m.LoadedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var moduleLoadCmd = &cobra.Command{
	Use:   "load <bundle.yaml>",
	Short: "Load a module bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := controlClient()
		if err != nil {
			return err
		}

		name, _ := cmd.Flags().GetString("name")
		params := map[string]any{}
		if name != "" {
			params["name"] = name
		}

		status, err := c.LoadModule(args[0], params)
		if err != nil {
			return err
		}
		fmt.Printf("Module %s loaded (%d routes)\n", status.Name, len(status.Routes))
		return nil
	},
}

var moduleUnloadCmd = &cobra.Command{
	Use:   "unload <name>",
	Short: "Unload a module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := controlClient()
		if err != nil {
			return err
		}
		if err := c.UnloadModule(args[0]); err != nil {
			return err
		}
		fmt.Printf("Module %s unloaded\n", args[0])
		return nil
	},
}

var moduleReloadCmd = &cobra.Command{
	Use:   "reload <name>",
	Short: "Reload a module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := controlClient()
		if err != nil {
			return err
		}
		status, err := c.ReloadModule(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Module %s reloaded\n", status.Name)
		return nil
	},
}

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Inject an event into a loaded module",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := controlClient()
		if err != nil {
			return err
		}

		moduleName, _ := cmd.Flags().GetString("module")
		source, _ := cmd.Flags().GetString("source")
		eventType, _ := cmd.Flags().GetString("type")
		payloadJSON, _ := cmd.Flags().GetString("payload")

		if moduleName == "" || source == "" {
			return fmt.Errorf("--module and --source are required")
		}

		event := types.NewEvent(source, types.EventType(eventType))
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
				return fmt.Errorf("invalid payload JSON: %w", err)
			}
		}

		if err := c.Inject(moduleName, event); err != nil {
			return err
		}
		fmt.Printf("Injected %s\n", event.ID)
		return nil
	},
}

func init() {
	startCmd.Flags().String("http-addr", "127.0.0.1:7437", "Control listener address (empty disables HTTP)")
	startCmd.Flags().Bool("durable-bus", false, "Journal events to a write-ahead log for replay after a crash")
	startCmd.Flags().StringSlice("module", nil, "Module bundle(s) to load at start")
	startCmd.Flags().Int("failure-threshold", 5, "Consecutive poll errors before a source's circuit opens")
	startCmd.Flags().Duration("retry-after", 2*time.Minute, "How long an open circuit waits before probing")

	moduleLoadCmd.Flags().String("name", "", "Override the bundle's module name")

	injectCmd.Flags().String("module", "", "Target module")
	injectCmd.Flags().String("source", "", "Source id the event claims")
	injectCmd.Flags().String("type", string(types.EventResourceChanged), "Event type")
	injectCmd.Flags().String("payload", "", "Payload as a JSON object")

	moduleCmd.AddCommand(moduleListCmd)
	moduleCmd.AddCommand(moduleLoadCmd)
	moduleCmd.AddCommand(moduleUnloadCmd)
	moduleCmd.AddCommand(moduleReloadCmd)
}

func controlClient() (*client.Client, error) {
	dataDir, _ := rootCmd.PersistentFlags().GetString("data-dir")
	return client.FromPortFile(dataDir)
}
