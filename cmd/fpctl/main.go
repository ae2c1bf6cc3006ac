// Command fpctl is the CLI front end for fpauthd (component 4.K): it drives
// the org.rust_fp.RustFp bus surface to enroll, match, and manage a single
// user's fingerprint templates, labeling and persisting them locally.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"fpauthd/internal/busclient"
	"fpauthd/internal/config"
	"fpauthd/internal/template"
)

const (
	exitSuccess   = 0
	exitUserError = 1
	exitSensorErr = 2
)

var (
	configFile string
	busName    string
	busPath    string
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fpctl: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fpctl",
		Short: "Manage fingerprint templates and run enroll/match operations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./fpauthd.yaml or /etc/fpauthd/fpauthd.yaml)")
	cmd.PersistentFlags().StringVar(&busName, "bus-name", "", "override the configured D-Bus name")
	cmd.PersistentFlags().StringVar(&busPath, "bus-path", "", "override the configured D-Bus object path")

	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newMatchCmd())
	cmd.AddCommand(newDownloadTemplateCmd())
	return cmd
}

// exitStatusError wraps an error with the process exit code fpctl should
// report for it, so main can distinguish user mistakes (1) from sensor or
// transport failures (2) without string-matching error text.
type exitStatusError struct {
	code int
	err  error
}

func (e *exitStatusError) Error() string { return e.err.Error() }
func (e *exitStatusError) Unwrap() error { return e.err }

func userErr(err error) error  { return &exitStatusError{code: exitUserError, err: err} }
func sensorErr(err error) error { return &exitStatusError{code: exitSensorErr, err: err} }

func exitCodeFor(err error) int {
	var se *exitStatusError
	if errors.As(err, &se) {
		return se.code
	}
	return exitSensorErr
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, sensorErr(fmt.Errorf("load config: %w", err))
	}
	if busName != "" {
		cfg.BusName = busName
	}
	if busPath != "" {
		cfg.BusPath = busPath
	}
	return cfg, nil
}

func dial(cfg *config.Config) (*busclient.Client, error) {
	c, err := busclient.Dial(cfg.BusName, cfg.BusPath)
	if err != nil {
		return nil, sensorErr(fmt.Errorf("connect to fpauthd: %w", err))
	}
	return c, nil
}

func openLocalStore(cfg *config.Config) (*template.Store, error) {
	u, err := user.Current()
	if err != nil {
		return nil, sensorErr(fmt.Errorf("resolve home directory: %w", err))
	}
	dir := cfg.TemplateStoreDir(u.HomeDir)
	store, err := template.Open(filepath.Join(dir, config.TemplateFileName))
	if err != nil {
		return nil, sensorErr(fmt.Errorf("open template store: %w", err))
	}
	return store, nil
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print sensor capacity and enrolled template count",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := dial(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			max, err := client.GetMaxTemplates(ctx)
			if err != nil {
				return sensorErr(fmt.Errorf("get_max_templates: %w", err))
			}

			store, err := openLocalStore(cfg)
			if err != nil {
				return err
			}

			fmt.Printf("sensor template capacity: %d\n", max)
			fmt.Printf("locally enrolled templates: %d\n", store.Count())
			return nil
		},
	}
}

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <label>",
		Short: "Enroll a new fingerprint under label",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label := args[0]
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openLocalStore(cfg)
			if err != nil {
				return err
			}
			if _, exists := store.Get(label); exists {
				return userErr(fmt.Errorf("label %q already exists", label))
			}

			client, err := dial(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx := context.Background()
			fmt.Println("place finger on the sensor to enroll")

			var id uint32
			for {
				reply, err := client.EnrollStep(ctx, id)
				if err != nil {
					return sensorErr(fmt.Errorf("enroll_step: %w", err))
				}
				id = reply.ID

				switch {
				case reply.LowQuality:
					fmt.Println("image quality too low, try again")
				case reply.GenericErr:
					return sensorErr(fmt.Errorf("enroll failed"))
				case reply.Complete:
					if err := store.Add(label, reply.Template); err != nil {
						return userErr(fmt.Errorf("save template: %w", err))
					}
					fmt.Printf("enrolled %q\n", label)
					return nil
				case reply.InProgress:
					fmt.Printf("progress: %d%%\n", reply.Percent)
				}
			}
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List enrolled template labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openLocalStore(cfg)
			if err != nil {
				return err
			}
			for _, label := range store.Labels() {
				fmt.Println(label)
			}
			return nil
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <label>",
		Short: "Remove an enrolled template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openLocalStore(cfg)
			if err != nil {
				return err
			}
			if err := store.Remove(args[0]); err != nil {
				if errors.Is(err, template.ErrLabelNotFound) {
					return userErr(err)
				}
				return sensorErr(err)
			}
			fmt.Printf("removed %q\n", args[0])
			return nil
		},
	}
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every enrolled template",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openLocalStore(cfg)
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return sensorErr(err)
			}
			fmt.Println("cleared all templates")
			return nil
		},
	}
}

func newMatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match",
		Short: "Scan a finger and report which label matches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openLocalStore(cfg)
			if err != nil {
				return err
			}
			labels, templates := store.All()
			if len(labels) == 0 {
				return userErr(fmt.Errorf("no templates enrolled"))
			}

			client, err := dial(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx := context.Background()
			max, err := client.GetMaxTemplates(ctx)
			if err != nil {
				return sensorErr(fmt.Errorf("get_max_templates: %w", err))
			}
			if uint64(len(templates)) > max {
				return userErr(fmt.Errorf("%d enrolled templates exceeds sensor capacity %d", len(templates), max))
			}

			fmt.Println("place finger on the sensor to match")
			opID, err := client.MatchFinger(ctx, templates)
			if err != nil {
				return sensorErr(fmt.Errorf("match_finger: %w", err))
			}
			defer client.ClearOperationResult(context.Background(), opID)

			if err := client.WaitForOperationStart(ctx, opID); err != nil {
				return sensorErr(fmt.Errorf("wait_for_operation_start: %w", err))
			}

			decided, matched, index, err := client.GetMatchResult(ctx, opID, true)
			if err != nil {
				return sensorErr(fmt.Errorf("get_match_result: %w", err))
			}
			if !decided || !matched {
				fmt.Println("no match")
				return nil
			}
			if int(index) >= len(labels) {
				return sensorErr(fmt.Errorf("matched index %d out of range", index))
			}
			fmt.Printf("matched: %s\n", labels[index])
			return nil
		},
	}
}

func newDownloadTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download-template <label>",
		Short: "Print a label's raw template bytes as hex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openLocalStore(cfg)
			if err != nil {
				return err
			}
			tmpl, ok := store.Get(args[0])
			if !ok {
				return userErr(fmt.Errorf("label %q not found", args[0]))
			}
			fmt.Println(hex.EncodeToString(tmpl))
			return nil
		},
	}
}
