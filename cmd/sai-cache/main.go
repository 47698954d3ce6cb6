package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/saiset-co/sai-cache/config"
	"github.com/saiset-co/sai-cache/sai"
	"github.com/saiset-co/sai-cache/service"
	"github.com/saiset-co/sai-cache/strategy"
	"github.com/saiset-co/sai-cache/types"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "sai-cache",
		Usage: "Layered cache with persistent category stores",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration",
				Value:   "config.yaml",
				EnvVars: []string{"SAI_CACHE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the cache with autosave and the admin server until interrupted",
				Action: serve,
			},
			{
				Name:   "stats",
				Usage:  "Print engine, category and cumulative statistics",
				Action: withContainer(printStats),
			},
			{
				Name:   "export",
				Usage:  "Write every persisted key as an explicit export",
				Action: withContainer(exportAll),
			},
			{
				Name:  "cleanup",
				Usage: "Evict low priority entries until the cache fits the target size",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "target-size", Usage: "target size in bytes, cache.max_size when omitted"},
				},
				Action: withContainer(cleanup),
			},
			{
				Name:   "clear",
				Usage:  "Drop every cache entry and the persisted snapshot",
				Action: withContainer(clearCache),
			},
			{
				Name:  "config",
				Usage: "Inspect the resolved configuration, secrets masked",
				Subcommands: []*cli.Command{
					{
						Name:      "get",
						Usage:     "Print the value at a dotted path, the whole document when omitted",
						ArgsUsage: "[path]",
						Action:    describeConfig,
					},
					{
						Name:   "paths",
						Usage:  "List every configured leaf path",
						Action: listConfigPaths,
					},
				},
			},
			{
				Name:  "backups",
				Usage: "Manage backups of a persisted key",
				Subcommands: []*cli.Command{
					{
						Name:      "list",
						Usage:     "List backups, newest first",
						ArgsUsage: "<key>",
						Action:    withContainer(listBackups),
					},
					{
						Name:      "create",
						Usage:     "Back up the current record",
						ArgsUsage: "<key>",
						Action:    withContainer(createBackup),
					},
					{
						Name:      "restore",
						Usage:     "Replace the record with a backup",
						ArgsUsage: "<key>",
						Flags: []cli.Flag{
							&cli.TimestampFlag{
								Name:   "at",
								Usage:  "creation time of the backup, newest when omitted",
								Layout: time.RFC3339Nano,
							},
						},
						Action: withContainer(restoreBackup),
					},
				},
			},
		},
	}
}

type containerAction func(c *cli.Context, container *sai.Container) error

// withContainer loads persisted state into a container that is never
// started, runs action and releases the container.
func withContainer(action containerAction) cli.ActionFunc {
	return func(c *cli.Context) (err error) {
		configManager, err := config.NewConfigurationManager(c.Context, c.String("config"))
		if err != nil {
			return err
		}

		container, err := sai.New(c.Context, configManager)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, container.Destroy())
		}()

		if err := container.Load(c.Context); err != nil {
			return err
		}

		return action(c, container)
	}
}

func serve(c *cli.Context) error {
	svc, err := service.NewService(c.Context, c.String("config"))
	if err != nil {
		return err
	}
	return svc.Start()
}

func printStats(c *cli.Context, container *sai.Container) error {
	result, err := container.Stats(c.Context)
	if err != nil {
		return err
	}
	return printJSON(c, result)
}

func exportAll(c *cli.Context, container *sai.Container) error {
	if err := container.Export(c.Context); err != nil {
		return err
	}
	return printJSON(c, map[string]string{"status": "exported"})
}

func cleanup(c *cli.Context, container *sai.Container) error {
	target := c.Int64("target-size")
	if !c.IsSet("target-size") {
		if err := container.Config().GetAs("cache.max_size", &target); err != nil {
			return err
		}
		if target <= 0 {
			return types.Errorf(types.ErrInvalidParameter, "--target-size is required when cache.max_size is unbounded")
		}
	}

	result, err := container.Cleanup(strategy.CleanupOptions{TargetSize: target})
	if err != nil {
		return err
	}

	if err := container.Save(c.Context); err != nil {
		return err
	}
	return printJSON(c, result)
}

func clearCache(c *cli.Context, container *sai.Container) error {
	if err := container.Clear(c.Context); err != nil {
		return err
	}
	return printJSON(c, map[string]string{"status": "cleared"})
}

func describeConfig(c *cli.Context) error {
	if c.NArg() > 1 {
		return types.Errorf(types.ErrInvalidParameter, "expected at most one path")
	}

	configManager, err := config.NewConfigurationManager(c.Context, c.String("config"))
	if err != nil {
		return err
	}

	value, err := configManager.Describe(c.Args().First())
	if err != nil {
		return err
	}
	return printJSON(c, value)
}

func listConfigPaths(c *cli.Context) error {
	configManager, err := config.NewConfigurationManager(c.Context, c.String("config"))
	if err != nil {
		return err
	}

	for _, path := range configManager.Paths() {
		if _, err := fmt.Fprintln(c.App.Writer, path); err != nil {
			return err
		}
	}
	return nil
}

func listBackups(c *cli.Context, container *sai.Container) error {
	key, err := keyArg(c)
	if err != nil {
		return err
	}

	backups, err := container.ListBackups(c.Context, key)
	if err != nil {
		return err
	}
	return printJSON(c, backups)
}

func createBackup(c *cli.Context, container *sai.Container) error {
	key, err := keyArg(c)
	if err != nil {
		return err
	}

	info, err := container.CreateBackup(c.Context, key)
	if err != nil {
		return err
	}
	return printJSON(c, info)
}

func restoreBackup(c *cli.Context, container *sai.Container) error {
	key, err := keyArg(c)
	if err != nil {
		return err
	}

	if err := container.RestoreBackup(c.Context, key, c.Timestamp("at")); err != nil {
		return err
	}
	return printJSON(c, map[string]string{"status": "restored", "key": key})
}

func keyArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", types.Errorf(types.ErrInvalidParameter, "expected exactly one key argument")
	}
	return c.Args().First(), nil
}

func printJSON(c *cli.Context, value interface{}) error {
	data, err := sonic.ConfigDefault.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(c.App.Writer, string(data))
	return err
}
