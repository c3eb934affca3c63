package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tobsdb/recstore/internal/conn"
	"github.com/tobsdb/recstore/internal/storage"
	"github.com/tobsdb/recstore/pkg"
	"golang.org/x/sync/errgroup"
)

var (
	root        string
	keepBackups int
	compress    bool
	cacheSize   int
	logOptions  pkg.LogOptions
)

var rootCmd = &cobra.Command{
	Use:          "recstore",
	Short:        "File backed JSON record store",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		pkg.SetLogLevel(logOptions.Level())
	},
}

func openEngine() (*storage.Engine, error) {
	settings := storage.NewSettings(root)
	settings.BackupRetention = keepBackups
	settings.CompressBackups = compress
	settings.CacheSize = cacheSize
	return storage.New(settings, pkg.DefaultLogger)
}

// withEngine opens the engine for the duration of fn.
func withEngine(fn func(cmd *cobra.Command, e *storage.Engine, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(cmd, e, args)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve request actions over websocket and optionally tcp",
	RunE: withEngine(func(cmd *cobra.Command, e *storage.Engine, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		tcpPort, _ := cmd.Flags().GetInt("tcp")
		rateLimit, _ := cmd.Flags().GetFloat64("rate")
		burst, _ := cmd.Flags().GetInt("burst")
		indexes, _ := cmd.Flags().GetStringSlice("index")

		s := conn.NewServer(e, conn.Options{RateLimit: rateLimit, Burst: burst})
		for _, entry := range indexes {
			table, field, ok := strings.Cut(entry, ":")
			if !ok || table == "" || field == "" {
				return fmt.Errorf("invalid index %q, expected table:field", entry)
			}
			s.AddIndexes(table, field)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return s.Listen(ctx, port) })
		if tcpPort > 0 {
			g.Go(func() error { return s.ListenTCP(ctx, tcpPort) })
		}
		return g.Wait()
	}),
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List tables",
	RunE: withEngine(func(cmd *cobra.Command, e *storage.Engine, args []string) error {
		tables, err := e.ListTables()
		if err != nil {
			return err
		}
		for _, t := range tables {
			fmt.Println(t)
		}
		return nil
	}),
}

var infoCmd = &cobra.Command{
	Use:   "info <table>",
	Short: "Show record count, size and modification time of a table",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(cmd *cobra.Command, e *storage.Engine, args []string) error {
		info, err := e.TableInfo(args[0])
		if err != nil {
			return err
		}
		return printJSON(info)
	}),
}

var dropCmd = &cobra.Command{
	Use:   "drop <table>",
	Short: "Back up and delete a table",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(cmd *cobra.Command, e *storage.Engine, args []string) error {
		if err := e.Drop(args[0]); err != nil {
			return err
		}
		fmt.Printf("Dropped table %s\n", args[0])
		return nil
	}),
}

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Compact every table and prune old backups",
	RunE: withEngine(func(cmd *cobra.Command, e *storage.Engine, args []string) error {
		results, err := e.Vacuum(cmd.Context())
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%s: %d records, %d -> %d bytes\n", r.Table, r.Records, r.SizeBefore, r.SizeAfter)
		}
		return nil
	}),
}

var backupsCmd = &cobra.Command{
	Use:   "backups <table>",
	Short: "List backups of a table, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(cmd *cobra.Command, e *storage.Engine, args []string) error {
		backups, err := e.ListBackups(args[0])
		if err != nil {
			return err
		}
		for _, b := range backups {
			fmt.Printf("%s\t%s\t%d\n", b.Name, b.Created.Format("2006-01-02 15:04:05"), b.Size)
		}
		return nil
	}),
}

var restoreCmd = &cobra.Command{
	Use:   "restore <table> [backup]",
	Short: "Restore a table from a backup, the newest one by default",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withEngine(func(cmd *cobra.Command, e *storage.Engine, args []string) error {
		name := ""
		if len(args) == 2 {
			name = args[1]
		}
		if err := e.Restore(args[0], name); err != nil {
			return err
		}
		fmt.Printf("Restored table %s\n", args[0])
		return nil
	}),
}

var exportCmd = &cobra.Command{
	Use:   "export <table> <file>",
	Short: "Export a table to csv",
	Args:  cobra.ExactArgs(2),
	RunE: withEngine(func(cmd *cobra.Command, e *storage.Engine, args []string) error {
		if err := e.ExportCSV(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Exported %s to %s\n", args[0], args[1])
		return nil
	}),
}

var importCmd = &cobra.Command{
	Use:   "import <table> <file>",
	Short: "Append the rows of a csv file to a table",
	Args:  cobra.ExactArgs(2),
	RunE: withEngine(func(cmd *cobra.Command, e *storage.Engine, args []string) error {
		n, err := e.ImportCSV(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d records into %s\n", n, args[0])
		return nil
	}),
}

func init() {
	cwd, _ := os.Getwd()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&root, "root", cwd+"/db", "directory holding data, backups, indexes and logs")
	flags.IntVar(&keepBackups, "backups", storage.DefaultBackupRetention, "backups kept per table")
	flags.BoolVar(&compress, "compress", false, "zstd compress backups")
	flags.IntVar(&cacheSize, "cache", storage.DefaultCacheSize, "table snapshots kept in memory, 0 disables")
	flags.BoolVar(&logOptions.ShouldLog, "log", false, "print logs")
	flags.BoolVar(&logOptions.ShowDebugLogs, "debug", false, "print debug logs, requires --log")

	serveCmd.Flags().Int("port", 7085, "websocket listening port")
	serveCmd.Flags().Int("tcp", 0, "tcp listening port, 0 disables")
	serveCmd.Flags().Float64("rate", 0, "requests per second per connection, 0 means unlimited")
	serveCmd.Flags().Int("burst", 50, "request burst per connection")
	serveCmd.Flags().StringSlice("index", nil, "table:field to keep indexed, repeatable")

	rootCmd.AddCommand(serveCmd, tablesCmd, infoCmd, dropCmd, vacuumCmd,
		backupsCmd, restoreCmd, exportCmd, importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
