// Command octavia inspects and edits an octaviadb database from the command
// line.
//
// Settings come from an optional YAML file given with -config, overridden by
// flags. The password is read from -password or OCTAVIA_PASSWORD.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/maruel/octaviadb"
	"github.com/maruel/octaviadb/internal/config"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "octavia: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	configPath := flag.String("config", "", "YAML configuration file")
	dataDir := flag.String("data-dir", "./data", "Database directory")
	password := flag.String("password", "", "Database password (defaults to $OCTAVIA_PASSWORD)")
	plain := flag.Bool("plain", false, "Open entities unencrypted")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	format := flag.String("format", "json", "Output format (json, yaml)")
	autoCommit := flag.Duration("auto-commit", 10*time.Second, "Background commit interval, 0 to disable")
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	// Flags given explicitly win over the configuration file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data-dir":
			cfg.DataDir = *dataDir
		case "plain":
			cfg.Plain = *plain
		case "log-level":
			cfg.LogLevel = *logLevel
		case "format":
			cfg.Format = *format
		case "auto-commit":
			cfg.AutoCommit = *autoCommit
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	switch cfg.LogLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	}

	pw := *password
	if pw == "" {
		pw = os.Getenv("OCTAVIA_PASSWORD")
	}
	db, err := octaviadb.Open(cfg.DataDir, pw, octaviadb.WithAutoCommit(cfg.AutoCommit), octaviadb.WithLogger(logger))
	if err != nil {
		return err
	}
	err = run(ctx, &app{db: db, cfg: cfg, out: os.Stdout, log: logger}, args)
	if err2 := db.Close(); err == nil {
		err = err2
	}
	return err
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: octavia [flags] <command> [args]

Commands:
  info                                  database directory summary
  ls                                    list entities
  dump <entity>                         print a collection or document
  insert <collection> <json>            insert an object or an array of objects
  find <collection> [query]             print matching records
  update <collection> <query> <patch>   deep merge patch into matching records
  remove <collection> <query>           remove matching records
  get <document> [key]                  print a value, or the whole document
  set <document> <key> <json>           store a value
  stat <entity>                         print entity metadata
  config                                print the effective configuration
  watch                                 report changes to entity files

Flags:
`)
	flag.PrintDefaults()
}
