// Command ircd runs the IRC server core against a YAML configuration
// file, rebuilding its listener on SIGHUP without dropping existing
// connections.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/horgh/ircd/internal/ircd"
)

func main() {
	log.SetFlags(0)

	confPath := flag.String("conf", "", "Path to configuration file (required)")
	serverNameOverride := flag.String("server-name", "", "Override the configured server name")
	flag.Parse()

	if *confPath == "" {
		printUsage()
		os.Exit(1)
	}

	cfg, err := ircd.LoadConfig(*confPath)
	if err != nil {
		log.Fatalf("ircd: loading config: %s", err)
	}
	if *serverNameOverride != "" {
		cfg.ServerName = *serverNameOverride
	}

	srv := ircd.NewServer(cfg)
	if err := srv.Listen(); err != nil {
		log.Fatalf("ircd: %s", err)
	}

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Printf("ircd: reloading configuration from %s", *confPath)
			if err := srv.Reload(*confPath); err != nil {
				log.Printf("ircd: reload failed: %s", err)
			}
		}
	}()

	log.Printf("ircd: listening on %s:%d", cfg.Address, cfg.Port)
	if err := srv.Serve(); err != nil {
		log.Fatalf("ircd: %s", err)
	}
}

func printUsage() {
	log.Printf("Usage: %s -conf <path> [-server-name <name>]", os.Args[0])
	flag.PrintDefaults()
}
