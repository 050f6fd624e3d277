package main

import (
	"context"
	"flag"
	"os"

	"cachenet/commands"
	"cachenet/config"

	log "github.com/sirupsen/logrus"
)

func setLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(l)
}

func registerGlobalFlags(fset *flag.FlagSet) {
	flag.VisitAll(func(f *flag.Flag) {
		fset.Var(f.Value, f.Name, f.Usage)
	})
}

func checkConfig(cfg string) {
	if cfg == "" {
		log.Fatal("Config file not specified")
	}
}

func loadConfig(path string) *config.Config {
	cfg, err := config.NewConfigFromFile(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// main is the entry point of the application.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configFile := flag.String("config", "", "Path to config file")
	logLevel := flag.String("loglevel", "info", "Log level")

	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	registerGlobalFlags(initCmd)

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	registerGlobalFlags(serveCmd)

	uploadCmd := flag.NewFlagSet("upload", flag.ExitOnError)
	uploadFile := uploadCmd.String("file", "", "Path of the file to upload")
	registerGlobalFlags(uploadCmd)

	fetchCmd := flag.NewFlagSet("fetch", flag.ExitOnError)
	fetchHash := fetchCmd.String("hash", "", "Fingerprint of the file to fetch")
	fetchOut := fetchCmd.String("out", "", "Path to write the fetched file to")
	registerGlobalFlags(fetchCmd)

	infoCmd := flag.NewFlagSet("info", flag.ExitOnError)
	registerGlobalFlags(infoCmd)

	if len(os.Args) < 2 {
		log.WithField("args", os.Args).Fatal("Expected a subcommand")
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "init":
		initCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		cfg := config.NewEmptyConfig(*configFile)
		commands.RunInit(ctx, cfg)
	case "serve":
		serveCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunServe(ctx, loadConfig(*configFile))
	case "upload":
		uploadCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		if *uploadFile == "" {
			log.Fatal("upload: -file is required")
		}
		commands.RunUpload(ctx, loadConfig(*configFile), *uploadFile)
	case "fetch":
		fetchCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		if *fetchHash == "" || *fetchOut == "" {
			log.Fatal("fetch: -hash and -out are required")
		}
		commands.RunFetch(ctx, loadConfig(*configFile), *fetchHash, *fetchOut)
	case "info":
		infoCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunInfo(ctx, loadConfig(*configFile))
	default:
		log.Fatalf("Invalid subcommand '%s'", os.Args[1])
	}
}
