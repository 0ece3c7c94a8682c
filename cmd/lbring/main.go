// Command lbring runs the consistent hashing load balancer.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"lbring/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	httpAddr := flag.String("http", "", "HTTP listen address (overrides config)")
	grpcAddr := flag.String("grpc", "", "gRPC health listen address (overrides config)")
	servers := flag.String("servers", "", "Comma-separated initial servers: Server-1,Server-2")
	vnodes := flag.Int("vnodes", 0, "Virtual nodes per server")
	slots := flag.Int("slots", 0, "Ring slots")
	rf := flag.Int("rf", 0, "Replication factor used to pick redistribution peers")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	var parseErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http":
			cfg.HTTP.Addr = *httpAddr
		case "grpc":
			cfg.GRPC.Addr = *grpcAddr
		case "servers":
			cfg.Servers, parseErr = config.ParseServers(*servers)
		case "vnodes":
			cfg.Ring.VNodes = *vnodes
		case "slots":
			cfg.Ring.Slots = *slots
		case "rf":
			cfg.Ring.Replication = *rf
		}
	})
	if parseErr != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse servers: %v\n", parseErr)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	fx.New(Options(cfg)).Run()
}
