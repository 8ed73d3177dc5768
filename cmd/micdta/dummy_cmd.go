package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/litoral-labs/micdta/pkg/config"
	"github.com/litoral-labs/micdta/pkg/contracts"
	"github.com/litoral-labs/micdta/pkg/remote"
)

// runDummyCmd implements `micdta dummy`: send the authority's no-op
// connectivity probe through the configured environment.
func runDummyCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("dummy", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var environment string
	fs.StringVar(&environment, "env", "", "Authority environment (overrides MICDTA_ENV)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 2
	}
	if environment != "" {
		cfg.Environment = environment
	}

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		fmt.Fprintf(stderr, "Profile error: %v\n", err)
		return 2
	}
	env, err := profile.Environment(cfg.Environment)
	if err != nil {
		fmt.Fprintf(stderr, "Profile error: %v\n", err)
		return 2
	}

	var client remote.Client
	if env.Sandbox {
		client = remote.NewSandboxClient()
	} else {
		client = remote.NewHTTPClient(env.Endpoint, env.Timeout.Std())
	}

	ctx, cancel := context.WithTimeout(context.Background(), env.Timeout.Std())
	defer cancel()

	res, err := client.Invoke(ctx, contracts.OpDummy, map[string]interface{}{
		"operation": string(contracts.OpDummy),
	})
	if err != nil {
		fmt.Fprintf(stderr, "Dummy failed against %s: %v\n", cfg.Environment, err)
		return 1
	}

	fmt.Fprintf(stdout, "Authority reachable (%s): ref %s\n", cfg.Environment, res.ExternalRef)
	return 0
}
