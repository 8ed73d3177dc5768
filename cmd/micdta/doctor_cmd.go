package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/litoral-labs/micdta/pkg/config"
	"github.com/litoral-labs/micdta/pkg/voyages"
)

// runDoctorCmd implements `micdta doctor`.
//
// Exit codes:
//
//	0 = all checks pass
//	1 = one or more checks failed
type checkResult struct {
	Name   string
	Status string // "ok", "warn", "fail"
	Detail string
}

func runDoctorCmd(stdout, stderr io.Writer) int {
	var results []checkResult
	allOK := true

	ok := func(name, detail string) {
		results = append(results, checkResult{name, "ok", detail})
	}
	warn := func(name, detail string) {
		results = append(results, checkResult{name, "warn", detail})
	}
	fail := func(name, detail string) {
		results = append(results, checkResult{name, "fail", detail})
		allOK = false
	}

	ok("go_runtime", fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH))

	cfg, err := config.FromEnv()
	if err != nil {
		fail("config", err.Error())
		printDoctorResults(stdout, results)
		return 1
	}
	ok("config", fmt.Sprintf("environment %s", cfg.Environment))

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		fail("profile", err.Error())
	} else if env, envErr := profile.Environment(cfg.Environment); envErr != nil {
		fail("profile", envErr.Error())
	} else if env.Sandbox {
		ok("profile", fmt.Sprintf("%s (sandbox)", profile.Name))
	} else {
		ok("profile", fmt.Sprintf("%s -> %s", profile.Name, env.Endpoint))
	}

	if points, cpErr := config.LoadControlPoints(cfg.ControlPointsPath); cpErr != nil {
		fail("control_points", cpErr.Error())
	} else if len(points) == 0 {
		warn("control_points", fmt.Sprintf("%s missing or empty, checkpoint detection disabled", cfg.ControlPointsPath))
	} else {
		ok("control_points", fmt.Sprintf("%d checkpoints", len(points)))
	}

	if catalog, vErr := voyages.LoadFile(cfg.VoyagesPath); vErr != nil {
		fail("voyages", vErr.Error())
	} else if n := len(catalog.All()); n == 0 {
		warn("voyages", fmt.Sprintf("%s missing or empty", cfg.VoyagesPath))
	} else {
		ok("voyages", fmt.Sprintf("%d voyages", n))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if cfg.DatabaseURL == "" {
		warn("database", "MICDTA_DATABASE_URL not set, ledger will be in-memory")
	} else if db, dbErr := sql.Open(cfg.DatabaseDriver, cfg.DatabaseURL); dbErr != nil {
		fail("database", dbErr.Error())
	} else {
		defer db.Close()
		if pingErr := db.PingContext(ctx); pingErr != nil {
			fail("database", pingErr.Error())
		} else {
			ok("database", cfg.DatabaseDriver)
		}
	}

	if cfg.RedisAddr == "" {
		warn("redis", "MICDTA_REDIS_ADDR not set, position gate will be in-process")
	} else {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rc.Close()
		if pingErr := rc.Ping(ctx).Err(); pingErr != nil {
			fail("redis", pingErr.Error())
		} else {
			ok("redis", cfg.RedisAddr)
		}
	}

	printDoctorResults(stdout, results)
	if allOK {
		fmt.Fprintf(stdout, "\n%sAll checks passed.%s\n", ColorGreen+ColorBold, ColorReset)
		return 0
	}
	return 1
}

func printDoctorResults(stdout io.Writer, results []checkResult) {
	fmt.Fprintf(stdout, "\n%smicdta doctor%s\n", ColorBold+ColorBlue, ColorReset)
	fmt.Fprintln(stdout, "─────────────")
	for _, r := range results {
		icon := "✅"
		if r.Status == "warn" {
			icon = "⚠️ "
		} else if r.Status == "fail" {
			icon = "❌"
		}
		fmt.Fprintf(stdout, "  %s  %-16s %s%s%s\n", icon, r.Name, ColorGray, r.Detail, ColorReset)
	}
}
