// Command mirrorctl is the operator CLI for the replication engine: it
// drives the same HTTP surface a dashboard client would, for scripting and
// one-off administration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/forgemirror/mirror-layer/pkg/version"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	defaultAddr := getenv("MIRROR_LAYER_ADDR", "http://localhost:8080")
	defaultToken := os.Getenv("MIRROR_LAYER_TOKEN")
	defaultUserID := os.Getenv("MIRROR_LAYER_USER_ID")

	root := flag.NewFlagSet("mirrorctl", flag.ContinueOnError)
	root.SetOutput(io.Discard)
	addrFlag := root.String("addr", defaultAddr, "engine base URL (env MIRROR_LAYER_ADDR)")
	tokenFlag := root.String("token", defaultToken, "bearer or static API token (env MIRROR_LAYER_TOKEN)")
	userFlag := root.String("user", defaultUserID, "user id, required with a static API token (env MIRROR_LAYER_USER_ID)")
	timeoutFlag := root.Duration("timeout", 15*time.Second, "HTTP request timeout")
	showVersion := root.Bool("version", false, "print mirrorctl build information and exit")
	if err := root.Parse(args); err != nil {
		return usageError(err)
	}

	remaining := root.Args()
	if *showVersion {
		fmt.Println(version.FullVersion())
		return nil
	}
	if len(remaining) == 0 {
		return usageError(errors.New("no command specified"))
	}

	client := &apiClient{
		baseURL: strings.TrimRight(*addrFlag, "/"),
		token:   strings.TrimSpace(*tokenFlag),
		userID:  strings.TrimSpace(*userFlag),
		http:    &http.Client{Timeout: *timeoutFlag},
	}

	switch remaining[0] {
	case "repositories":
		return handleRepositories(ctx, client, remaining[1:])
	case "organizations":
		return handleOrganizations(ctx, client, remaining[1:])
	case "sync":
		return handleSync(ctx, client, remaining[1:])
	case "job":
		return handleJob(ctx, client, remaining[1:])
	case "cleanup":
		return handleCleanup(ctx, client, remaining[1:])
	case "activities":
		return handleActivities(ctx, client, remaining[1:])
	case "dashboard":
		return handleDashboard(ctx, client, remaining[1:])
	case "events":
		return handleEvents(ctx, client, remaining[1:])
	case "services":
		return handleServices(ctx, client, remaining[1:])
	case "health":
		return handleHealth(ctx, client, remaining[1:])
	case "version":
		fmt.Println(version.FullVersion())
		return nil
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		return usageError(fmt.Errorf("unknown command %q", remaining[0]))
	}
}

func usageError(err error) error {
	printRootUsage()
	return err
}

func printRootUsage() {
	fmt.Println(`mirrorctl - replication engine operator CLI

Usage:
  mirrorctl [global flags] <command> [subcommand] [flags]

Global Flags:
  --addr       engine base URL (env MIRROR_LAYER_ADDR, default http://localhost:8080)
  --token      bearer session token or static API token (env MIRROR_LAYER_TOKEN)
  --user       user id, required alongside a static API token (env MIRROR_LAYER_USER_ID)
  --timeout    HTTP timeout (default 15s)
  --version    print CLI build information and exit

Commands:
  repositories   list tracked repositories, patch destination org or admin status
  organizations  list tracked organizations
  sync           sync a source organization's repositories (POST /sync/organization)
  job            submit mirror/sync/retry/reset-metadata/schedule-sync batches, or cancel one
  cleanup        reconcile orphaned destination repositories
  activities      list or purge recent job activity
  dashboard      print aggregate dashboard counters
  events         tail the live event stream (GET /sse)
  services       list registered service descriptors
  health         check engine liveness
  version        show CLI build information`)
}
