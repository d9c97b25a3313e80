package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
)

func handleRepositories(ctx context.Context, c *apiClient, args []string) error {
	if len(args) == 0 {
		return errors.New("repositories: expected a subcommand (list|set-org|set-status)")
	}
	switch args[0] {
	case "list":
		data, err := c.request(ctx, http.MethodGet, "/github/repositories", nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
		return nil
	case "set-org":
		fs := flag.NewFlagSet("repositories set-org", flag.ContinueOnError)
		id := fs.String("id", "", "repository id")
		org := fs.String("org", "", "destination organisation override")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *id == "" {
			return errors.New("repositories set-org: --id is required")
		}
		data, err := c.request(ctx, http.MethodPatch, "/repositories/"+*id, map[string]string{"destinationOrg": *org})
		if err != nil {
			return err
		}
		prettyPrint(data)
		return nil
	case "set-status":
		fs := flag.NewFlagSet("repositories set-status", flag.ContinueOnError)
		id := fs.String("id", "", "repository id")
		status := fs.String("status", "", "one of ignored|skipped|archived")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *id == "" || *status == "" {
			return errors.New("repositories set-status: --id and --status are required")
		}
		data, err := c.request(ctx, http.MethodPatch, "/repositories/"+*id+"/status", map[string]string{"status": *status})
		if err != nil {
			return err
		}
		prettyPrint(data)
		return nil
	default:
		return fmt.Errorf("repositories: unknown subcommand %q", args[0])
	}
}

func handleOrganizations(ctx context.Context, c *apiClient, args []string) error {
	data, err := c.request(ctx, http.MethodGet, "/github/organizations", nil)
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}

func handleSync(ctx context.Context, c *apiClient, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	org := fs.String("org", "", "source organisation login to sync")
	role := fs.String("role", "member", "source membership role to import as (member|admin|owner|billing_manager)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *org == "" {
		return errors.New("sync: --org is required")
	}
	data, err := c.request(ctx, http.MethodPost, "/sync/organization", map[string]string{"org": *org, "role": *role})
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}

// jobEndpoints maps a job subcommand name to its HTTP path.
var jobEndpoints = map[string]string{
	"mirror":         "/job/mirror",
	"sync":           "/job/sync",
	"retry":          "/job/retry",
	"reset-metadata": "/job/reset-metadata",
}

func handleJob(ctx context.Context, c *apiClient, args []string) error {
	if len(args) == 0 {
		return errors.New("job: expected a subcommand (mirror|sync|retry|reset-metadata|schedule-sync|cancel)")
	}
	if args[0] == "schedule-sync" {
		data, err := c.request(ctx, http.MethodPost, "/job/schedule-sync", map[string]any{})
		if err != nil {
			return err
		}
		prettyPrint(data)
		return nil
	}
	if args[0] == "cancel" {
		fs := flag.NewFlagSet("job cancel", flag.ContinueOnError)
		id := fs.String("id", "", "job id")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *id == "" {
			return errors.New("job cancel: --id is required")
		}
		data, err := c.request(ctx, http.MethodPost, "/job/"+*id+"/cancel", map[string]any{})
		if err != nil {
			return err
		}
		prettyPrint(data)
		return nil
	}

	path, ok := jobEndpoints[args[0]]
	if !ok {
		return fmt.Errorf("job: unknown subcommand %q", args[0])
	}

	fs := flag.NewFlagSet("job "+args[0], flag.ContinueOnError)
	ids := fs.String("ids", "", "comma-separated repository ids")
	all := fs.Bool("all", false, "apply to every tracked repository (mirror only)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *ids == "" && !*all {
		return fmt.Errorf("job %s: --ids or --all is required", args[0])
	}

	data, err := c.request(ctx, http.MethodPost, path, map[string]any{
		"repositoryIds": splitCommaList(*ids),
		"all":           *all,
	})
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}

func handleCleanup(ctx context.Context, c *apiClient, args []string) error {
	data, err := c.request(ctx, http.MethodPost, "/cleanup/auto", map[string]any{})
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}

func handleActivities(ctx context.Context, c *apiClient, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "list":
		data, err := c.request(ctx, http.MethodGet, "/activities", nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
		return nil
	case "cleanup":
		data, err := c.request(ctx, http.MethodPost, "/activities/cleanup", map[string]any{})
		if err != nil {
			return err
		}
		prettyPrint(data)
		return nil
	default:
		return fmt.Errorf("activities: unknown subcommand %q", sub)
	}
}

func handleDashboard(ctx context.Context, c *apiClient, args []string) error {
	data, err := c.request(ctx, http.MethodGet, "/dashboard", nil)
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}

func handleEvents(ctx context.Context, c *apiClient, args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	since := fs.String("since", "", "RFC3339 timestamp to replay events from")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := "/sse"
	if *since != "" {
		path += "?since=" + *since
	}

	resp, err := c.stream(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == ':' {
			continue
		}
		fmt.Println(line)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func handleServices(ctx context.Context, c *apiClient, args []string) error {
	data, err := c.request(ctx, http.MethodGet, "/system/descriptors", nil)
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}

func handleHealth(ctx context.Context, c *apiClient, args []string) error {
	data, err := c.request(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}
