// Command healthcheck probes a running rate limiter for container health
// checks. It exits 0 when /health answers 200 and 1 otherwise. With -strict
// a "degraded" status, such as an unreachable denial journal, also fails.
//
// The port defaults to 8080 and follows RATELIMITER_PORT when set.
// Build with CGO_ENABLED=0 for distroless images.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"ratelimiter/internal/models"
	"ratelimiter/internal/version"
)

func main() {
	strict := flag.Bool("strict", false, "Fail unless every component reports healthy")
	timeout := flag.Duration("timeout", 5*time.Second, "Probe timeout")
	flag.Parse()

	port := os.Getenv("RATELIMITER_PORT")
	if port == "" {
		port = "8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := probe(ctx, http.DefaultClient, "http://localhost:"+port+"/health", *strict); err != nil {
		fmt.Fprintln(os.Stderr, "healthcheck:", err)
		os.Exit(1)
	}
}

func probe(ctx context.Context, client *http.Client, url string, strict bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.GetInfo().UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if !strict {
		return nil
	}

	var health models.HealthCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if health.Status != models.StatusHealthy {
		return errors.New("service is " + health.Status)
	}
	return nil
}
