package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"time"
)

// runMonitor polls a running gateway's health endpoint and prints a
// one-line status/uptime summary on an interval. The terminal dashboard UI the
// original system offers is out of scope here; this is a plain poll loop
// an operator can pipe or watch in a terminal.
func runMonitor(args []string) {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8080", "base URL of a running gateway listener")
	healthPath := fs.String("health-path", "/health", "health endpoint path")
	interval := fs.Duration("interval", 2*time.Second, "poll interval")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}

	for {
		status, uptime, err := fetchHealth(client, *baseURL+*healthPath)
		if err != nil {
			fmt.Printf("%s  error: %v\n", time.Now().Format(time.RFC3339), err)
		} else {
			fmt.Printf("%s  status=%s uptime=%ds\n", time.Now().Format(time.RFC3339), status, uptime)
		}
		time.Sleep(*interval)
	}
}

func fetchHealth(client *http.Client, url string) (status string, uptimeSeconds int64, err error) {
	resp, err := client.Get(url)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	var body struct {
		Status        string `json:"status"`
		UptimeSeconds int64  `json:"uptime_seconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", 0, err
	}
	return body.Status, body.UptimeSeconds, nil
}
