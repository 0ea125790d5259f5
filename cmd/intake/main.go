package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"intake/internal/client"
)

func main() {
	server := flag.String("server", envOr("INTAKE_SERVER", "http://localhost:8080"), "intake server base URL")
	password := flag.String("password", "", "protect uploads with a password")
	expiry := flag.Float64("expiry", 0, "retention in hours (0 uses the server default)")
	flag.Usage = usage
	flag.Parse()

	files, err := client.Collect(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	c := client.New(*server, nil)
	resp, err := c.Send(context.Background(), files, client.UploadOptions{
		Password:    *password,
		ExpiryHours: *expiry,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	for _, up := range resp.Uploads {
		fmt.Printf("✓ %s (%d bytes)\n", up.Filename, up.Size)
		fmt.Printf("  download: %s\n", up.DownloadURL)
		fmt.Printf("  delete:   %s\n", up.DeletionToken)
	}

	for _, e := range resp.Errors {
		fmt.Fprintf(os.Stderr, "✗ %s %v\n", e.Key, e.Args)
	}

	if len(resp.Uploads) == 0 {
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: intake [flags] <files...>\n\n")
	fmt.Fprintf(os.Stderr, "Uploads files or directories to an intake server.\n\n")
	flag.PrintDefaults()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
