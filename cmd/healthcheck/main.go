// Command healthcheck probes an fmcore-worker endpoint for container health
// checks. It exits 0 when the endpoint answers 2xx and 1 otherwise.
//
// Usage: healthcheck [--timeout 5s] [url]
//
// Without a URL it probes /readyz on FMCORE_SERVER_ADDR (default :9090).
package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	timeout := pflag.Duration("timeout", 5*time.Second, "Request timeout")
	pflag.Parse()

	url := defaultURL(os.Getenv("FMCORE_SERVER_ADDR"))
	if pflag.NArg() > 0 {
		url = pflag.Arg(0)
	}

	if err := probe(&http.Client{Timeout: *timeout}, url); err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		os.Exit(1)
	}
}

// defaultURL turns a listen address such as ":9090" or "0.0.0.0:9090" into
// the local readiness URL.
func defaultURL(addr string) string {
	if addr == "" {
		addr = ":9090"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	addr = strings.Replace(addr, "0.0.0.0:", "localhost:", 1)
	return "http://" + addr + "/readyz"
}

func probe(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
