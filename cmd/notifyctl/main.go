// Command notifyctl drives the dispatcher's admin API: list and fire triggers,
// run custom campaigns, inspect campaigns and export delivery records.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type globals struct {
	server  string
	token   string
	jsonOut bool
	timeout time.Duration
	out     io.Writer
}

func (g *globals) client() *apiClient {
	return &apiClient{base: g.server, token: g.token, http: &http.Client{Timeout: g.timeout}}
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globals{out: out}
	root := &cobra.Command{
		Use:           "notifyctl",
		Short:         "Operate the bulk notification dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	server := os.Getenv("NOTIFYCTL_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&g.server, "server", server, "dispatcher base URL (env NOTIFYCTL_SERVER)")
	root.PersistentFlags().StringVar(&g.token, "token", os.Getenv("ADMIN_API_TOKEN"), "admin API token (env ADMIN_API_TOKEN)")
	root.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "print raw JSON")
	// campaign runs are synchronous and paced, so firing can take a while
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 2*time.Hour, "request timeout")

	root.AddCommand(
		newTriggersCmd(g),
		newCampaignsCmd(g),
		newRecordsCmd(g),
		newRecipientsCmd(g),
		newProviderCmd(g),
		newStatsCmd(g),
	)
	return root
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
