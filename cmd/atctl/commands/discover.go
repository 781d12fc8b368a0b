package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/atcortex/atengine/internal/discovery"
)

var (
	discoverService string
	discoverDomain  string
	discoverTimeout time.Duration
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "browse mDNS for AT command bridges",
	RunE: func(cmd *cobra.Command, args []string) error {
		bridges, err := discovery.DiscoverBridges(discoverService, discoverDomain, discoverTimeout)
		if err != nil {
			return fmt.Errorf("discover: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(bridges) == 0 {
			fmt.Fprintln(out, "no bridges found")
			return nil
		}
		for _, b := range bridges {
			fmt.Fprintf(out, "%s\t%s:%d\t%v\n", b.Instance, b.Hostname, b.Port, b.Addresses)
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverService, "service", "_atbridge._tcp", "mDNS service type to browse")
	discoverCmd.Flags().StringVar(&discoverDomain, "domain", "local.", "mDNS domain to browse")
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 3*time.Second, "how long to browse before returning results")
}
