package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openrec/tunerbridge/internal/config"
	"github.com/openrec/tunerbridge/internal/discovery"
	"github.com/openrec/tunerbridge/internal/logging"
	"github.com/openrec/tunerbridge/internal/registry"
)

// printingLoader lists tuners as discovery advertises them.
type printingLoader struct{}

func (printingLoader) AdvertiseDevice(tuner *registry.Tuner) {
	fmt.Printf("  tuner %d: %s\n", tuner.Index, tuner.Name)
}

// CreateDiscoverCmd creates the one-shot discovery listing command.
func CreateDiscoverCmd() *cobra.Command {
	var properties string
	var wait time.Duration
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Probe the LAN for HDHomeRun tuners",
		Long: `Sends discovery broadcasts on every usable interface plus any configured ` +
			`static addresses, waits for replies, and prints the devices found.`,
		Run: func(_ *cobra.Command, _ []string) {
			loggingConfig := logging.Config{Level: "warn", Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)

			store := config.NewStore(properties, logging.GetLogger("config"))
			disc := discovery.New(store, nil, nil)

			fmt.Println("Probing for HDHomeRun devices...")
			if err := disc.StartDetection(printingLoader{}); err != nil {
				fmt.Fprintln(os.Stderr, "discovery failed:", err)
				os.Exit(1)
			}

			time.Sleep(wait)
			disc.StopDetection()
			disc.WaitForStopDetection()

			devices := disc.Registry().Devices()
			if len(devices) == 0 {
				fmt.Println("No devices found.")
				return
			}

			fmt.Printf("\n%d device(s):\n", len(devices))
			for _, d := range devices {
				fmt.Printf("  %s  %-10s  %-15s  %d tuners  %s\n",
					d.HexID(), d.Model, d.IP, d.TunerCount, d.BaseURL)
			}
		},
	}

	cmd.Flags().StringVarP(&properties, "properties", "P", "tunerbridge.properties",
		"Path to the properties file")
	cmd.Flags().DurationVarP(&wait, "wait", "w", 3*time.Second,
		"How long to wait for replies")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")

	return cmd
}
