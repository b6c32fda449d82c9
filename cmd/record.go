package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openrec/tunerbridge/internal/capture"
	"github.com/openrec/tunerbridge/internal/config"
	"github.com/openrec/tunerbridge/internal/discovery"
	"github.com/openrec/tunerbridge/internal/logging"
)

// CreateRecordCmd creates the direct channel-to-file recording command.
// It uses the device's HTTP streaming URL as the producer, which covers
// models that expose one; RTP tuning stays with the recorder integration.
func CreateRecordCmd() *cobra.Command {
	var properties string
	var output string
	var wait time.Duration
	var logLevel string

	cmd := &cobra.Command{
		Use:   "record [channel]",
		Short: "Record a channel to a local file",
		Long: `Discovers tuners, claims the first free one, pulls the channel's MPEG-TS ` +
			`stream over the device's HTTP interface, and records it to a file until ` +
			`interrupted.`,
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			channel := args[0]

			logging.Initialize(logging.Config{Level: logLevel, Format: "text"})
			logger := logging.GetLogger("record").With("channel", channel)

			store := config.NewStore(properties, logging.GetLogger("config"))
			disc := discovery.New(store, nil, nil)

			if err := disc.StartDetection(nil); err != nil {
				logger.Error("Discovery failed to start", "error", err)
				os.Exit(1)
			}
			defer func() {
				disc.StopDetection()
				disc.WaitForStopDetection()
			}()

			logger.Info("Waiting for tuner discovery")
			deadline := time.Now().Add(wait)
			for disc.Registry().TunerCount() == 0 && time.Now().Before(deadline) {
				time.Sleep(200 * time.Millisecond)
			}

			session := claimFreeTuner(disc)
			if session == nil {
				logger.Error("No free tuner found")
				os.Exit(1)
			}
			defer session.Release()

			device := session.Physical()
			if device.BaseURL == "" {
				logger.Error("Device does not expose an HTTP streaming URL",
					"device", device.UniqueName())
				os.Exit(1)
			}

			if output == "" {
				output = fmt.Sprintf("channel-%s.ts", channel)
			}
			if !session.RecordToFilename(channel, "", output) {
				logger.Error("Recording could not start", "filename", output)
				os.Exit(1)
			}

			url := fmt.Sprintf("%s/auto/v%s", device.BaseURL, channel)
			logger.Info("Recording", "url", url, "filename", output)

			resp, err := http.Get(url)
			if err != nil {
				logger.Error("Could not open the device stream", "error", err)
				session.StopRecording()
				os.Exit(1)
			}
			defer resp.Body.Close()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-stop
				logger.Info("Stopping recording")
				resp.Body.Close()
				session.StopRecording()
			}()

			buf := make([]byte, 32*1024)
			for {
				n, err := resp.Body.Read(buf)
				if n > 0 {
					if _, werr := session.Write(buf[:n]); werr != nil {
						break
					}
				}
				if err != nil {
					if err != io.EOF {
						logger.Warn("Device stream ended", "error", err)
					}
					break
				}
			}

			session.StopRecording()
			logger.Info("Recording finished", "bytes", session.BytesStreamed())
		},
	}

	cmd.Flags().StringVarP(&properties, "properties", "P", "tunerbridge.properties",
		"Path to the properties file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Recording filename")
	cmd.Flags().DurationVarP(&wait, "wait", "w", 5*time.Second,
		"How long to wait for tuner discovery")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")

	return cmd
}

func claimFreeTuner(disc *discovery.HDHomeRunDiscoverer) *capture.Device {
	for _, tuner := range disc.Registry().Tuners() {
		session, err := disc.LoadCaptureDevice(tuner.ID)
		if err == nil {
			return session
		}
	}
	return nil
}
