package discovery

import (
	"log/slog"
	"math"
	"time"

	"github.com/openrec/tunerbridge/internal/config"
)

// Discoverer defaults, also used when reverting invalid configuration.
const (
	defaultStreamingWait     = 15000
	defaultLocking           = true
	defaultRetryCount        = 2
	defaultBroadcastInterval = 58
	defaultBroadcastPort     = 64998
	defaultSmartBroadcast    = true
	defaultAlwaysTuneLegacy  = false
	defaultAllowHTTPTuning   = true
	defaultTranscodeProfile  = ""
)

// discovererOptions bundles the typed options of the HDHomeRun discoverer.
type discovererOptions struct {
	streamingWait     *config.LongOption
	locking           *config.BoolOption
	retryCount        *config.IntOption
	broadcastInterval *config.IntOption
	broadcastPort     *config.IntOption
	smartBroadcast    *config.BoolOption
	ignoreModels      *config.StringArrayOption
	ignoreDeviceIDs   *config.StringArrayOption
	staticAddresses   *config.StringArrayOption
	alwaysTuneLegacy  *config.BoolOption
	allowHTTPTuning   *config.BoolOption
	transcodeProfile  *config.StringOption
}

// loadOptions builds the discoverer options from the store and registers
// them. Invalid persisted values log and revert to defaults instead of
// failing startup.
func loadOptions(store *config.Store, logger *slog.Logger) *discovererOptions {
	for {
		streamingWait := config.NewLong(
			store.GetLong("hdhr.wait_for_streaming", defaultStreamingWait),
			false,
			"Return to Recorder",
			"hdhr.wait_for_streaming",
			"Maximum number of milliseconds to wait before returning to the"+
				" recorder regardless of if the requested channel is actually"+
				" streaming.")

		locking := config.NewBool(
			store.GetBool("hdhr.locking", defaultLocking),
			false,
			"HDHomeRun Locking",
			"hdhr.locking",
			"Put the tuner in a locked state when it is in use. This should"+
				" generally not be disabled.")

		retryCount, errRetry := config.NewInt(
			store.GetInt("hdhr.retry_count", defaultRetryCount),
			false,
			"Communication Retry Count",
			"hdhr.retry_count",
			"Number of attempts to communicate with the device before"+
				" returning an IO error.",
			0, math.MaxInt32)

		broadcastInterval, errInterval := config.NewInt(
			store.GetInt("hdhr.broadcast_s", defaultBroadcastInterval),
			false,
			"Discovery Broadcast Interval",
			"hdhr.broadcast_s",
			"Interval in seconds between discovery broadcasts. 0 turns off"+
				" discovery after the first broadcast. Ignored while Smart"+
				" Broadcast is enabled.",
			0, math.MaxInt32)

		broadcastPort, errPort := config.NewInt(
			store.GetInt("hdhr.broadcast_port", defaultBroadcastPort),
			false,
			"Discovery Broadcast Port",
			"hdhr.broadcast_port",
			"Local port used to send and receive discovery broadcasts."+
				" Values below 1024 select an ephemeral port.",
			0, 65535)

		smartBroadcast := config.NewBool(
			store.GetBool("hdhr.smart_broadcast", defaultSmartBroadcast),
			false,
			"Smart Broadcast Enabled",
			"hdhr.smart_broadcast",
			"Broadcast only when a device is inaccessible or an expected"+
				" device has not loaded. Overrides the broadcast interval.")

		ignoreModels := config.NewStringArray(
			store.GetStringArray("hdhr.ignore_models"),
			false,
			"Ignore Models",
			"hdhr.ignore_models",
			"Prevent specific models from being detected and loaded.")

		ignoreDeviceIDs := config.NewStringArray(
			store.GetStringArray("hdhr.ignore_device_ids"),
			false,
			"Ignore Device IDs",
			"hdhr.ignore_device_ids",
			"Prevent specific devices by hex ID from being detected and loaded.")

		staticAddresses := config.NewStringArray(
			store.GetStringArray("hdhr.static_addresses_csv"),
			false,
			"Static Addresses",
			"hdhr.static_addresses_csv",
			"IP addresses probed directly on every cycle, for devices outside"+
				" the local broadcast domains.")

		alwaysTuneLegacy := config.NewBool(
			store.GetBool("hdhr.always_tune_legacy", defaultAlwaysTuneLegacy),
			false,
			"Always Tune in Legacy Mode",
			"hdhr.always_tune_legacy",
			"Tune with RF parameters instead of the device channel map"+
				" whenever the hardware allows it.")

		allowHTTPTuning := config.NewBool(
			store.GetBool("hdhr.allow_http_tuning", defaultAllowHTTPTuning),
			false,
			"Allow HTTP Tuning",
			"hdhr.allow_http_tuning",
			"Use the device HTTP URL instead of RTP when one is available"+
				" for the requested channel.")

		transcodeProfile := config.NewString(
			store.GetString("hdhr.extend_transcode_profile", defaultTranscodeProfile),
			false,
			"Transcode Profile",
			"hdhr.extend_transcode_profile",
			"Profile used by tuners that support hardware transcoding.")

		if err := firstError(errRetry, errInterval, errPort); err != nil {
			logger.Warn("Invalid discoverer options, reverting to defaults", "error", err)

			store.SetLong("hdhr.wait_for_streaming", defaultStreamingWait)
			store.SetBool("hdhr.locking", defaultLocking)
			store.SetInt("hdhr.retry_count", defaultRetryCount)
			store.SetInt("hdhr.broadcast_s", defaultBroadcastInterval)
			store.SetInt("hdhr.broadcast_port", defaultBroadcastPort)
			store.SetBool("hdhr.smart_broadcast", defaultSmartBroadcast)
			store.SetStringArray("hdhr.ignore_models")
			store.SetStringArray("hdhr.ignore_device_ids")
			store.SetStringArray("hdhr.static_addresses_csv")
			store.SetBool("hdhr.always_tune_legacy", defaultAlwaysTuneLegacy)
			store.SetBool("hdhr.allow_http_tuning", defaultAllowHTTPTuning)
			store.SetString("hdhr.extend_transcode_profile", defaultTranscodeProfile)
			continue
		}

		store.Register(
			streamingWait, locking, retryCount, broadcastInterval,
			broadcastPort, smartBroadcast, ignoreModels, ignoreDeviceIDs,
			staticAddresses, alwaysTuneLegacy, allowHTTPTuning,
			transcodeProfile,
		)

		return &discovererOptions{
			streamingWait:     streamingWait,
			locking:           locking,
			retryCount:        retryCount,
			broadcastInterval: broadcastInterval,
			broadcastPort:     broadcastPort,
			smartBroadcast:    smartBroadcast,
			ignoreModels:      ignoreModels,
			ignoreDeviceIDs:   ignoreDeviceIDs,
			staticAddresses:   staticAddresses,
			alwaysTuneLegacy:  alwaysTuneLegacy,
			allowHTTPTuning:   allowHTTPTuning,
			transcodeProfile:  transcodeProfile,
		}
	}
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// StreamingWait is how long tuning may block before control returns to the
// recorder.
func (o *discovererOptions) StreamingWait() time.Duration {
	return time.Duration(o.streamingWait.Long()) * time.Millisecond
}

// BroadcastInterval is the periodic probe cycle length.
func (o *discovererOptions) BroadcastInterval() time.Duration {
	return time.Duration(o.broadcastInterval.Int()) * time.Second
}
