package consumer

import (
	"log/slog"

	"github.com/openrec/tunerbridge/internal/config"
)

// Raw consumer defaults, also used when reverting invalid configuration.
const (
	defaultUploadEnabled = true
	defaultMinTransfer   = 65536
	defaultMaxTransfer   = 1048476
	defaultBufferSize    = 2097152
	defaultUploadPort    = 7818
)

// RawOptions carries the tuning knobs of the raw consumer engine.
type RawOptions struct {
	UploadEnabled   bool
	MinTransferSize int
	MaxTransferSize int
	BufferSize      int
	UploadPort      int
}

// LoadRawOptions builds the raw consumer options from the store and
// registers them for the API surface. Invalid persisted values are logged
// and reverted to defaults rather than propagated out of startup.
func LoadRawOptions(store *config.Store, logger *slog.Logger) RawOptions {
	for {
		uploadEnabled := config.NewBool(
			store.GetBool("consumer.raw.upload_id_enabled", defaultUploadEnabled),
			false,
			"Enable Upload ID",
			"consumer.raw.upload_id_enabled",
			"Use upload ID sessions with the recorder for writing out recordings.")

		minTransfer, errMin := config.NewInt(
			store.GetInt("consumer.raw.min_transfer_size", defaultMinTransfer),
			false,
			"Min Transfer Size",
			"consumer.raw.min_transfer_size",
			"Minimum number of bytes to write at one time.",
			16384, 262144)

		maxTransfer, errMax := config.NewInt(
			store.GetInt("consumer.raw.max_transfer_size", defaultMaxTransfer),
			false,
			"Max Transfer Size",
			"consumer.raw.max_transfer_size",
			"Maximum number of bytes to write at one time.",
			786432, 1048576)

		bufferSize, errBuf := config.NewInt(
			store.GetInt("consumer.raw.stream_buffer_size", defaultBufferSize),
			false,
			"Stream Buffer Size",
			"consumer.raw.stream_buffer_size",
			"Size of the streaming buffer. Raised to 2x Max Transfer Size when smaller.",
			2097152, 33554432)

		uploadPort, errPort := config.NewInt(
			store.GetInt("consumer.raw.upload_id_port", defaultUploadPort),
			false,
			"Recorder Upload Port",
			"consumer.raw.upload_id_port",
			"Port number of the recorder's media upload service.",
			1024, 65535)

		if err := firstError(errMin, errMax, errBuf, errPort); err != nil {
			logger.Warn("Invalid raw consumer options, reverting to defaults", "error", err)

			store.SetBool("consumer.raw.upload_id_enabled", defaultUploadEnabled)
			store.SetInt("consumer.raw.min_transfer_size", defaultMinTransfer)
			store.SetInt("consumer.raw.max_transfer_size", defaultMaxTransfer)
			store.SetInt("consumer.raw.stream_buffer_size", defaultBufferSize)
			store.SetInt("consumer.raw.upload_id_port", defaultUploadPort)
			continue
		}

		store.Register(uploadEnabled, minTransfer, maxTransfer, bufferSize, uploadPort)

		opts := RawOptions{
			UploadEnabled:   uploadEnabled.Bool(),
			MinTransferSize: minTransfer.Int(),
			MaxTransferSize: maxTransfer.Int(),
			BufferSize:      bufferSize.Int(),
			UploadPort:      uploadPort.Int(),
		}
		if opts.BufferSize < 2*opts.MaxTransferSize {
			opts.BufferSize = 2 * opts.MaxTransferSize
		}
		return opts
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
