package consumer

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/openrec/tunerbridge/internal/config"
)

// Kind is a consumer engine variant. Channels route to a kind through the
// Router; the factory then produces the matching concrete engine.
type Kind int

const (
	KindRaw Kind = iota
	KindFfmpegTrans
	KindMediaServer
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindFfmpegTrans:
		return "ffmpeg_trans"
	case KindMediaServer:
		return "media_server"
	}
	return "unknown"
}

// ParseKind maps an option value to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw":
		return KindRaw, true
	case "ffmpeg_trans", "ffmpeg":
		return KindFfmpegTrans, true
	case "media_server":
		return KindMediaServer, true
	}
	return KindRaw, false
}

// Constructor builds a consumer engine for one channel.
type Constructor func(store *config.Store, channel string) Consumer

// constructors holds the engine variants compiled into this build. Kinds
// without an entry route to the raw engine with a logged warning.
var constructors = map[Kind]Constructor{
	KindRaw: func(store *config.Store, channel string) Consumer {
		return NewRaw(store, channel)
	},
}

// Router decides which consumer kind serves a channel. The per-kind channel
// lists are range options ("2-5,7,9.1"); exact channel strings win over the
// default kind.
type Router struct {
	logger      *slog.Logger
	defaultKind Kind
	table       map[string]Kind
}

// LoadRouter builds the routing table from the store and registers its
// options.
func LoadRouter(store *config.Store, logger *slog.Logger) *Router {
	defaultOpt := config.NewString(
		store.GetString("consumer.dynamic.default", KindRaw.String()),
		false,
		"Default Consumer",
		"consumer.dynamic.default",
		"Consumer engine used for channels not named by any per-engine channel list.")

	rawChannels := config.NewStringArray(
		store.GetStringArray("consumer.dynamic.channels_raw"),
		false,
		"Raw Consumer Channels",
		"consumer.dynamic.channels_raw",
		"Channel ranges always served by the raw engine.")

	ffmpegChannels := config.NewStringArray(
		store.GetStringArray("consumer.dynamic.channels_ffmpeg_trans"),
		false,
		"FFmpeg Consumer Channels",
		"consumer.dynamic.channels_ffmpeg_trans",
		"Channel ranges served by the ffmpeg transcoding engine.")

	mediaChannels := config.NewStringArray(
		store.GetStringArray("consumer.dynamic.channels_media_server"),
		false,
		"Media Server Consumer Channels",
		"consumer.dynamic.channels_media_server",
		"Channel ranges served by the media server remuxing engine.")

	store.Register(defaultOpt, rawChannels, ffmpegChannels, mediaChannels)

	defaultKind, ok := ParseKind(defaultOpt.Value())
	if !ok {
		logger.Warn("Unknown default consumer, using raw", "value", defaultOpt.Value())
	}

	table := make(map[string]Kind)
	for _, channel := range ParseChannelRanges(ffmpegChannels.Array()) {
		table[channel] = KindFfmpegTrans
	}
	for _, channel := range ParseChannelRanges(mediaChannels.Array()) {
		table[channel] = KindMediaServer
	}
	for _, channel := range ParseChannelRanges(rawChannels.Array()) {
		table[channel] = KindRaw
	}

	return &Router{logger: logger, defaultKind: defaultKind, table: table}
}

// KindFor returns the consumer kind that serves channel.
func (rt *Router) KindFor(channel string) Kind {
	if kind, ok := rt.table[channel]; ok {
		return kind
	}
	return rt.defaultKind
}

// New produces the consumer engine for channel. Kinds not compiled into
// this build fall back to the raw engine.
func (rt *Router) New(store *config.Store, channel string) Consumer {
	kind := rt.KindFor(channel)

	ctor, ok := constructors[kind]
	if !ok {
		rt.logger.Warn("Consumer engine is not available in this build, using raw",
			"kind", kind.String(), "channel", channel)
		ctor = constructors[KindRaw]
	}
	return ctor(store, channel)
}

// ParseChannelRanges expands range tokens into individual channel strings.
// Numeric spans ("2-5") expand inclusively; anything else ("9.1", "D103")
// passes through verbatim.
func ParseChannelRanges(values []string) []string {
	var channels []string
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}

			lo, hi, ok := splitSpan(token)
			if !ok {
				channels = append(channels, token)
				continue
			}
			for ch := lo; ch <= hi; ch++ {
				channels = append(channels, strconv.Itoa(ch))
			}
		}
	}
	return channels
}

func splitSpan(token string) (int, int, bool) {
	lo, hi, found := strings.Cut(token, "-")
	if !found {
		return 0, 0, false
	}

	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, false
	}
	end, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil || end < start {
		return 0, 0, false
	}
	return start, end, true
}
