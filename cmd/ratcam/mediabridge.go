package main

import (
	"context"
	"os"

	"github.com/warpcomdev/ratcam/internal/chatbot"
	"github.com/warpcomdev/ratcam/internal/media"
	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
)

// mediaBridge is the CHAT-resident plugin.Plugin + media.Receiver that
// completes the "CAMERA captures a still/clip, CHAT broadcasts it" wiring.
// original_source/plugin_ratcam.py's own equivalent hook
// (RatcamTelegramPlugin.handle_media) is a literal no-op (`pass`); spec.md
// §6 requires /photo and /video to actually deliver media to every
// authorised chat, so this bridge does the work the original never
// finished: read the delivered file off disk and broadcast it.
type mediaBridge struct {
	logger ratcamlog.Logger
	root   *chatbot.Root
}

func newMediaBridge(logger ratcamlog.Logger, root *chatbot.Root) *mediaBridge {
	return &mediaBridge{logger: logger.With(ratcamlog.String("component", "media-bridge")), root: root}
}

// Activate implements plugin.Plugin. Nothing to resolve: this plugin's
// only collaborator (chatbot.Root) is already wired in by closure at
// construction time.
func (b *mediaBridge) Activate(ctx context.Context, pctx *plugin.Context) error { return nil }

// Deactivate implements plugin.Plugin.
func (b *mediaBridge) Deactivate(ctx context.Context) error { return nil }

// HandleMedia implements media.Receiver: broadcasts rec's file to every
// authorised chat, by kind, then lets media.Manager's normal consume-and-
// delete flow reclaim the file once every receiver (this one included)
// has returned.
func (b *mediaBridge) HandleMedia(rec media.Record) error {
	data, err := os.ReadFile(rec.Path)
	if err != nil {
		b.logger.Error("media bridge: source file missing, skipping broadcast", ratcamlog.String("path", rec.Path), ratcamlog.Error(err))
		return nil
	}
	switch rec.Kind {
	case media.KindJPEG:
		return b.root.BroadcastPhoto(data)
	case media.KindMP4:
		return b.root.BroadcastVideo(data)
	default:
		b.logger.Error("media bridge: unknown media kind", ratcamlog.String("kind", string(rec.Kind)))
		return nil
	}
}
