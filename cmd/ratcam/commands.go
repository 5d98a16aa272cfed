package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/warpcomdev/ratcam/internal/chatbot"
	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/rpc"
)

// videoDuration is set from settings (ratcam.video_duration) by main()
// before any command can fire; commands.go has no other way to learn it,
// since chatbot.CommandHandler constructors are zero-argument (matched by
// chatbot's own package-level ctor-slice registry).
var videoDuration = 10 * time.Second

// resolveProxy looks def up in root's lookup table and returns the proxy
// for process, or ok=false if the definition or that process's slot isn't
// present in the topology — the "capability not loaded" case spec.md §7
// calls out (--no-camera/--no-light/--no-status-led at construction).
func resolveProxy(root *chatbot.Root, def string, process plugin.Process) (*rpc.Proxy, bool) {
	inst, ok := root.Table().Find(def)
	if !ok {
		return nil, false
	}
	slot := inst.Slots.Get(process)
	if slot == nil {
		return nil, false
	}
	proxy, ok := slot.(*rpc.Proxy)
	return proxy, ok
}

func notLoaded(root *chatbot.Root, chatID int64, capability, pluginName string) error {
	return root.SendMessage(chatID, fmt.Sprintf("Cannot %s, %s is not loaded.", capability, pluginName))
}

func init() {
	chatbot.RegisterCommand(func() chatbot.CommandHandler { return photoCommand{} })
	chatbot.RegisterCommand(func() chatbot.CommandHandler { return videoCommand{} })
	chatbot.RegisterCommand(func() chatbot.CommandHandler { return detectCommand{} })
	chatbot.RegisterCommand(func() chatbot.CommandHandler { return lightCommand{} })
}

// photoCommand implements spec.md §6's /photo: enqueue a still capture on
// CAMERA's capture.Queue.
type photoCommand struct{}

func (photoCommand) Command() string { return "photo" }

func (photoCommand) HandleCommand(ctx context.Context, root *chatbot.Root, update chatbot.Update) error {
	proxy, ok := resolveProxy(root, "Capture", plugin.CAMERA)
	if !ok {
		return notLoaded(root, update.ChatID, "take a photo", "Capture")
	}
	var submitted bool
	if err := proxy.Call("Submit", &submitted, update.ChatID); err != nil {
		return fmt.Errorf("ratcam: /photo: %w", err)
	}
	if !submitted {
		return root.SendMessage(update.ChatID, "capture queue is shutting down, try again later")
	}
	return nil
}

// videoCommand implements spec.md §6's /video: request a motion clip of
// configured duration from CAMERA's recorder.DualBuffer.
type videoCommand struct{}

func (videoCommand) Command() string { return "video" }

func (videoCommand) HandleCommand(ctx context.Context, root *chatbot.Root, update chatbot.Update) error {
	proxy, ok := resolveProxy(root, "Recorder", plugin.CAMERA)
	if !ok {
		return notLoaded(root, update.ChatID, "take a video", "BufferedRecorder")
	}
	stopAfter := videoDuration
	if err := proxy.CallOneway("Record", update.ChatID, &stopAfter); err != nil {
		return fmt.Errorf("ratcam: /video: %w", err)
	}
	return nil
}

// detectCommand implements spec.md §6's /detect [on|off]: query or set
// CAMERA's motion.CameraDetector enable state.
type detectCommand struct{}

func (detectCommand) Command() string { return "detect" }

func (detectCommand) HandleCommand(ctx context.Context, root *chatbot.Root, update chatbot.Update) error {
	proxy, ok := resolveProxy(root, "Motion", plugin.CAMERA)
	if !ok {
		return notLoaded(root, update.ChatID, "query motion detection", "MotionDetector")
	}
	if len(update.Args) == 0 {
		var enabled bool
		if err := proxy.Call("Enabled", &enabled); err != nil {
			return fmt.Errorf("ratcam: /detect: %w", err)
		}
		return root.SendMessage(update.ChatID, onOffState("detection", enabled))
	}
	enabled, ok := parseOnOff(update.Args[0])
	if !ok {
		return root.SendMessage(update.ChatID, "usage: /detect [on|off]")
	}
	if err := proxy.CallOneway("SetEnabled", enabled); err != nil {
		return fmt.Errorf("ratcam: /detect: %w", err)
	}
	return root.SendMessage(update.ChatID, onOffState("detection", enabled))
}

// lightCommand implements spec.md §6's /light [on|off|<0..1>|pulse]: query
// or set MAIN's pwmled.Manager.
type lightCommand struct{}

func (lightCommand) Command() string { return "light" }

func (lightCommand) HandleCommand(ctx context.Context, root *chatbot.Root, update chatbot.Update) error {
	proxy, ok := resolveProxy(root, "PWMLED", plugin.MAIN)
	if !ok {
		return notLoaded(root, update.ChatID, "control the light", "PWMLed")
	}
	if len(update.Args) == 0 {
		var value float64
		if err := proxy.Call("Value", &value); err != nil {
			return fmt.Errorf("ratcam: /light: %w", err)
		}
		return root.SendMessage(update.ChatID, fmt.Sprintf("light value: %.2f", value))
	}
	switch update.Args[0] {
	case "on":
		if err := proxy.CallOneway("On"); err != nil {
			return fmt.Errorf("ratcam: /light on: %w", err)
		}
	case "off":
		if err := proxy.CallOneway("Off"); err != nil {
			return fmt.Errorf("ratcam: /light off: %w", err)
		}
	case "pulse":
		if err := proxy.CallOneway("Pulse"); err != nil {
			return fmt.Errorf("ratcam: /light pulse: %w", err)
		}
	default:
		v, err := strconv.ParseFloat(update.Args[0], 64)
		if err != nil || v < 0 || v > 1 {
			return root.SendMessage(update.ChatID, "usage: /light [on|off|<0..1>|pulse]")
		}
		if err := proxy.CallOneway("SetValue", v); err != nil {
			return fmt.Errorf("ratcam: /light %v: %w", v, err)
		}
	}
	return root.SendMessage(update.ChatID, "ok")
}

func parseOnOff(arg string) (bool, bool) {
	switch arg {
	case "on":
		return true, true
	case "off":
		return false, true
	default:
		return false, false
	}
}

func onOffState(what string, on bool) string {
	state := "off"
	if on {
		state = "on"
	}
	return fmt.Sprintf("%s is %s", what, state)
}
