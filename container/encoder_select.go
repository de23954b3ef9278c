package container

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"go2tv.app/screenrec/internal/processutil"
)

const encoderProbeTimeout = 5 * time.Second

const softwareCodec = "libx264"

// videoEncoderPlan is the ffmpeg argument set for one H.264 encoder.
type videoEncoderPlan struct {
	label       string
	codec       string
	hardware    bool
	globalArgs  []string
	videoFilter string
	codecArgs   []string
}

// h264Candidate is a hardware encoder worth probing on this platform.
type h264Candidate struct {
	codec string
	// device is the VAAPI render node, empty for other codecs.
	device string
	// upload is the filter that moves frames into the encoder's format.
	upload string
}

func (c h264Candidate) label() string {
	if c.device == "" {
		return c.codec
	}
	return c.codec + " (" + c.device + ")"
}

func (c h264Candidate) plan(baseFilter string, gop int) videoEncoderPlan {
	p := videoEncoderPlan{
		label:       c.label(),
		codec:       c.codec,
		hardware:    true,
		videoFilter: joinFilters(baseFilter, c.upload),
		codecArgs:   []string{"-c:v", c.codec, "-g", strconv.Itoa(gop), "-bf", "0"},
	}
	if c.device != "" {
		p.globalArgs = []string{"-vaapi_device", c.device}
	}
	return p
}

// platformCandidates lists hardware encoders in preference order.
func platformCandidates() []h264Candidate {
	nvenc := h264Candidate{codec: "h264_nvenc", upload: "format=yuv420p"}
	qsv := h264Candidate{codec: "h264_qsv", upload: "format=nv12"}

	switch runtime.GOOS {
	case "darwin":
		return []h264Candidate{{codec: "h264_videotoolbox", upload: "format=nv12"}}
	case "windows":
		return []h264Candidate{nvenc, {codec: "h264_amf", upload: "format=yuv420p"}, qsv}
	default:
		out := []h264Candidate{nvenc}
		nodes, _ := filepath.Glob("/dev/dri/renderD*")
		for _, node := range nodes {
			out = append(out, h264Candidate{codec: "h264_vaapi", device: node, upload: "format=nv12,hwupload"})
		}
		return append(out, qsv)
	}
}

func softwareEncoderPlan(baseFilter string, gop int) videoEncoderPlan {
	g := strconv.Itoa(gop)
	return videoEncoderPlan{
		label:       softwareCodec,
		codec:       softwareCodec,
		videoFilter: baseFilter,
		codecArgs: []string{
			"-c:v", softwareCodec,
			"-preset", "ultrafast",
			"-tune", "zerolatency",
			"-pix_fmt", "yuv420p",
			"-g", g, "-keyint_min", g,
			"-sc_threshold", "0",
			"-bf", "0",
		},
	}
}

// selectVideoEncoder picks the first hardware encoder that survives a short
// test encode, or libx264.
func selectVideoEncoder(ffmpegPath, baseFilter string, gop int, logger *slog.Logger) videoEncoderPlan {
	plan, reason := firstWorkingHardware(ffmpegPath, baseFilter, gop, logger)
	if plan == nil {
		fallback := softwareEncoderPlan(baseFilter, gop)
		logger.Info("video encoder selected",
			slog.String("encoder", fallback.label),
			slog.String("mode", "software"),
			slog.String("reason", reason))
		return fallback
	}
	logger.Info("video encoder selected", slog.String("encoder", plan.label), slog.String("mode", "hardware"))
	return *plan
}

func firstWorkingHardware(ffmpegPath, baseFilter string, gop int, logger *slog.Logger) (*videoEncoderPlan, string) {
	candidates := platformCandidates()
	if len(candidates) == 0 {
		return nil, "no_hardware_candidates"
	}
	if _, err := exec.LookPath(ffmpegPath); err != nil {
		logger.Debug("ffmpeg lookup failed", slog.String("path", ffmpegPath), slog.String("error", err.Error()))
		return nil, "ffmpeg_not_found"
	}

	built, err := ffmpegEncoderSet(ffmpegPath)
	if err != nil {
		logger.Debug("ffmpeg encoder listing failed", slog.String("error", err.Error()))
	}
	for _, c := range candidates {
		if built != nil {
			if _, ok := built[c.codec]; !ok {
				continue
			}
		}
		p := c.plan(baseFilter, gop)
		if err := probeVideoEncoder(ffmpegPath, p); err != nil {
			logger.Debug("encoder probe failed", slog.String("encoder", p.label), slog.String("error", err.Error()))
			continue
		}
		return &p, ""
	}
	return nil, "all_hardware_probes_failed"
}

// runFFmpeg runs a short ffmpeg command and returns its combined output.
func runFFmpeg(ffmpegPath string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), encoderProbeTimeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	processutil.HideConsoleWindow(cmd)
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctx.Err() != nil {
		return out.Bytes(), fmt.Errorf("ffmpeg timed out after %s", encoderProbeTimeout)
	}
	return out.Bytes(), err
}

func ffmpegEncoderSet(ffmpegPath string) (map[string]struct{}, error) {
	out, err := runFFmpeg(ffmpegPath, "-hide_banner", "-encoders")
	if err != nil {
		return nil, fmt.Errorf("list ffmpeg encoders: %w", err)
	}
	return parseEncoderList(string(out)), nil
}

// parseEncoderList collects video encoder names from `ffmpeg -encoders`,
// whose rows read "<flags> <name> <description>".
func parseEncoderList(out string) map[string]struct{} {
	encoders := make(map[string]struct{})
	for line := range strings.Lines(out) {
		flags, rest, ok := strings.Cut(strings.TrimSpace(line), " ")
		if !ok || !strings.HasPrefix(flags, "V") {
			continue
		}
		name, _, _ := strings.Cut(strings.TrimSpace(rest), " ")
		if name != "" && name != "=" {
			encoders[name] = struct{}{}
		}
	}
	return encoders
}

// probeVideoEncoder encodes a few black frames to the null muxer.
func probeVideoEncoder(ffmpegPath string, plan videoEncoderPlan) error {
	args := append([]string{"-v", "error", "-nostdin"}, plan.globalArgs...)
	args = append(args, "-f", "lavfi", "-i", "color=c=black:s=1280x720:r=30:d=0.5", "-an", "-frames:v", "8")
	if plan.videoFilter != "" {
		args = append(args, "-vf", plan.videoFilter)
	}
	args = append(args, plan.codecArgs...)
	args = append(args, "-f", "null", "-")

	out, err := runFFmpeg(ffmpegPath, args...)
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 240 {
			msg = msg[len(msg)-240:]
		}
		return fmt.Errorf("probe %s: %w: %s", plan.label, err, msg)
	}
	return nil
}

func joinFilters(filters ...string) string {
	kept := slices.DeleteFunc(slices.Clone(filters), func(f string) bool {
		return strings.TrimSpace(f) == ""
	})
	return strings.Join(kept, ",")
}

// H264Encoders lists the H.264 encoders this package can drive that the
// ffmpeg binary at ffmpegPath was built with, hardware first.
func H264Encoders(ffmpegPath string) ([]string, error) {
	built, err := ffmpegEncoderSet(ffmpegPath)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, c := range append(platformCandidates(), h264Candidate{codec: softwareCodec}) {
		if _, ok := built[c.codec]; ok && !slices.Contains(out, c.codec) {
			out = append(out, c.codec)
		}
	}
	return out, nil
}
