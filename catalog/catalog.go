// Package catalog discovers capture targets and filters them down to the
// windows a user would want to record.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/internal/config"
	"go2tv.app/screenrec/internal/logging"
)

const defaultMinDimension = 40

// Prompter asks the user to grant screen recording permission.
type Prompter interface {
	PromptPermission(ctx context.Context) error
}

// Options configures a Catalog.
type Options struct {
	// ExcludedApps defaults to config.DefaultExcludedApps.
	ExcludedApps []string
	// FileManagers defaults to config.DefaultFileManagers.
	FileManagers []string
	// MinDimension is the exclusive lower bound for both window edges.
	MinDimension int
	// Self identifies the host process. The zero value resolves the
	// current process on first use.
	Self     Identity
	Prompter Prompter
	Logger   *slog.Logger
}

// OptionsFromConfig maps the catalog configuration section to Options.
func OptionsFromConfig(cfg config.CatalogConfig) *Options {
	return &Options{
		ExcludedApps: cfg.ExcludedApps,
		FileManagers: cfg.FileManagers,
		MinDimension: cfg.MinDimension,
	}
}

type rules struct {
	excluded     map[string]struct{}
	fileManagers map[string]struct{}
	minDimension int
	self         Identity
}

func setOf(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, item := range items {
		m[item] = struct{}{}
	}
	return m
}

// Catalog holds the most recent enumeration of a capture.Source.
type Catalog struct {
	source   capture.Source
	prompter Prompter
	logger   *slog.Logger

	selfOnce sync.Once
	opts     Options
	rules    *rules

	refreshMu sync.Mutex
	current   atomic.Pointer[Snapshot]
	refreshes atomic.Uint64
}

// New returns a catalog over source. Nothing is enumerated until Refresh.
func New(source capture.Source, options *Options) *Catalog {
	var opts Options
	if options != nil {
		opts = *options
	}
	if opts.ExcludedApps == nil {
		opts.ExcludedApps = config.DefaultExcludedApps
	}
	if opts.FileManagers == nil {
		opts.FileManagers = config.DefaultFileManagers
	}
	if opts.MinDimension <= 0 {
		opts.MinDimension = defaultMinDimension
	}

	c := &Catalog{
		source:   source,
		prompter: opts.Prompter,
		logger:   logging.WithComponent(logging.OrDefault(opts.Logger), "catalog"),
		opts:     opts,
	}
	c.current.Store(&Snapshot{})
	return c
}

func (c *Catalog) filterRules(ctx context.Context) *rules {
	c.selfOnce.Do(func() {
		self := c.opts.Self
		if self == (Identity{}) {
			self = CurrentProcess(ctx)
		}
		c.rules = &rules{
			excluded:     setOf(c.opts.ExcludedApps),
			fileManagers: setOf(c.opts.FileManagers),
			minDimension: c.opts.MinDimension,
			self:         self,
		}
	})
	return c.rules
}

// Self returns the identity used for self exclusion.
func (c *Catalog) Self(ctx context.Context) Identity {
	return c.filterRules(ctx).self
}

// Current returns the latest successful snapshot. It is never nil.
func (c *Catalog) Current() *Snapshot {
	return c.current.Load()
}

// Refresh enumerates the source and replaces the current snapshot. On
// failure the current snapshot is kept and an empty snapshot is returned
// with the error. A permission failure also invokes the Prompter.
func (c *Catalog) Refresh(ctx context.Context) (*Snapshot, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	r := c.filterRules(ctx)
	start := time.Now()
	content, err := c.source.Content(ctx)
	if err != nil {
		empty := &Snapshot{rules: r, takenAt: time.Now()}
		if errors.Is(err, capture.ErrPermissionDenied) {
			c.logger.Warn("screen recording permission denied", slog.String("error", err.Error()))
			if c.prompter != nil {
				if perr := c.prompter.PromptPermission(ctx); perr != nil {
					c.logger.Error("permission prompt failed", slog.String("error", perr.Error()))
				}
			}
			return empty, err
		}
		c.logger.Error("failed to fetch available content", slog.String("error", err.Error()))
		return empty, fmt.Errorf("enumerate capture targets: %w", err)
	}

	if len(content.Displays) == 0 {
		c.logger.Warn("capture source reported no displays")
	}

	snap := &Snapshot{
		displays: slices.Clone(content.Displays),
		windows:  slices.Clone(content.Windows),
		apps:     slices.Clone(content.Applications),
		rules:    r,
		takenAt:  time.Now(),
		seq:      c.refreshes.Add(1),
	}
	c.current.Store(snap)

	c.logger.Debug("catalog refreshed",
		slog.Uint64("seq", snap.seq),
		slog.Int("displays", len(snap.displays)),
		slog.Int("windows", len(snap.windows)),
		slog.Int("applications", len(snap.apps)),
		slog.Duration("took", time.Since(start)),
	)
	return snap, nil
}

// Snapshot is an immutable enumeration result.
type Snapshot struct {
	displays []capture.Display
	windows  []capture.Window
	apps     []capture.Application
	rules    *rules
	takenAt  time.Time
	seq      uint64
}

// NewSnapshot builds a snapshot from content with the default filter rules
// and no self identity.
func NewSnapshot(content capture.Content) *Snapshot {
	return &Snapshot{
		displays: slices.Clone(content.Displays),
		windows:  slices.Clone(content.Windows),
		apps:     slices.Clone(content.Applications),
		rules: &rules{
			excluded:     setOf(config.DefaultExcludedApps),
			fileManagers: setOf(config.DefaultFileManagers),
			minDimension: defaultMinDimension,
		},
		takenAt: time.Now(),
	}
}

// TakenAt is when the enumeration completed.
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

// Seq increases with every successful refresh. Zero means the snapshot
// did not come from a successful refresh.
func (s *Snapshot) Seq() uint64 { return s.seq }

func (s *Snapshot) Displays() []capture.Display { return slices.Clone(s.displays) }

// Windows returns every window, unfiltered.
func (s *Snapshot) Windows() []capture.Window { return slices.Clone(s.windows) }

func (s *Snapshot) Applications() []capture.Application { return slices.Clone(s.apps) }

// ListWindows returns the selectable windows in enumeration order.
func (s *Snapshot) ListWindows(onScreenOnly, excludeSelf bool) []capture.Window {
	if s.rules == nil {
		return nil
	}
	var out []capture.Window
	for _, w := range s.windows {
		if !s.rules.eligible(w) {
			continue
		}
		if onScreenOnly && !w.OnScreen {
			continue
		}
		if excludeSelf && s.rules.self.owns(w.OwnerBundleID(), w.Owner.PID) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func (r *rules) eligible(w capture.Window) bool {
	if w.Owner == nil || w.Owner.Name == "" {
		return false
	}
	if _, ok := r.excluded[w.Owner.BundleID]; ok {
		return false
	}
	if strings.Contains(w.Title, "Item-0") || w.Title == "Window" {
		return false
	}
	if _, ok := r.fileManagers[w.Owner.BundleID]; ok && w.Title == "" {
		return false
	}
	return w.Frame.Dx() > r.minDimension && w.Frame.Dy() > r.minDimension
}

func (s *Snapshot) Window(id capture.TargetID) (capture.Window, bool) {
	for _, w := range s.windows {
		if w.ID == id {
			return w, true
		}
	}
	return capture.Window{}, false
}

func (s *Snapshot) Display(id capture.TargetID) (capture.Display, bool) {
	for _, d := range s.displays {
		if d.ID == id {
			return d, true
		}
	}
	return capture.Display{}, false
}

// Lookup finds a window or display by id. Windows win on collision.
func (s *Snapshot) Lookup(id capture.TargetID) (capture.Target, bool) {
	if w, ok := s.Window(id); ok {
		return w, true
	}
	if d, ok := s.Display(id); ok {
		return d, true
	}
	return nil, false
}

// DisplaysIntersecting returns the displays whose frame overlaps r.
func (s *Snapshot) DisplaysIntersecting(r image.Rectangle) []capture.Display {
	var out []capture.Display
	for _, d := range s.displays {
		if d.Frame.Overlaps(r) {
			out = append(out, d)
		}
	}
	return out
}
