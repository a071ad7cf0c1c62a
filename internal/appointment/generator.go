package appointment

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/hackgods/petcare-scheduling/internal/clock"
)

const (
	DefaultWindowDays = 14
	// DefaultMaxWindowDays bounds how far ahead one Generate call may write.
	DefaultMaxWindowDays = 90
)

type GenerateRequest struct {
	Provider Provider
	Template SlotTemplate
	// From defaults to today.
	From Date
	// WindowDays defaults to DefaultWindowDays.
	WindowDays int
}

type GenerateResult struct {
	ProviderID string `json:"provider_id"`
	From       Date   `json:"from"`
	WindowDays int    `json:"window_days"`
	Created    int    `json:"created"`
	Existing   int    `json:"existing"`
	Failed     int    `json:"failed"`
}

// Generator materializes bookable slots from a provider's weekly template.
// It is idempotent: re-running over the same window creates nothing new and
// never touches existing slots.
type Generator struct {
	repo          Repository
	cache         AvailabilityCache
	clock         clock.Clock
	log           *zap.Logger
	events        eventRecorder
	maxWindowDays int
}

type GeneratorOption func(*Generator)

// WithMaxWindowDays caps GenerateRequest.WindowDays. Non-positive values
// keep DefaultMaxWindowDays.
func WithMaxWindowDays(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.maxWindowDays = n
		}
	}
}

func NewGenerator(repo Repository, cache AvailabilityCache, clk clock.Clock, log *zap.Logger, opts ...GeneratorOption) *Generator {
	if cache == nil {
		cache = NopCache()
	}
	g := &Generator{
		repo:          repo,
		cache:         cache,
		clock:         clk,
		log:           log,
		events:        eventRecorder{repo: repo, log: log, now: clk.Now},
		maxWindowDays: DefaultMaxWindowDays,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate upserts one free slot per (operating day, template range) in
// [From, From+WindowDays). Every unit is attempted independently; the
// returned error, if any, is marked ErrStoreUnavailable and the whole call
// is safe to retry.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if req.WindowDays == 0 {
		req.WindowDays = DefaultWindowDays
	}
	if req.From == "" {
		req.From = DateOf(g.clock.Now())
	}

	verr := &ValidationError{}
	if req.Provider.ID == "" {
		verr.Add("provider_id", "required")
	}
	switch {
	case req.WindowDays < 0:
		verr.Add("window_days", "must be positive")
	case req.WindowDays > g.maxWindowDays:
		verr.Add("window_days", fmt.Sprintf("must be at most %d", g.maxWindowDays))
	}
	if !req.From.Valid() {
		verr.Add("from", "must be YYYY-MM-DD")
	}
	if err := req.Template.Validate(); err != nil {
		var tv *ValidationError
		if errors.As(err, &tv) {
			for k, v := range tv.Fields {
				verr.Add(k, v)
			}
		}
	}
	if !verr.Empty() {
		return GenerateResult{}, verr
	}

	res := GenerateResult{ProviderID: req.Provider.ID, From: req.From, WindowDays: req.WindowDays}
	var firstErr error

	for i := 0; i < req.WindowDays; i++ {
		day := req.From.AddDays(i)
		if !req.Provider.Weekly.Operates(day.Weekday()) {
			continue
		}

		createdToday := false
		for _, r := range req.Template {
			now := g.clock.Now()
			slot := Slot{
				ProviderID: req.Provider.ID,
				Date:       day,
				Start:      r.Start,
				End:        r.End,
				State:      SlotFree,
				CreatedAt:  now,
				UpdatedAt:  now,
			}

			created, err := g.repo.InsertSlotIfAbsent(ctx, slot)
			switch {
			case err != nil:
				res.Failed++
				if firstErr == nil {
					firstErr = err
				}
				g.log.Warn("slot write failed",
					zap.String("slot", slot.Key().String()),
					zap.Error(err),
				)
			case created:
				res.Created++
				createdToday = true
			default:
				res.Existing++
			}
		}

		if createdToday {
			g.cache.Invalidate(ctx, req.Provider.ID, day)
		}
	}

	g.log.Info("slots generated",
		zap.String("provider_id", res.ProviderID),
		zap.String("from", res.From.String()),
		zap.Int("window_days", res.WindowDays),
		zap.Int("created", res.Created),
		zap.Int("existing", res.Existing),
		zap.Int("failed", res.Failed),
	)

	if res.Created > 0 {
		g.events.record(ctx, EventSlotsGenerated, SlotKey{ProviderID: res.ProviderID, Date: res.From}, nil, map[string]any{
			"window_days": res.WindowDays,
			"created":     res.Created,
			"failed":      res.Failed,
		})
	}

	if firstErr != nil {
		return res, errors.Mark(
			errors.Wrapf(firstErr, "%d of %d slot writes failed", res.Failed, res.Failed+res.Created+res.Existing),
			ErrStoreUnavailable,
		)
	}
	return res, nil
}

// GenerateAll runs Generate for every provider in the directory, starting
// today. A failing provider does not stop the others.
func (g *Generator) GenerateAll(ctx context.Context, template SlotTemplate, windowDays int) ([]GenerateResult, error) {
	providers, err := g.repo.ListProviders(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list providers")
	}

	results := make([]GenerateResult, 0, len(providers))
	var firstErr error
	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := g.Generate(ctx, GenerateRequest{Provider: p, Template: template, WindowDays: windowDays})
		results = append(results, res)
		if err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "generate slots for %s", p.ID)
		}
	}
	return results, firstErr
}
