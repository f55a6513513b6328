package synthesis

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dreamd/internal/llm"
	"github.com/fyrsmithlabs/dreamd/internal/memory"
)

// insightSchema is the structured shape of a reflection response.
var insightSchema = llm.Schema{
	Name:     "insight",
	Fields:   []string{"INSIGHT"},
	Required: []string{"INSIGHT"},
}

// Reflector condenses a single failure episode into a one-line insight,
// used to enrich episode context before it is recorded. Reflection is
// best-effort: any failure falls back to the episode's own summary.
type Reflector struct {
	generator llm.Generator
	logger    *zap.Logger
}

// NewReflector creates a reflector.
func NewReflector(generator llm.Generator, logger *zap.Logger) *Reflector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reflector{generator: generator, logger: logger}
}

// Reflect returns a concise insight about why the episode failed.
func (r *Reflector) Reflect(ctx context.Context, ep *memory.Episode) string {
	if ep == nil {
		return ""
	}

	prompt := fmt.Sprintf(
		"A task attempt failed.\nTask: %s\nContext: %s\nError class: %s\n\n"+
			"State in one sentence what went wrong and what it implies.\n"+
			"Answer with a labeled field:\nINSIGHT: <one sentence>\n",
		ep.Task, ep.Context, ep.ErrorType,
	)

	fields, err := r.generator.Generate(ctx, prompt, insightSchema)
	if err != nil {
		r.logger.Debug("reflection failed, using episode summary",
			zap.String("episode", ep.ID),
			zap.Error(err),
		)
		return ep.Summary()
	}
	return fields["INSIGHT"]
}
