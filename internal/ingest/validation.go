// All custom validations related to ingested server payloads are defined here.

package ingest

import (
	"SecondInning/pkg/log"
	"context"

	"github.com/asaskevich/govalidator"
)

// Reactions parents can send on a player's media.
var allowedReactions = map[string]struct{}{
	"clap":      {},
	"heart":     {},
	"star":      {},
	"celebrate": {},
	"encourage": {},
}

func RegisterCustomValidations(ctx context.Context, logger log.Logger) {
	// Reaction type validation.
	// A parent engagement can only carry one of the known reactions.
	govalidator.TagMap["reaction_custom"] = govalidator.Validator(func(str string) bool {
		_, ok := allowedReactions[str]
		return ok
	})

	logger.WithCtx(ctx).Info().Msg("Successfully registered ingest related custom validations.")
}
