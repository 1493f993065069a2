package dice

import "go.uber.org/zap"

// Roller wraps a Source and logs every roll at debug level.
type Roller struct {
	src    Source
	logger *zap.Logger
}

// NewRoller creates a Roller.
//
// Precondition: src and logger must be non-nil.
func NewRoller(src Source, logger *zap.Logger) *Roller {
	return &Roller{src: src, logger: logger}
}

// D20 rolls a d20 plus modifier on behalf of who.
func (r *Roller) D20(who string, modifier int) Roll {
	roll := Die(r.src, 20, modifier)
	r.logger.Debug("dice roll",
		zap.String("actor", who),
		zap.Int("natural", roll.Natural),
		zap.Int("modifier", roll.Modifier),
		zap.Int("total", roll.Total()),
	)
	return roll
}
