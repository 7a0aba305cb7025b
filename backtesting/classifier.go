package backtesting

import (
	"strings"

	"github.com/Masterminds/semver"
	"github.com/pkg/errors"

	"github.com/phylaxsystems/credible-backtest/backtesting/config"
)

// OutcomeKind identifies the category a replayed transaction falls into.
type OutcomeKind int

const (
	// OutcomeSuccess indicates the transaction replayed successfully under the assertion.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeSkipped indicates the assertion's trigger selector did not match the transaction's call pattern.
	OutcomeSkipped
	// OutcomeReplayFailure indicates the transaction reverted before the assertion could execute. This is a
	// pre-state/context problem, not a protocol violation.
	OutcomeReplayFailure
	// OutcomeAssertionFailed indicates the assertion logic reverted: a genuine protocol violation.
	OutcomeAssertionFailed
	// OutcomeUnknownError indicates the replay could not be carried out at all (e.g. executor transport failure).
	OutcomeUnknownError
)

// String returns a short human-readable label for the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeReplayFailure:
		return "replay failure"
	case OutcomeAssertionFailed:
		return "assertion failed"
	case OutcomeUnknownError:
		return "unknown error"
	default:
		return "invalid outcome"
	}
}

// ValidationOutcome is the tagged result of replaying one transaction.
type ValidationOutcome struct {
	// Kind is the outcome category.
	Kind OutcomeKind

	// Message is an optional human-readable error message.
	Message string

	// IsProtocolViolation is true if and only if Kind is OutcomeAssertionFailed.
	IsProtocolViolation bool
}

// OutcomeClassifier maps an execution result onto a ValidationOutcome. The classification depends on exact
// revert-message prefixes emitted by the external assertion executor, so the prefix tables are injected through
// ValidationConfig rather than hard-coded into the replay loop.
type OutcomeClassifier func(success bool, revertMessage string) ValidationOutcome

// supportedExecutorVersions is the semver range of assertion executor releases whose revert-message wording the
// default prefix tables were verified against. The matched strings are an external, versioned contract: a version
// outside this range must be rejected rather than silently matched against stale strings.
const supportedExecutorVersions = ">= 0.1.0, < 2.0.0"

// NewOutcomeClassifier constructs a classifier from the given validation configuration. The configured executor
// version is validated against the supported range.
func NewOutcomeClassifier(cfg config.ValidationConfig) (OutcomeClassifier, error) {
	version, err := semver.NewVersion(cfg.ExecutorVersion)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid executor version %q", cfg.ExecutorVersion)
	}
	supportedRange, err := semver.NewConstraint(supportedExecutorVersions)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !supportedRange.Check(version) {
		return nil, errors.Errorf("executor version %s is outside the supported range %q: the revert-message prefix tables must be re-verified against it", version, supportedExecutorVersions)
	}

	skippedPrefixes := cfg.SkippedPrefixes
	replayFailurePrefixes := cfg.ReplayFailurePrefixes

	return func(success bool, revertMessage string) ValidationOutcome {
		if success {
			return ValidationOutcome{Kind: OutcomeSuccess}
		}
		for _, prefix := range replayFailurePrefixes {
			if strings.HasPrefix(revertMessage, prefix) {
				return ValidationOutcome{Kind: OutcomeReplayFailure, Message: revertMessage}
			}
		}
		for _, prefix := range skippedPrefixes {
			if strings.HasPrefix(revertMessage, prefix) {
				return ValidationOutcome{Kind: OutcomeSkipped, Message: revertMessage}
			}
		}
		// Any unrecognized revert is treated as a potential protocol violation rather than silently discarded.
		return ValidationOutcome{
			Kind:                OutcomeAssertionFailed,
			Message:             revertMessage,
			IsProtocolViolation: true,
		}
	}, nil
}
