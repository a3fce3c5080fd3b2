package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Kamino-Finance/kliquidity-sdk-sub001/lib/journal"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Submitter signs and sends the instructions of one step and waits for
// confirmation.
type Submitter interface {
	Submit(ctx context.Context, planID uuid.UUID, step StepKind, ixs []solana.Instruction, lookupTable *solana.PublicKey) (solana.Signature, error)
}

type Journal interface {
	Load(ctx context.Context, planID uuid.UUID) (journal.Progress, error)
	Save(ctx context.Context, p journal.Progress) error
}

// StepError reports the step a plan stopped at.
type StepError struct {
	PlanID uuid.UUID
	Step   Step
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("plan %s step %d (%s): %v", e.PlanID, e.Step.Index, e.Step.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Execution runs plans step by step and journals each landed step, so a
// failed plan resumes where it stopped when it is executed again.
type Execution struct {
	submitter Submitter
	journal   Journal
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewExecution(submitter Submitter, j Journal, log logrus.FieldLogger) *Execution {
	if j == nil {
		j = journal.NewMemory()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Execution{submitter: submitter, journal: j, log: log, now: time.Now}
}

func (e *Execution) Run(ctx context.Context, plan *Plan) (journal.Progress, error) {
	progress, err := e.journal.Load(ctx, plan.ID)
	switch {
	case errors.Is(err, journal.ErrNotFound):
		progress = journal.NewProgress(plan.ID, plan.Strategy, len(plan.Steps))
	case err != nil:
		return journal.Progress{}, err
	}
	log := e.log.WithFields(logrus.Fields{
		"strategy": plan.Strategy.String(),
		"plan":     plan.ID.String(),
	})
	if progress.Done() {
		log.Info("plan already executed")
		return progress, nil
	}
	if progress.LastCompleted != journal.NoStep {
		log.WithField("last_completed", progress.LastCompleted).Info("resuming plan")
	}

	for _, step := range plan.Steps[progress.LastCompleted+1:] {
		if err := ctx.Err(); err != nil {
			return progress, err
		}
		stepLog := log.WithFields(logrus.Fields{"step": step.Index, "kind": step.Kind.String()})

		ixs, err := step.Build(ctx)
		if err != nil {
			stepLog.WithError(err).Error("building step failed")
			return progress, &StepError{PlanID: plan.ID, Step: step, Err: err}
		}
		sig, err := e.submitter.Submit(ctx, plan.ID, step.Kind, ixs, plan.LookupTable)
		if err != nil {
			stepLog.WithError(err).Error("submitting step failed")
			return progress, &StepError{PlanID: plan.ID, Step: step, Err: err}
		}

		progress.LastCompleted = step.Index
		progress.Signatures = append(progress.Signatures, sig)
		progress.UpdatedAt = e.now()
		if err := e.journal.Save(ctx, progress); err != nil {
			return progress, fmt.Errorf("journal step %d of plan %s: %w", step.Index, plan.ID, err)
		}
		stepLog.WithField("signature", sig.String()).Info("step confirmed")
	}
	return progress, nil
}
