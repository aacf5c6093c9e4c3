package engine

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/factors"
	"github.com/opensource-finance/kestrel/internal/models"
)

// scorer is the shape shared by transaction and biometric models.
type scorer[F any] interface {
	Name() string
	Base() float64
	Score(f *F) models.Outcome
}

type modelRun struct {
	idx      int
	out      models.Outcome
	panicked bool
}

// runModels scores f with every model in its own goroutine and joins them
// before the deadline. A model that misses it, or panics, reports its base
// score and is named in the returned list. Caller cancellation does not cut
// the join short; only the deadline does.
func runModels[F any, M scorer[F]](timeout time.Duration, ms []M, f *F) ([]models.Outcome, []string) {
	results := make(chan modelRun, len(ms))
	for i, m := range ms {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("model panicked", "model", m.Name(), "panic", r)
					results <- modelRun{idx: i, panicked: true}
				}
			}()
			results <- modelRun{idx: i, out: m.Score(f)}
		}()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	outs := make([]models.Outcome, len(ms))
	done := make([]bool, len(ms))
wait:
	for received := 0; received < len(ms); received++ {
		select {
		case r := <-results:
			if !r.panicked {
				outs[r.idx] = r.out
				done[r.idx] = true
			}
		case <-timer.C:
			break wait
		}
	}

	var missed []string
	for i, ok := range done {
		if !ok {
			outs[i] = models.Outcome{Score: ms[i].Base()}
			missed = append(missed, ms[i].Name())
		}
	}
	return outs, missed
}

// assemble turns model outcomes into an assessment. It is a pure function of
// its inputs and the loaded factor rules. When missed models stood in with
// their base score, confidence is scaled by the share of models that reported
// and the assessment is always marked low-confidence.
func (e *Engine) assemble(ctx context.Context, tenantID string, kind domain.ResultKind, names []string, outs []models.Outcome, missed int,
	comb *ensemble.Combiner, activation func(scores []domain.ModelScore, c ensemble.Combination) map[string]any) domain.Assessment {

	scores := make([]domain.ModelScore, len(outs))
	var triggers []models.Trigger
	for i, out := range outs {
		out.Score = models.Clamp(out.Score)
		scores[i] = out.ModelScore(names[i])
		triggers = append(triggers, out.Triggers...)
	}

	c := comb.Combine(scores)
	verdict, action := e.classifier.Classify(c.Score)
	if missed > 0 {
		c.Confidence *= float64(len(outs)-missed) / float64(len(outs))
	}

	riskFactors := e.extractor.Extract(ctx, factors.Input{
		TenantID:   tenantID,
		Kind:       kind,
		Scores:     scores,
		Triggers:   triggers,
		Activation: activation(scores, c),
	})
	if riskFactors == nil {
		riskFactors = []string{}
	}

	return domain.Assessment{
		ModelScores:       scores,
		EnsembleScore:     c.Score,
		Confidence:        c.Confidence,
		LowConfidence:     missed > 0 || c.Confidence < e.cfg.LowConfidence,
		Verdict:           verdict,
		RiskFactors:       riskFactors,
		RecommendedAction: action,
	}
}

func (e *Engine) assessTransaction(ctx context.Context, tenantID string, rec *domain.TransactionRecord) (domain.Assessment, domain.ResultMetadata, bool) {
	ctx = context.WithoutCancel(ctx)
	f := e.normalizer.Transaction(rec)
	outs, missed := runModels(e.cfg.Timeout, e.txModels, &f)

	names := make([]string, len(e.txModels))
	for i, m := range e.txModels {
		names[i] = m.Name()
	}

	a := e.assemble(ctx, tenantID, domain.KindTransaction, names, outs, len(missed), e.txComb,
		func(scores []domain.ModelScore, c ensemble.Combination) map[string]any {
			return factors.TransactionActivation(rec, &f, scores, c.Score, c.Confidence)
		})

	meta := domain.ResultMetadata{HistoryTruncated: f.HistoryTruncated, TimedOutModels: missed}
	return a, meta, len(missed) > 0
}

func (e *Engine) assessBiometric(ctx context.Context, tenantID string, sample *domain.BiometricSample) (domain.Assessment, domain.ResultMetadata, bool) {
	ctx = context.WithoutCancel(ctx)
	f := e.normalizer.Biometric(sample, nil)
	outs, missed := runModels(e.cfg.Timeout, e.bioModels, &f)

	names := make([]string, len(e.bioModels))
	for i, m := range e.bioModels {
		names[i] = m.Name()
	}

	a := e.assemble(ctx, tenantID, domain.KindBiometric, names, outs, len(missed), e.bioComb,
		func(scores []domain.ModelScore, c ensemble.Combination) map[string]any {
			return factors.BiometricActivation(&f, scores, c.Score, c.Confidence)
		})

	return a, domain.ResultMetadata{TimedOutModels: missed}, len(missed) > 0
}

func assessmentsEqual(a, b *domain.Assessment) bool {
	if a.EnsembleScore != b.EnsembleScore ||
		a.Confidence != b.Confidence ||
		a.LowConfidence != b.LowConfidence ||
		a.Verdict != b.Verdict ||
		a.RecommendedAction != b.RecommendedAction ||
		!slices.Equal(a.RiskFactors, b.RiskFactors) ||
		len(a.ModelScores) != len(b.ModelScores) {
		return false
	}
	for i := range a.ModelScores {
		x, y := a.ModelScores[i], b.ModelScores[i]
		if x.Model != y.Model || x.Score != y.Score || !slices.Equal(x.Factors, y.Factors) {
			return false
		}
	}
	return true
}
