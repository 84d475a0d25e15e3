// Package rotation drives provider calls across the credential × model ×
// attempt space. The loop is strictly sequential: parallel calls against the
// same quota-limited credential would defeat quota tracking.
package rotation

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"oral-eval-platform/internal/config"
	"oral-eval-platform/internal/coreengine/credentialpool"
	"oral-eval-platform/internal/coreengine/errorclassifier"
	"oral-eval-platform/internal/coreengine/responseparser"
	"oral-eval-platform/internal/coreengine/scoringprovider"
	"oral-eval-platform/internal/logger"
)

const maxErrorDetailLen = 500

// Provider is the single network operation the orchestrator drives.
type Provider interface {
	Generate(ctx context.Context, req scoringprovider.Request) (*scoringprovider.Response, error)
}

// Pool receives the side effects of classified failures.
type Pool interface {
	MarkExhausted(cred credentialpool.Credential, modelFamily string)
	MarkInvalid(cred credentialpool.Credential)
	RecordSuccess(cred credentialpool.Credential)
	RecordFailure(cred credentialpool.Credential)
}

// Result is a successful rotation outcome: the parsed response plus which
// model and credential produced it.
type Result struct {
	Parsed     map[string]interface{}
	RawText    string
	ModelUsed  string
	Credential credentialpool.Credential
}

// Error is the aggregate failure after every (credential, model) pair has
// been exhausted. LastLabel carries the classification of the final failure
// so operators can see what the pipeline died of.
type Error struct {
	Pairs      int
	LastLabel  string
	LastDetail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("all %d credential/model combinations exhausted: last failure (%s): %s",
		e.Pairs, e.LastLabel, e.LastDetail)
}

// Orchestrator tries model × credential combinations in priority order.
type Orchestrator struct {
	provider Provider
	pool     Pool

	attemptsPerPair int
	callTimeout     time.Duration
	// backoffInitial seeds the exponential backoff between transient
	// retries; tests shrink it.
	backoffInitial time.Duration

	log *logrus.Entry
}

// NewOrchestrator builds an orchestrator with the pipeline tunables.
func NewOrchestrator(provider Provider, pool Pool, cfg config.PipelineConfig) *Orchestrator {
	return &Orchestrator{
		provider:        provider,
		pool:            pool,
		attemptsPerPair: cfg.AttemptsPerPair,
		callTimeout:     cfg.CallTimeout,
		backoffInitial:  500 * time.Millisecond,
		log:             logger.New().Module("rotation"),
	}
}

// Evaluate walks the credential queue (outer) and model priority list
// (inner), classifying each failure and reacting per its kind. It terminates
// on the first success or after exhausting every pair.
func (o *Orchestrator) Evaluate(ctx context.Context, parts []scoringprovider.Part, queue []credentialpool.Credential, models []string, temperature float64) (*Result, error) {
	if len(queue) == 0 {
		return nil, credentialpool.ErrNoCredentialsAvailable
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("model priority list is empty")
	}

	// Quota exhaustion observed during this run, keyed by queue position and
	// model family. For pool credentials this mirrors the durable flag; for
	// the user's own key it is the only record kept.
	runExhausted := make(map[int]map[string]bool)

	cur := newCursor(len(queue), len(models), o.attemptsPerPair)
	bo := o.newBackOff()
	var pairs int
	var lastLabel, lastDetail string

	for !cur.exhausted() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cred := queue[cur.cred]
		model := models[cur.model]
		family := ModelFamily(model)

		if runExhausted[cur.cred][family] {
			cur.nextModel()
			bo = o.newBackOff()
			continue
		}

		if cur.attempt == 0 {
			pairs++
		}

		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		resp, err := o.provider.Generate(callCtx, scoringprovider.Request{
			Model:       model,
			APIKey:      cred.APIKey,
			Parts:       parts,
			Temperature: temperature,
		})
		cancel()

		entry := o.log.WithFields(logrus.Fields{
			"model":         model,
			"credential_id": cred.ID,
			"user_owned":    cred.UserOwned,
			"attempt":       cur.attempt + 1,
		})

		if err != nil {
			// Transport failures and per-call timeouts get the same
			// treatment as a 503: bounded backoff, then next model.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastLabel = errorclassifier.KindTransientUnavailable.String()
			lastDetail = truncate(err.Error())
			entry.WithError(err).Warn("provider call failed before a response")
			if cur.retry() {
				if serr := o.sleep(ctx, bo.NextBackOff()); serr != nil {
					return nil, serr
				}
				continue
			}
			o.pool.RecordFailure(cred)
			cur.nextModel()
			bo = o.newBackOff()
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			result, perr := o.parseSuccess(resp.Body, model, cred)
			if perr != nil {
				// A format bug is model-specific: advance the model,
				// keep the credential.
				lastLabel = "malformed_response"
				lastDetail = truncate(perr.Error())
				entry.WithError(perr).Warn("provider returned unparseable response")
				cur.nextModel()
				bo = o.newBackOff()
				continue
			}
			o.pool.RecordSuccess(cred)
			entry.Info("evaluation call succeeded")
			return result, nil
		}

		kind := errorclassifier.Classify(resp.StatusCode, resp.Body)
		lastLabel = kind.String()
		lastDetail = truncate(resp.Body)
		entry.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"kind":   kind.String(),
		}).Warn("provider call failed")

		switch kind {
		case errorclassifier.KindTransientUnavailable:
			if cur.retry() {
				if serr := o.sleep(ctx, bo.NextBackOff()); serr != nil {
					return nil, serr
				}
				continue
			}
			o.pool.RecordFailure(cred)
			cur.nextModel()
		case errorclassifier.KindQuota:
			if runExhausted[cur.cred] == nil {
				runExhausted[cur.cred] = make(map[string]bool)
			}
			runExhausted[cur.cred][family] = true
			// The user's own key is only flagged in-memory for this run;
			// shared pool state is never mutated on its behalf.
			if !cred.UserOwned {
				o.pool.MarkExhausted(cred, family)
				o.pool.RecordFailure(cred)
			}
			cur.nextModel()
		case errorclassifier.KindInvalidCredential:
			// A rejected key is model-independent; trying its remaining
			// models would only burn time.
			if !cred.UserOwned {
				o.pool.MarkInvalid(cred)
				o.pool.RecordFailure(cred)
			}
			cur.nextCredential()
		case errorclassifier.KindNotFound:
			// The model name does not exist for this account. Not a
			// credential fault.
			cur.nextModel()
		default:
			o.pool.RecordFailure(cred)
			cur.nextModel()
		}
		bo = o.newBackOff()
	}

	return nil, &Error{Pairs: pairs, LastLabel: lastLabel, LastDetail: lastDetail}
}

func (o *Orchestrator) parseSuccess(body, model string, cred credentialpool.Credential) (*Result, error) {
	text, err := scoringprovider.ExtractText(body)
	if err != nil {
		return nil, err
	}
	parsed, err := responseparser.Parse(text)
	if err != nil {
		return nil, err
	}
	return &Result{
		Parsed:     parsed,
		RawText:    text,
		ModelUsed:  model,
		Credential: cred,
	}, nil
}

func (o *Orchestrator) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.backoffInitial
	bo.MaxElapsedTime = 0
	return bo
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string) string {
	if len(s) <= maxErrorDetailLen {
		return s
	}
	// Back off to a rune boundary so a multi-byte character in the provider
	// body is never split.
	cut := maxErrorDetailLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
