// Package transcriptrepair re-transcribes segments the main evaluation pass
// left empty. The pass is strictly additive: it can fill a missing
// transcript, it can never replace or erase one that is already present.
package transcriptrepair

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"oral-eval-platform/internal/config"
	"oral-eval-platform/internal/coreengine/credentialpool"
	"oral-eval-platform/internal/coreengine/responseparser"
	"oral-eval-platform/internal/coreengine/rotation"
	"oral-eval-platform/internal/coreengine/scoringprovider"
	"oral-eval-platform/internal/logger"
)

const repairTemperature = 0.1

const repairInstruction = `You are a careful transcription assistant. Transcribe each audio segment below verbatim.
Return ONLY a JSON object of the form {"transcripts": {"<segment key>": "<verbatim transcript>"}}.
If a segment truly contains no speech, use an empty string for it. Do not add commentary.`

// Segment is one recorded answer eligible for re-transcription.
type Segment struct {
	Audio    []byte
	MIMEType string
	Duration float64
}

// Evaluator is the rotation entry point the repair pass drives.
type Evaluator interface {
	Evaluate(ctx context.Context, parts []scoringprovider.Part, queue []credentialpool.Credential, models []string, temperature float64) (*rotation.Result, error)
}

// Repairer runs the best-effort second transcription pass.
type Repairer struct {
	orchestrator Evaluator

	minDuration float64
	maxSegments int

	log *logrus.Entry
}

// New builds a repairer with the pipeline tunables.
func New(orchestrator Evaluator, cfg config.PipelineConfig) *Repairer {
	return &Repairer{
		orchestrator: orchestrator,
		minDuration:  cfg.RepairMinDuration,
		maxSegments:  cfg.RepairMaxSegments,
		log:          logger.New().Module("transcriptrepair"),
	}
}

// Repair re-transcribes segments whose transcript is empty or the no-speech
// sentinel, using only the credential and model that already succeeded for
// this job. It returns a new transcript map; on any failure the originals
// are returned unchanged.
func (r *Repairer) Repair(ctx context.Context, transcripts map[string]string, segments map[string]Segment, cred credentialpool.Credential, model string) map[string]string {
	result := make(map[string]string, len(transcripts))
	for key, text := range transcripts {
		result[key] = text
	}

	candidates := r.selectCandidates(result, segments)
	if len(candidates) == 0 {
		return result
	}

	r.log.WithFields(logrus.Fields{
		"segments": len(candidates),
		"model":    model,
	}).Info("Running transcript repair pass")

	parts := make([]scoringprovider.Part, 0, 1+2*len(candidates))
	parts = append(parts, scoringprovider.TextPart(repairInstruction))
	for _, key := range candidates {
		seg := segments[key]
		parts = append(parts,
			scoringprovider.TextPart(fmt.Sprintf("Segment key: %s", key)),
			scoringprovider.AudioPart(seg.MIMEType, seg.Audio))
	}

	rot, err := r.orchestrator.Evaluate(ctx, parts, []credentialpool.Credential{cred}, []string{model}, repairTemperature)
	if err != nil {
		r.log.WithError(err).Warn("Transcript repair pass failed, keeping original transcripts")
		return result
	}

	repaired := extractTranscripts(rot.Parsed)
	var filled int
	for _, key := range candidates {
		text := strings.TrimSpace(repaired[key])
		if text == "" || strings.EqualFold(text, responseparser.NoSpeechSentinel) {
			continue
		}
		result[key] = text
		filled++
	}
	r.log.WithFields(logrus.Fields{
		"requested": len(candidates),
		"filled":    filled,
	}).Info("Transcript repair pass finished")
	return result
}

// selectCandidates picks the segment keys worth a second transcription
// attempt, in deterministic order, capped to bound the payload size.
func (r *Repairer) selectCandidates(transcripts map[string]string, segments map[string]Segment) []string {
	var candidates []string
	for key, seg := range segments {
		if !needsRepair(transcripts[key]) {
			continue
		}
		if len(seg.Audio) == 0 || seg.Duration < r.minDuration {
			continue
		}
		candidates = append(candidates, key)
	}
	sort.Strings(candidates)
	if r.maxSegments > 0 && len(candidates) > r.maxSegments {
		candidates = candidates[:r.maxSegments]
	}
	return candidates
}

func needsRepair(transcript string) bool {
	trimmed := strings.TrimSpace(transcript)
	return trimmed == "" || strings.EqualFold(trimmed, responseparser.NoSpeechSentinel)
}

func extractTranscripts(parsed map[string]interface{}) map[string]string {
	out := make(map[string]string)
	raw, ok := parsed["transcripts"].(map[string]interface{})
	if !ok {
		return out
	}
	for key, value := range raw {
		if text, ok := value.(string); ok {
			out[key] = text
		}
	}
	return out
}
