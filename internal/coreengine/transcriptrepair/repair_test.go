package transcriptrepair

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oral-eval-platform/internal/config"
	"oral-eval-platform/internal/coreengine/credentialpool"
	"oral-eval-platform/internal/coreengine/responseparser"
	"oral-eval-platform/internal/coreengine/rotation"
	"oral-eval-platform/internal/coreengine/scoringprovider"
)

type fakeEvaluator struct {
	parsed map[string]interface{}
	err    error

	calls   int
	parts   []scoringprovider.Part
	queue   []credentialpool.Credential
	models  []string
	lastTmp float64
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, parts []scoringprovider.Part, queue []credentialpool.Credential, models []string, temperature float64) (*rotation.Result, error) {
	f.calls++
	f.parts = parts
	f.queue = queue
	f.models = models
	f.lastTmp = temperature
	if f.err != nil {
		return nil, f.err
	}
	return &rotation.Result{Parsed: f.parsed}, nil
}

func newTestRepairer(eval Evaluator) *Repairer {
	return New(eval, config.DefaultPipeline())
}

func cred() credentialpool.Credential {
	return credentialpool.Credential{ID: 1, APIKey: "key-1"}
}

func seg(duration float64) Segment {
	return Segment{Audio: []byte("audio"), MIMEType: "audio/wav", Duration: duration}
}

func TestRepair_FillsMissingTranscripts(t *testing.T) {
	eval := &fakeEvaluator{parsed: map[string]interface{}{
		"transcripts": map[string]interface{}{
			"q1": "I grew up in a small coastal town.",
		},
	}}
	r := newTestRepairer(eval)

	transcripts := map[string]string{"q1": "", "q2": "Already transcribed."}
	segments := map[string]Segment{"q1": seg(3.2), "q2": seg(4.0)}

	out := r.Repair(context.Background(), transcripts, segments, cred(), "scout-pro")

	assert.Equal(t, "I grew up in a small coastal town.", out["q1"])
	assert.Equal(t, "Already transcribed.", out["q2"])
	assert.Equal(t, 1, eval.calls)
	assert.Equal(t, []string{"scout-pro"}, eval.models)
	require.Len(t, eval.queue, 1)
	assert.Equal(t, 1, eval.queue[0].ID)
	assert.Equal(t, repairTemperature, eval.lastTmp)
}

func TestRepair_SentinelTreatedAsMissing(t *testing.T) {
	eval := &fakeEvaluator{parsed: map[string]interface{}{
		"transcripts": map[string]interface{}{"q1": "Actual words this time."},
	}}
	r := newTestRepairer(eval)

	transcripts := map[string]string{"q1": responseparser.NoSpeechSentinel}
	segments := map[string]Segment{"q1": seg(2.0)}

	out := r.Repair(context.Background(), transcripts, segments, cred(), "scout-pro")
	assert.Equal(t, "Actual words this time.", out["q1"])
}

func TestRepair_NoCandidatesSkipsProviderCall(t *testing.T) {
	eval := &fakeEvaluator{}
	r := newTestRepairer(eval)

	transcripts := map[string]string{"q1": "fine", "q2": "also fine"}
	segments := map[string]Segment{"q1": seg(2.0), "q2": seg(2.0)}

	out := r.Repair(context.Background(), transcripts, segments, cred(), "scout-pro")
	assert.Equal(t, transcripts, out)
	assert.Equal(t, 0, eval.calls)
}

func TestRepair_FiltersShortAndSilentSegments(t *testing.T) {
	eval := &fakeEvaluator{parsed: map[string]interface{}{
		"transcripts": map[string]interface{}{"q3": "Long enough to transcribe."},
	}}
	r := newTestRepairer(eval)

	transcripts := map[string]string{"q1": "", "q2": "", "q3": ""}
	segments := map[string]Segment{
		"q1": seg(0.3),
		"q2": {MIMEType: "audio/wav", Duration: 5.0},
		"q3": seg(1.5),
	}

	out := r.Repair(context.Background(), transcripts, segments, cred(), "scout-pro")

	assert.Equal(t, "", out["q1"])
	assert.Equal(t, "", out["q2"])
	assert.Equal(t, "Long enough to transcribe.", out["q3"])
	// Only q3 survives filtering: one instruction part plus one label/audio pair.
	require.Equal(t, 1, eval.calls)
	assert.Len(t, eval.parts, 3)
}

func TestRepair_CapsCandidateSet(t *testing.T) {
	parsed := map[string]interface{}{"transcripts": map[string]interface{}{}}
	eval := &fakeEvaluator{parsed: parsed}
	r := newTestRepairer(eval)

	transcripts := make(map[string]string)
	segments := make(map[string]Segment)
	for i := 0; i < 12; i++ {
		key := string(rune('a' + i))
		transcripts[key] = ""
		segments[key] = seg(2.0)
	}

	r.Repair(context.Background(), transcripts, segments, cred(), "scout-pro")

	require.Equal(t, 1, eval.calls)
	assert.Len(t, eval.parts, 1+2*config.DefaultPipeline().RepairMaxSegments)
}

func TestRepair_FailureKeepsOriginals(t *testing.T) {
	eval := &fakeEvaluator{err: errors.New("provider unavailable")}
	r := newTestRepairer(eval)

	transcripts := map[string]string{"q1": "", "q2": "keep me"}
	segments := map[string]Segment{"q1": seg(2.0), "q2": seg(2.0)}

	out := r.Repair(context.Background(), transcripts, segments, cred(), "scout-pro")
	assert.Equal(t, transcripts, out)
}

func TestRepair_EmptyRepairNeverRegresses(t *testing.T) {
	eval := &fakeEvaluator{parsed: map[string]interface{}{
		"transcripts": map[string]interface{}{"q1": "   "},
	}}
	r := newTestRepairer(eval)

	transcripts := map[string]string{"q1": responseparser.NoSpeechSentinel}
	segments := map[string]Segment{"q1": seg(2.0)}

	out := r.Repair(context.Background(), transcripts, segments, cred(), "scout-pro")
	assert.Equal(t, responseparser.NoSpeechSentinel, out["q1"])
}
