package pipeline

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, p Pipeline, job Job) (int, error) {
	t.Helper()
	plan, err := p.Plan(context.Background(), job)
	require.NoError(t, err)
	plan, err = p.Style(context.Background(), job, plan)
	require.NoError(t, err)

	n := 0
	for _, err := range p.Refine(context.Background(), job, plan) {
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func TestSimulatedRunsToCap(t *testing.T) {
	dir := t.TempDir()
	sim := NewSimulated(dir, 0)

	n, err := collect(t, sim, testJob())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	f, err := os.Open(filepath.Join(dir, "run-1", "diagram_iter_3.png"))
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)
}

func TestSimulatedAcceptsEarly(t *testing.T) {
	sim := &Simulated{ImageBaseURL: "/api/images", AcceptAt: 2}
	job := testJob()

	var verdicts []string
	var lastURL string
	for outcome, err := range sim.Refine(context.Background(), job, &Plan{Description: "p"}) {
		require.NoError(t, err)
		verdicts = append(verdicts, outcome.Critique.Verdict())
		lastURL = outcome.ImageURL
	}

	assert.Equal(t, []string{"revise", "accept"}, verdicts)
	assert.Equal(t, "/api/images/run-1/diagram_iter_2.png", lastURL)
}

func TestSimulatedFailsAtIteration(t *testing.T) {
	sim := &Simulated{FailAt: 2}
	n, err := collect(t, sim, testJob())
	assert.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestSimulatedHonorsContext(t *testing.T) {
	sim := &Simulated{StepDelay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := sim.Plan(ctx, testJob())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulatedPlanKeepsIntentValidUTF8(t *testing.T) {
	job := testJob()
	job.Request.CommunicativeIntent = strings.Repeat("a", 119) + "图表说明"

	plan, err := NewSimulated("", 0).Plan(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(plan.Description))
	assert.True(t, strings.HasSuffix(plan.Description, strings.Repeat("a", 119)+"图..."))
}
