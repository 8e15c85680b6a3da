package trainer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLearningRateUsesHighestThresholdNotExceedingStep(t *testing.T) {
	conf := Config{LRSchedule: []LRStep{
		{Step: 0, LR: 1e-2},
		{Step: 100, LR: 1e-3},
		{Step: 200, LR: 1e-4},
	}}

	assert.Equal(t, 1e-2, conf.LearningRate(0))
	assert.Equal(t, 1e-2, conf.LearningRate(99))
	assert.Equal(t, 1e-3, conf.LearningRate(100))
	assert.Equal(t, 1e-3, conf.LearningRate(199))
	assert.Equal(t, 1e-4, conf.LearningRate(200))
	assert.Equal(t, 1e-4, conf.LearningRate(10000))
}

func TestLearningRateIgnoresScheduleOrdering(t *testing.T) {
	conf := Config{LRSchedule: []LRStep{
		{Step: 200, LR: 1e-4},
		{Step: 0, LR: 1e-2},
		{Step: 100, LR: 1e-3},
	}}
	assert.Equal(t, 1e-3, conf.LearningRate(150))
}

func TestIsValidRejectsMissingLRSchedule(t *testing.T) {
	conf := testConfig()
	conf.LRSchedule = nil
	assert.False(t, conf.IsValid())
}

func TestIsValidAcceptsWellFormedConfig(t *testing.T) {
	assert.True(t, testConfig().IsValid())
}
