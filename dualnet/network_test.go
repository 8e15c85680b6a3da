package dual

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func smallConfig() Config {
	conf := DefaultConf(3, 4, 2, 4)
	conf.BatchSize = 2
	conf.K = 4
	conf.SharedLayers = 1
	conf.FC = 8
	return conf
}

func TestDefaultConfIsValid(t *testing.T) {
	conf := smallConfig()
	assert.True(t, conf.IsValid())
}

func TestNewBuildsForwardOnlyGraph(t *testing.T) {
	conf := smallConfig()
	conf.FwdOnly = true
	d := New(conf)
	require.NoError(t, d.Init())

	backing := make([]float32, conf.BatchSize*conf.Features*conf.Height*conf.Width)
	xs := tensor.New(tensor.WithShape(conf.BatchSize, conf.Features, conf.Height, conf.Width), tensor.WithBacking(backing))

	values, policies, err := d.Predict(xs)
	require.NoError(t, err)
	assert.Len(t, values, conf.BatchSize)
	assert.Len(t, policies, conf.BatchSize*conf.ActionSpace)
}

func trainableSmallConfig() Config {
	conf := DefaultConf(3, 4, 2, 4)
	conf.BatchSize = 4
	conf.EvalBatchSize = 6
	conf.K = 4
	conf.SharedLayers = 1
	conf.FC = 8
	return conf
}

func TestPredictOnTrainableNetworkPadsToEvalBatchSize(t *testing.T) {
	conf := trainableSmallConfig()
	d := New(conf)
	require.NoError(t, d.Init())

	n := 2
	backing := make([]float32, n*conf.Features*conf.Height*conf.Width)
	xs := tensor.New(tensor.WithShape(n, conf.Features, conf.Height, conf.Width), tensor.WithBacking(backing))

	values, policies, err := d.Predict(xs)
	require.NoError(t, err)
	assert.Len(t, values, n)
	assert.Len(t, policies, n*conf.ActionSpace)
}

func TestPredictAfterTrainStepReturnsOneRowPerInput(t *testing.T) {
	conf := trainableSmallConfig()
	d := New(conf)
	require.NoError(t, d.Init())

	batch := conf.BatchSize
	xsBacking := make([]float32, batch*conf.Features*conf.Height*conf.Width)
	xs := tensor.New(tensor.WithShape(batch, conf.Features, conf.Height, conf.Width), tensor.WithBacking(xsBacking))
	policiesBacking := make([]float32, batch*conf.ActionSpace)
	for i := range policiesBacking {
		policiesBacking[i] = 1.0 / float32(conf.ActionSpace)
	}
	policies := tensor.New(tensor.WithShape(batch, conf.ActionSpace), tensor.WithBacking(policiesBacking))
	valuesBacking := make([]float32, batch)
	values := tensor.New(tensor.WithShape(batch), tensor.WithBacking(valuesBacking))

	require.NoError(t, Train(d, xs, policies, values, 1, 1))

	n := 3
	predictBacking := make([]float32, n*conf.Features*conf.Height*conf.Width)
	predictXs := tensor.New(tensor.WithShape(n, conf.Features, conf.Height, conf.Width), tensor.WithBacking(predictBacking))

	predictedValues, predictedPolicies, err := d.Predict(predictXs)
	require.NoError(t, err)
	assert.Len(t, predictedValues, n)
	assert.Len(t, predictedPolicies, n*conf.ActionSpace)
}

func TestCheckpointRoundTrip(t *testing.T) {
	conf := smallConfig()
	conf.FwdOnly = true

	d := New(conf)
	require.NoError(t, d.Init())
	data, err := d.GobEncode()
	require.NoError(t, err)

	d2 := New(conf)
	require.NoError(t, d2.Init())
	require.NoError(t, d2.GobDecode(data))

	require.Equal(t, len(d.Learnables()), len(d2.Learnables()))
}
