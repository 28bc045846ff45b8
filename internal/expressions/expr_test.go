package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowcanvas/pkg/schema"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.Equal(t, "expr", e.Name())
}

func TestExpr_Evaluate(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"a": 10, "b": 3, "tags": []any{"x", "y"}}

	out, err := e.Evaluate(context.Background(), "a + b", data)
	require.NoError(t, err)
	assert.Equal(t, 13, out)

	out, err = e.Evaluate(context.Background(), `"y" in tags`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), `missing ?? "fallback"`, data)
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestExpr_Errors(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), "a +", map[string]any{"a": 1})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = e.Match(context.Background(), "1 + 1", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestExpr_SelectNodes(t *testing.T) {
	e := NewExprEngine()
	nodes := []*schema.Node{
		{ID: "start", Kind: schema.NodeKindStart, IsConfigured: true},
		{ID: "sms1", Kind: schema.NodeKindSMS},
		{ID: "sms2", Kind: schema.NodeKindSMS, IsConfigured: true, Config: map[string]any{"template": "promo"}},
		{ID: "wait", Kind: schema.NodeKindWait, Position: schema.Point{Y: 600}},
	}
	ctx := context.Background()

	ids, err := e.SelectNodes(ctx, `kind == "sms" && !isConfigured`, nodes)
	require.NoError(t, err)
	assert.Equal(t, []string{"sms1"}, ids)

	ids, err = e.SelectNodes(ctx, `config.template == "promo"`, nodes)
	require.NoError(t, err)
	assert.Equal(t, []string{"sms2"}, ids)

	ids, err = e.SelectNodes(ctx, `y > 500`, nodes)
	require.NoError(t, err)
	assert.Equal(t, []string{"wait"}, ids)

	ids, err = e.SelectNodes(ctx, `kind == "email"`, nodes)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NotNil(t, ids)
}
