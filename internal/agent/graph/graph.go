package graph

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/falaai/server/internal/agent/graph/nodes"
	"github.com/falaai/server/internal/agent/graph/observers"
	"github.com/falaai/server/internal/agent/model"
	errx "github.com/falaai/server/internal/core/error"
	"github.com/falaai/server/internal/metrics"
	logx "github.com/falaai/server/pkg/logger"
)

// Runner is a thin wrapper to execute the compiled graph with the public ChatInput.
type Runner interface {
	Invoke(ctx context.Context, in model.ChatInput) (string, error)
}

// GraphConfig holds all configuration needed to build the graph
type GraphConfig struct {
	ChatModels   *nodes.ChatModels
	PromptConfig *model.ChatPromptConfig
	Metrics      *metrics.Metrics
}

// GraphBuilder handles the construction of the chat graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.ChatInput, *schema.Message]
}

type graphRunner struct {
	runnable  compose.Runnable[model.ChatInput, *schema.Message]
	modelName string
	metrics   *metrics.Metrics
}

func (r *graphRunner) Invoke(ctx context.Context, in model.ChatInput) (string, error) {
	out, err := r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		r.metrics.ObserveLLMCall(r.modelName, "error", 0)
		return "", errx.WrapLLM(err)
	}
	if out == nil {
		r.metrics.ObserveLLMCall(r.modelName, "empty", 0)
		return "", nil
	}
	cost, _ := out.Extra[nodes.UsageCostTotalKey].(float64)
	r.metrics.ObserveLLMCall(r.modelName, "ok", cost)
	return out.Content, nil
}

// BuildChatGraph compiles the chat graph and returns a Runner.
func BuildChatGraph(ctx context.Context, config *GraphConfig) (Runner, error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.ChatModels == nil || config.ChatModels.Chat == nil {
		return nil, fmt.Errorf("chat models are not properly initialized")
	}
	if config.PromptConfig == nil {
		return nil, fmt.Errorf("prompt config is nil")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.ChatInput, *schema.Message](
			compose.WithGenLocalState(func(ctx context.Context) *model.AppState {
				return &model.AppState{}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}

	runnable, err := builder.compile(ctx)
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Chat graph built successfully")
	return &graphRunner{
		runnable:  runnable,
		modelName: config.ChatModels.ChatModelName,
		metrics:   config.Metrics,
	}, nil
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	if err := b.graph.AddLambdaNode(nodes.NodeInputConverter,
		nodes.NewInputConverterNode(b.config.PromptConfig),
		compose.WithStatePreHandler(nodes.NewInputConverterPreHandler()),
	); err != nil {
		return fmt.Errorf("add input converter node: %w", err)
	}

	if err := b.graph.AddChatModelNode(nodes.NodeChatModel,
		b.config.ChatModels.Chat,
		compose.WithStatePostHandler(nodes.NewChatModelPostHandler(b.config.ChatModels.ChatModelName)),
	); err != nil {
		return fmt.Errorf("add chat model node: %w", err)
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeInputConverter},
		{nodes.NodeInputConverter, nodes.NodeChatModel},
		{nodes.NodeChatModel, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return fmt.Errorf("add edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.ChatInput, *schema.Message], error) {
	runnable, err := b.graph.Compile(ctx, compose.WithGraphName("chat"), compose.WithMaxRunSteps(10))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}
	return runnable, nil
}
