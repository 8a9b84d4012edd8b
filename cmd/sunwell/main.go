// Command sunwell runs a single goal to completion through the execution
// kernel (spec §6 "Goal CLI surface").
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaisdk "github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/lbliii/sunwell/internal/backlog"
	"github.com/lbliii/sunwell/internal/config"
	"github.com/lbliii/sunwell/internal/eventbus"
	"github.com/lbliii/sunwell/internal/execution"
	"github.com/lbliii/sunwell/internal/goal"
	"github.com/lbliii/sunwell/internal/identity"
	"github.com/lbliii/sunwell/internal/lens"
	"github.com/lbliii/sunwell/internal/memory"
	"github.com/lbliii/sunwell/internal/memory/longterm"
	"github.com/lbliii/sunwell/internal/mirror"
	"github.com/lbliii/sunwell/internal/model"
	anthropicprovider "github.com/lbliii/sunwell/internal/model/providers/anthropic"
	openaiprovider "github.com/lbliii/sunwell/internal/model/providers/openai"
	"github.com/lbliii/sunwell/internal/patterns"
	"github.com/lbliii/sunwell/internal/planner"
	"github.com/lbliii/sunwell/internal/sunerr"
	"github.com/lbliii/sunwell/internal/telemetry"
)

// Exit codes (spec §6).
const (
	exitSuccess       = 0
	exitGoalFailure   = 1
	exitConfigInvalid = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		planOnly    = flag.Bool("plan", false, "dry run: emit the artifact DAG only, do not execute")
		providerF   = flag.String("provider", "anthropic", "model provider: openai|anthropic|ollama")
		modelF      = flag.String("model", "", "session default model id (Lens routing preferences and tracked model performance take precedence)")
		timeF       = flag.Int("time", 0, "overall goal timeout in seconds (0 = no limit)")
		trustF      = flag.String("trust", "", "tool trust level: read_only|workspace|shell (overrides config)")
		mirrorF     = flag.Bool("mirror", false, "enable self-introspection tools")
		routingF    = flag.Bool("model-routing", false, "enable Lens-driven model routing (overrides config)")
		noIdentityF = flag.Bool("no-identity", false, "disable the identity tracker")
		lensPathF   = flag.String("lens", "", "path to a Lens YAML file")
		configPathF = flag.String("config", "", "path to a config YAML file")
		workdirF    = flag.String("workdir", ".", "working directory root (backlog, identity, mirror backups)")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: sunwell [flags] \"<goal>\"")
		return exitConfigInvalid
	}
	goalDescription := flag.Arg(0)

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sunwell: logger init: "+err.Error())
		return exitConfigInvalid
	}
	defer logger.Sync()
	log := telemetry.NewZapLogger(logger)

	cfg := config.Default()
	if *configPathF != "" {
		loaded, err := config.Load(*configPathF)
		if err != nil {
			fmt.Fprintln(os.Stderr, "sunwell: config: "+err.Error())
			return exitConfigInvalid
		}
		cfg = loaded
	}
	if *trustF != "" {
		cfg.TrustLevel = *trustF
	}
	if *routingF {
		cfg.ModelRouting.Enabled = true
	}
	if *noIdentityF {
		cfg.Identity.Enabled = false
	}

	l := &lens.Lens{}
	if *lensPathF != "" {
		loaded, err := lens.Load(*lensPathF)
		if err != nil {
			fmt.Fprintln(os.Stderr, "sunwell: lens: "+err.Error())
			return exitConfigInvalid
		}
		l = loaded
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		log.Info(ctx, "signal received, cancelling goal")
		cancel()
	}()

	if *timeF > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = contextWithSeconds(ctx, *timeF)
		defer timeoutCancel()
	}

	router, err := buildRouter(*providerF, *modelF)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sunwell: model provider: "+err.Error())
		return exitConfigInvalid
	}
	routing := l.RoutingConfig()
	routing.Enabled = cfg.ModelRouting.Enabled && (routing.Enabled || *routingF)
	completer := &model.RouterCompleter{Router: router, Config: routing}

	bl, err := backlog.Open(*workdirF)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sunwell: backlog: "+err.Error())
		return exitConfigInvalid
	}
	defer bl.Close()

	learnings, err := longterm.Open(*workdirF)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sunwell: learning log: "+err.Error())
		return exitConfigInvalid
	}
	defer learnings.Close()

	sim := memory.New(nil, nil, learnings, memory.NewProcedural(nil))

	bus := eventbus.New()
	_, _ = bus.Subscribe(eventbus.SubscriberFunc(func(ctx context.Context, event eventbus.Event) error {
		log.Info(ctx, "event", "kind", string(event.Kind), "goal_id", event.GoalID)
		return nil
	}))

	if *mirrorF {
		home, _ := os.UserHomeDir()
		_ = mirror.New(home+"/.sunwell/mirror_backups", nil)
		// Introspection/proposal tool wiring is driven by the caller that
		// embeds this binary as a library; the bare CLI only acknowledges
		// the flag and keeps Mirror available in-process.
		log.Info(ctx, "mirror enabled")
	}

	if cfg.Identity.Enabled {
		home, _ := os.UserHomeDir()
		global, err := identity.LoadGlobal(home)
		if err == nil {
			defer func() {
				merged := identity.MergeIntoGlobal(global, identity.SessionIdentity{})
				_ = identity.SaveGlobal(home, merged)
			}()
		}
	}

	pl := planner.New(completer)

	if *planOnly {
		g := &goal.Goal{Description: goalDescription}
		ctxView, err := sim.BuildContext(ctx, g, bl.GetPendingGoals(), bl.GetCompletedArtifacts(), "")
		if err != nil {
			fmt.Fprintln(os.Stderr, "sunwell: build_context: "+err.Error())
			return exitConfigInvalid
		}
		plan, err := pl.Plan(ctx, g, ctxView, l)
		if err != nil {
			fmt.Fprintln(os.Stderr, "sunwell: plan: "+err.Error())
			return exitGoalFailure
		}
		for _, a := range plan.Artifacts {
			fmt.Printf("%s\t%s\trequires=%v\n", a.ID, a.Description, a.Requires)
		}
		return exitSuccess
	}

	selector := defaultPatternSelector(completer, l)
	mgr := execution.New(bl, sim, pl, l, bus, selector)

	result, err := mgr.RunGoal(ctx, &goal.Goal{Description: goalDescription}, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, "sunwell: "+err.Error())
		var serr *sunerr.Error
		if errors.As(err, &serr) && serr.CategoryName == sunerr.CategoryConfig {
			return exitConfigInvalid
		}
		return exitGoalFailure
	}
	if !result.Success {
		fmt.Fprintln(os.Stderr, "sunwell: goal failed: "+result.Error)
		return exitGoalFailure
	}

	fmt.Printf("goal complete: %d artifacts created\n", len(result.GoalResult.ArtifactsCreated))
	return exitSuccess
}

func contextWithSeconds(parent context.Context, seconds int) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, time.Duration(seconds)*time.Second)
}

// defaultPatternSelector assigns GroundedDebate to every artifact, the
// safest general-purpose Compound Pattern when a Lens does not specify
// per-artifact routing (spec §4.5, §4.6).
func defaultPatternSelector(completer patterns.Completer, l *lens.Lens) execution.PatternSelector {
	registry := patterns.ValidatorRegistry{}
	debate := patterns.NewGroundedDebate(completer, registry)
	return func(a *goal.Artifact) patterns.Pattern {
		return debate
	}
}

// buildRouter constructs a model.Router with a single provider client
// selected by name, using API keys from the provider's standard
// environment variable (spec §4.3 "one of openai|anthropic|ollama").
func buildRouter(provider, modelOverride string) (*model.Router, error) {
	clients := make(map[string]model.Client)

	switch provider {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required for --provider anthropic")
		}
		sdkClient := anthropicsdk.NewClient(anthropicoption.WithAPIKey(apiKey))
		defaultModel := modelOverride
		if defaultModel == "" {
			defaultModel = "claude-sonnet-4-5"
		}
		c, err := anthropicprovider.New(&sdkClient.Messages, defaultModel, 4096)
		if err != nil {
			return nil, err
		}
		clients["anthropic"] = c
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required for --provider openai")
		}
		sdkClient := openaisdk.NewClient(openaioption.WithAPIKey(apiKey))
		defaultModel := modelOverride
		if defaultModel == "" {
			defaultModel = "gpt-4o"
		}
		c, err := openaiprovider.New(&sdkClient.Chat.Completions, defaultModel)
		if err != nil {
			return nil, err
		}
		clients["openai"] = c
	case "ollama":
		return nil, errors.New("ollama provider requires a local endpoint; set --model and wire a Client in an embedding application")
	case "bedrock":
		return nil, errors.New("bedrock provider requires an AWS config; construct one with config.LoadDefaultConfig and wire bedrockprovider.New in an embedding application")
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	return model.NewRouter(clients, modelOverride), nil
}
