package pipeline

import (
	"context"
	"log/slog"
	"time"

	xerrors "ChemResponse-Chain/internal/errors"
	"ChemResponse-Chain/internal/llm"
	"ChemResponse-Chain/internal/pipeline/jsonrepair"
)

// StageOutcome 记录一个阶段的执行情况。
type StageOutcome struct {
	Stage     Stage
	Responses int
	// Rejected 为未找到 JSON 区间的回复数。
	Rejected int
	Accepted int
	Fallback bool
	Paths    []jsonrepair.Path
	// Err 为协作方返回的错误，已被流水线吸收。
	Err      error
	Duration time.Duration
}

// Observer 在每个阶段结束后收到通知。
type Observer interface {
	StageFinished(ctx context.Context, outcome StageOutcome)
}

// ObserverFunc 允许把普通函数当作 Observer 使用。
type ObserverFunc func(ctx context.Context, outcome StageOutcome)

// StageFinished 实现 Observer。
func (f ObserverFunc) StageFinished(ctx context.Context, outcome StageOutcome) {
	f(ctx, outcome)
}

// Result 是一次完整运行的产物。
type Result struct {
	Final State
	// Snapshots 为每个阶段结束后的状态，按阶段顺序排列。
	Snapshots []State
	Outcomes  []StageOutcome
}

// Pipeline 依次执行三个阶段，把前序结果带入后续提示。
type Pipeline struct {
	client       llm.Client
	numResponses int
	logger       *slog.Logger
	observers    []Observer
}

// Option 配置 Pipeline。
type Option func(*Pipeline)

// WithNumResponses 设置每个阶段的采样数。
func WithNumResponses(n int) Option {
	return func(p *Pipeline) {
		p.numResponses = n
	}
}

// WithLogger 指定日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver 注册阶段观察者。
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// New 创建流水线。
func New(client llm.Client, opts ...Option) (*Pipeline, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "llm client is required")
	}
	p := &Pipeline{client: client, numResponses: 1, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.numResponses < 1 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "numResponses must be positive")
	}
	return p, nil
}

// Run 从 initial 所处的阶段开始执行到结束。单个阶段的失败不会中断运行；
// 只有阶段索引越界或 ctx 被取消时返回错误，此时 Result 包含已完成的阶段。
func (p *Pipeline) Run(ctx context.Context, initial State) (*Result, error) {
	if initial.StageIndex < 0 || initial.StageIndex > NumStages {
		return nil, invalidStage(initial.Stage())
	}
	res := &Result{Final: initial.Clone()}
	for !res.Final.Done() {
		if err := ctx.Err(); err != nil {
			return res, xerrors.Wrap(xerrors.CodeTimeout, err, "pipeline cancelled",
				xerrors.WithStage(res.Final.Stage().String()))
		}
		next, outcome, err := p.Step(ctx, res.Final)
		if err != nil {
			return res, err
		}
		res.Final = next
		res.Snapshots = append(res.Snapshots, next)
		res.Outcomes = append(res.Outcomes, outcome)
	}
	return res, nil
}

// Step 执行 state 所处的阶段并返回新状态，state 本身不会被修改。
func (p *Pipeline) Step(ctx context.Context, state State) (State, StageOutcome, error) {
	stage := state.Stage()
	if !stage.Valid() {
		return State{}, StageOutcome{}, invalidStage(stage)
	}
	start := time.Now()
	outcome := StageOutcome{Stage: stage}
	log := p.logger.With("stage", stage.String())

	prompt, err := Render(stage, state.InputText, state.Accumulated)
	if err != nil {
		return State{}, StageOutcome{}, xerrors.Wrap(xerrors.CodePipelineInvariant, err, "render prompt",
			xerrors.WithStage(stage.String()))
	}

	texts, err := p.client.Query(ctx, prompt, p.numResponses)
	if err != nil {
		log.Warn("模型调用失败，按无回复处理", "error", err)
		outcome.Err = err
		texts = nil
	}
	outcome.Responses = len(texts)

	var accepted map[string]any
	for i, text := range texts {
		candidate, ok := Extract(text)
		if !ok {
			outcome.Rejected++
			log.Debug("回复中未找到 JSON", "index", i)
			continue
		}
		repaired := jsonrepair.Parse(candidate, stage.schema())
		outcome.Paths = append(outcome.Paths, repaired.Path)
		for field, sub := range repaired.Cut {
			log.Debug("字段在子键之后截断", "field", field, "after_key", sub)
		}
		if len(repaired.Truncated) > 0 {
			log.Debug("字段被截断，未能单独恢复", "fields", repaired.Truncated)
		}
		if !Validate(repaired.Object, stage) {
			log.Debug("回复未通过校验", "index", i, "path", repaired.Path, "found", Coverage(repaired.Object, stage))
			continue
		}
		outcome.Accepted++
		if accepted == nil {
			accepted = repaired.Object
		}
	}

	next := state.Clone()
	if accepted == nil {
		accepted = stage.fallback()
		outcome.Fallback = true
	}
	stage.merge(next.Accumulated, accepted)
	next.StageIndex++
	outcome.Duration = time.Since(start)

	level := slog.LevelInfo
	if outcome.Fallback {
		level = slog.LevelWarn
	}
	log.Log(ctx, level, "阶段完成",
		"responses", outcome.Responses,
		"accepted", outcome.Accepted,
		"fallback", outcome.Fallback,
		"paths", outcome.Paths,
		"duration", outcome.Duration,
	)
	for _, o := range p.observers {
		o.StageFinished(ctx, outcome)
	}
	return next, outcome, nil
}
